//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

type Run mg.Namespace

// Runs a preset on the Vulkan backend, e.g. mage run:preset hybrid.
func (Run) Preset(name string) error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Printf("Run preset %s...\n", name)
	return sh.RunV("go", "run", ".", "run", "--preset", name, "--backend", "vulkan", "--frames", "0")
}

// Renders every preset headless and prints the frame reports.
func (Run) Headless() error {
	return sh.RunV("go", "run", ".", "run", "--all", "--frames", "120")
}

type Test mg.Namespace

// Runs the whole test suite with the race detector.
func (Test) All() error {
	return sh.RunV("go", "test", "-race", "./...")
}

// Runs the tests of a single package directory, e.g. mage test:pkg engine/renderer.
func (Test) Pkg(dir string) error {
	return sh.RunV("go", "test", "-v", "./"+filepath.ToSlash(filepath.Clean(dir)))
}
