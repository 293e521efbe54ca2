//go:build mage

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	shaderSrcDir = "assets/shaders/src"
	shaderOutDir = "assets/shaders"
)

type Build mg.Namespace

// Compiles every GLSL stage under assets/shaders/src to SPIR-V.
func (Build) Shaders() error {
	return buildShaders()
}

// Compiles the shaders and then the hybridrt binary.
func (Build) Binary() error {
	mg.Deps(Build.Shaders)
	return sh.RunV("go", "build", "-o", "bin/hybridrt", ".")
}

func buildShaders() error {
	entries, err := os.ReadDir(shaderSrcDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		// includes are pulled in by the stages
		if e.IsDir() || strings.HasSuffix(name, ".glsl") {
			continue
		}
		if err := glslc(name); err != nil {
			return fmt.Errorf("compiling %s: %w", name, err)
		}
	}
	return nil
}

// glslc compiles one stage to <name>.spv, which is what the shader library
// loads. Output is only echoed with mage -v.
func glslc(name string) error {
	out := filepath.Join(shaderOutDir, name+".spv")
	return sh.Run("glslc", "--target-env=vulkan1.2", "-I", shaderSrcDir, filepath.Join(shaderSrcDir, name), "-o", out)
}
