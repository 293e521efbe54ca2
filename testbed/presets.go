// Package testbed holds the demo configurations the renderer ships with.
// Each preset starts from the effective settings and switches the passes
// and update modes its scenario exercises.
package testbed

import (
	"fmt"
	"sort"

	"github.com/spaghettifunk/hybridrt/engine/config"
	"github.com/spaghettifunk/hybridrt/engine/core"
)

type Preset struct {
	Name        string
	Description string
	// OrbitSpeed turns the camera, in radians per second.
	OrbitSpeed float32
	apply      func(c *config.Config)
}

// Apply switches the preset's features on top of c.
func (p Preset) Apply(c *config.Config) {
	p.apply(c)
}

func only(shadows, ao, reflections bool) func(c *config.Config) {
	return func(c *config.Config) {
		c.Features.Shadows = shadows
		c.Features.AmbientOcclusion = ao
		c.Features.Reflections = reflections
		c.Features.Animate = false
		c.Features.Accumulate = true
		c.Renderer.AsyncASUpdate = false
	}
}

var presets = map[string]Preset{
	"shadows": {
		Name:        "shadows",
		Description: "ray traced shadows over a rasterized G-buffer, static scene",
		apply:       only(true, false, false),
	},
	"ao": {
		Name:        "ao",
		Description: "ray traced ambient occlusion, accumulated while the camera rests",
		apply:       only(false, true, false),
	},
	"reflections": {
		Name:        "reflections",
		Description: "ray traced reflections on surfaces below the roughness threshold",
		apply:       only(false, false, true),
	},
	"hybrid": {
		Name:        "hybrid",
		Description: "shadows, ambient occlusion and reflections composited together",
		OrbitSpeed:  0.2,
		apply:       only(true, true, true),
	},
	"animated": {
		Name:        "animated",
		Description: "all passes with spinning instances refitting the top level structure",
		apply: func(c *config.Config) {
			only(true, true, true)(c)
			c.Features.Animate = true
			c.Features.Refit = true
		},
	},
	"async": {
		Name:        "async",
		Description: "animated scene with the top level update on the async compute queue",
		apply: func(c *config.Config) {
			only(true, true, true)(c)
			c.Features.Animate = true
			c.Features.Refit = true
			c.Renderer.AsyncASUpdate = true
		},
	},
}

// Presets returns every preset sorted by name.
func Presets() []Preset {
	out := make([]Preset, 0, len(presets))
	for _, p := range presets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func Lookup(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown preset %q: %w", name, core.ErrInvalidConfig)
	}
	return p, nil
}
