package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/hybridrt/engine/core"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestParseOverlaysDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
[renderer]
frames_in_flight = 3
async_as_update = true

[features]
reflections = false
`))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Renderer.FramesInFlight)
	assert.True(t, cfg.Renderer.AsyncASUpdate)
	assert.False(t, cfg.Features.Reflections)
	assert.True(t, cfg.Features.Shadows)
	assert.Equal(t, uint32(1280), cfg.Application.Width)
}

func TestParsePresentationKeys(t *testing.T) {
	cfg, err := Parse([]byte("[renderer]\nvsync = false\nvalidation = true\n"))
	require.NoError(t, err)
	assert.False(t, cfg.Renderer.VSync)
	assert.True(t, cfg.Renderer.Validation)
	assert.True(t, Default().Renderer.VSync)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":    "[renderer]\nbogus = true\n",
		"slot count":       "[renderer]\nframes_in_flight = 4\n",
		"backend":          "[renderer]\nbackend = \"metal\"\n",
		"log level":        "[application]\nlog_level = \"loud\"\n",
		"zero width":       "[application]\nwidth = 0\n",
		"roughness":        "[raytracing]\nroughness_threshold = 1.5\n",
		"endless headless": "[renderer]\nframes = 0\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src))
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrInvalidConfig))
		})
	}
}

func TestEncodeRoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Scene.Path = "scenes/courtyard.toml"
	data, err := cfg.Encode()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "hybridrt.toml")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
