package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/hybridrt/engine/config"
	"github.com/spaghettifunk/hybridrt/engine/core"
)

func runApp(t *testing.T, args ...string) (string, error) {
	var out bytes.Buffer
	app := NewApp()
	app.Writer = &out
	err := app.Run(append([]string{"hybridrt"}, args...))
	return out.String(), err
}

func TestPresetsCommandListsEveryPreset(t *testing.T) {
	out, err := runApp(t, "presets")
	require.NoError(t, err)
	for _, name := range []string{"shadows", "ao", "reflections", "hybrid", "animated", "async"} {
		assert.Contains(t, out, name)
	}
}

func TestConfigCommandAppliesPresetAndFlags(t *testing.T) {
	out, err := runApp(t, "config", "--preset", "async", "--frames", "7", "--width", "320")
	require.NoError(t, err)

	c, err := config.Parse([]byte(out))
	require.NoError(t, err)
	assert.True(t, c.Renderer.AsyncASUpdate)
	assert.Equal(t, 7, c.Renderer.Frames)
	assert.Equal(t, uint32(320), c.Application.Width)
}

func TestConfigCommandReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hybridrt.toml")
	require.NoError(t, os.WriteFile(path, []byte("[renderer]\nframes_in_flight = 3\n"), 0o644))

	out, err := runApp(t, "config", "--config", path)
	require.NoError(t, err)
	c, err := config.Parse([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, 3, c.Renderer.FramesInFlight)
}

func TestConfigCommandRejectsUnknownPreset(t *testing.T) {
	_, err := runApp(t, "config", "--preset", "sponza")
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestRunCommandPrintsFrameReport(t *testing.T) {
	out, err := runApp(t, "run", "--preset", "animated", "--frames", "3", "--width", "64", "--height", "48")
	require.NoError(t, err)
	assert.Contains(t, out, "TLAS updates")
	assert.Contains(t, out, "animated")
	assert.Contains(t, out, "headless")
}
