package testbed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/hybridrt/engine"
	"github.com/spaghettifunk/hybridrt/engine/config"
	"github.com/spaghettifunk/hybridrt/engine/core"
)

func TestPresetsAreSortedAndValid(t *testing.T) {
	var names []string
	for _, p := range Presets() {
		names = append(names, p.Name)
		c := config.Default()
		p.Apply(c)
		assert.NoError(t, c.Validate(), p.Name)
	}
	assert.Equal(t, []string{"animated", "ao", "async", "hybrid", "reflections", "shadows"}, names)
}

func TestLookup(t *testing.T) {
	p, err := Lookup("async")
	require.NoError(t, err)
	c := config.Default()
	p.Apply(c)
	assert.True(t, c.Renderer.AsyncASUpdate)
	assert.True(t, c.Features.Animate)

	p, err = Lookup("ao")
	require.NoError(t, err)
	p.Apply(c)
	assert.False(t, c.Features.Shadows)
	assert.True(t, c.Features.AmbientOcclusion)
	assert.False(t, c.Renderer.AsyncASUpdate)

	_, err = Lookup("sponza")
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestPresetsRenderHeadless(t *testing.T) {
	for _, p := range Presets() {
		t.Run(p.Name, func(t *testing.T) {
			s := config.Default()
			s.Application.Width = 64
			s.Application.Height = 48
			s.Application.LogLevel = "error"
			s.Renderer.Frames = 4
			s.Shaders.Dir = t.TempDir()

			e, err := engine.New(NewTestGame(p, s))
			require.NoError(t, err)
			require.NoError(t, e.Initialize())
			require.NoError(t, e.Run())
			assert.Equal(t, 4, e.Frames())
			if s.Features.Animate {
				assert.Positive(t, e.Path().TLASUpdates())
			} else {
				assert.Zero(t, e.Path().TLASUpdates())
			}
			assert.Equal(t, s.Renderer.AsyncASUpdate, e.Path().Scheduler().AsyncCompute())
			require.NoError(t, e.Shutdown())
		})
	}
}
