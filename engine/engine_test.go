package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/hybridrt/engine/config"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/platform"
	"github.com/spaghettifunk/hybridrt/engine/renderer"
)

func headlessSettings(t *testing.T, frames int) *config.Config {
	s := config.Default()
	s.Application.Width = 96
	s.Application.Height = 64
	s.Application.LogLevel = "error"
	s.Renderer.Frames = frames
	s.Shaders.Dir = t.TempDir()
	return s
}

func startEngine(t *testing.T, g *Game) *Engine {
	e, err := New(g)
	require.NoError(t, err)
	require.NoError(t, e.Initialize())
	require.Equal(t, EngineStageInitialized, e.Stage())
	return e
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, core.ErrInvalidConfig)

	s := config.Default()
	s.Renderer.FramesInFlight = 5
	_, err = New(&Game{Settings: s})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestRunRequiresInitialize(t *testing.T) {
	e, err := New(&Game{Settings: headlessSettings(t, 1)})
	require.NoError(t, err)
	assert.Error(t, e.Run())
}

func TestHeadlessRunRendersConfiguredFrames(t *testing.T) {
	initialized := false
	updates := 0
	e := startEngine(t, &Game{
		Settings: headlessSettings(t, 5),
		FnInitialize: func(e *Engine) error {
			initialized = true
			return nil
		},
		FnUpdate: func(e *Engine, dt time.Duration) error {
			updates++
			return nil
		},
	})
	backend := e.Backend().(*renderer.HeadlessBackend)
	dev, surface := backend.Headless()

	require.NoError(t, e.Run())
	assert.True(t, initialized)
	assert.Equal(t, 5, updates)
	assert.Equal(t, 5, e.Frames())
	assert.Equal(t, 5, surface.Presented())
	assert.Equal(t, uint64(4), e.Metrics().Summary().Frames)
	assert.Empty(t, dev.Violations())

	require.NoError(t, e.Shutdown())
	assert.Zero(t, dev.LiveImages())
	assert.Zero(t, dev.LiveBuffers())
}

func TestQuitStopsTheLoop(t *testing.T) {
	e := startEngine(t, &Game{
		Settings: headlessSettings(t, 100),
		FnUpdate: func(e *Engine, dt time.Duration) error {
			if e.Frames() == 2 {
				e.Quit()
			}
			return nil
		},
	})
	require.NoError(t, e.Run())
	// the frame that saw the quit still completes
	assert.Equal(t, 3, e.Frames())
	require.NoError(t, e.Shutdown())
}

func TestKeyEventsToggleFeatures(t *testing.T) {
	e := startEngine(t, &Game{Settings: headlessSettings(t, 1)})
	defer e.Shutdown()

	require.True(t, e.Path().Features().Shadows)
	e.Events().Fire(platform.EVENT_CODE_TOGGLE_SHADOWS, nil, core.EventContext{})
	assert.False(t, e.Path().Features().Shadows)

	e.Events().Fire(platform.EVENT_CODE_TOGGLE_HALF_RES, nil, core.EventContext{})
	assert.True(t, e.Path().Features().HalfResReflections)

	before := e.Scene().Camera.Position
	e.Events().Fire(platform.EVENT_CODE_CAMERA_ORBIT, nil, core.EventContext{F32: [4]float32{0.5}})
	assert.NotEqual(t, before, e.Scene().Camera.Position)

	require.NoError(t, e.Run())
}

func TestResizeEventsReachTheRenderer(t *testing.T) {
	var resized [2]uint32
	e := startEngine(t, &Game{
		Settings: headlessSettings(t, 2),
		FnOnResize: func(width, height uint32) error {
			resized = [2]uint32{width, height}
			return nil
		},
	})
	defer e.Shutdown()

	e.Events().Fire(core.EVENT_CODE_RESIZED, nil, core.EventContext{U32: [4]uint32{0, 0}})
	assert.True(t, e.isSuspended.Load())

	e.Events().Fire(core.EVENT_CODE_RESIZED, nil, core.EventContext{U32: [4]uint32{128, 80}})
	assert.False(t, e.isSuspended.Load())
	assert.Equal(t, [2]uint32{128, 80}, resized)

	require.NoError(t, e.Run())
	assert.Equal(t, 1, e.Renderer().Resizes())
	assert.Equal(t, gpu.Extent{Width: 128, Height: 80}, e.Backend().Surface().Extent())
}
