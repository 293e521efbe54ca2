package testbed

import (
	"time"

	"github.com/spaghettifunk/hybridrt/engine"
	"github.com/spaghettifunk/hybridrt/engine/config"
	"github.com/spaghettifunk/hybridrt/engine/core"
)

type gameState struct {
	preset Preset
	width  uint32
	height uint32
	// orbited is the camera yaw applied so far.
	orbited float32
}

// NewTestGame applies preset to settings and returns the game driving it.
func NewTestGame(preset Preset, settings *config.Config) *engine.Game {
	preset.Apply(settings)
	state := &gameState{
		preset: preset,
		width:  settings.Application.Width,
		height: settings.Application.Height,
	}
	return &engine.Game{
		Settings: settings,
		State:    state,
		FnInitialize: func(e *engine.Engine) error {
			core.LogInfo("preset %s: %s", preset.Name, preset.Description)
			return nil
		},
		FnUpdate: func(e *engine.Engine, deltaTime time.Duration) error {
			if preset.OrbitSpeed == 0 {
				return nil
			}
			yaw := preset.OrbitSpeed * float32(deltaTime.Seconds())
			e.Scene().Camera.Orbit(yaw)
			state.orbited += yaw
			return nil
		},
		FnOnResize: func(width uint32, height uint32) error {
			state.width = width
			state.height = height
			return nil
		},
	}
}
