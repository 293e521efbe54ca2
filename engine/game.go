package engine

import (
	"time"

	"github.com/spaghettifunk/hybridrt/engine/config"
	"github.com/spaghettifunk/hybridrt/engine/scene"
)

// Game is what the engine runs: the settings, an optional scene and the
// per-frame hooks.
type Game struct {
	Settings *config.Config
	// Scene overrides the scene named by Settings when set.
	Scene        *scene.Scene
	State        interface{}
	FnInitialize Initialize
	FnUpdate     Update
	FnOnResize   OnResize
}

type Initialize func(e *Engine) error
type Update func(e *Engine, deltaTime time.Duration) error
type OnResize func(width uint32, height uint32) error
