package engine

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/spaghettifunk/hybridrt/engine/assets"
	"github.com/spaghettifunk/hybridrt/engine/config"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/gpu/headless"
	"github.com/spaghettifunk/hybridrt/engine/platform"
	"github.com/spaghettifunk/hybridrt/engine/renderer"
	"github.com/spaghettifunk/hybridrt/engine/renderer/framegraph"
	"github.com/spaghettifunk/hybridrt/engine/renderer/vulkan"
	"github.com/spaghettifunk/hybridrt/engine/scene"
)

type Stage uint8

const (
	// Engine is in an uninitialized state
	EngineStageUninitialized Stage = iota
	// Engine is currently initializing
	EngineStageInitializing
	// Engine initialization is complete
	EngineStageInitialized
	// Engine is currently running
	EngineStageRunning
	// Engine is in the process of shutting down
	EngineStageShuttingDown
)

// headlessImageCount matches a typical triple buffered swapchain.
const headlessImageCount = 3

type Engine struct {
	currentStage Stage
	gameInstance *Game
	settings     *config.Config
	session      uuid.UUID
	isRunning    atomic.Bool
	isSuspended  atomic.Bool

	bus      *core.EventBus
	platform *platform.Platform
	backend  renderer.Backend
	library  *assets.Library
	watcher  *assets.Watcher
	scene    *scene.Scene
	path     *renderer.HybridPath
	renderer *renderer.Renderer

	clock   *core.Clock
	metrics *core.Metrics
	frames  int
}

func New(g *Game) (*Engine, error) {
	if g == nil || g.Settings == nil {
		err := fmt.Errorf("func New - game settings are required: %w", core.ErrInvalidConfig)
		core.LogError(err.Error())
		return nil, err
	}
	if err := g.Settings.Validate(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return &Engine{
		currentStage: EngineStageUninitialized,
		gameInstance: g,
		settings:     g.Settings,
		session:      uuid.New(),
		bus:          core.NewEventBus(),
		clock:        core.NewClock(),
		metrics:      core.NewMetrics(),
	}, nil
}

func (e *Engine) Session() uuid.UUID           { return e.session }
func (e *Engine) Stage() Stage                 { return e.currentStage }
func (e *Engine) Settings() *config.Config     { return e.settings }
func (e *Engine) Events() *core.EventBus       { return e.bus }
func (e *Engine) Scene() *scene.Scene          { return e.scene }
func (e *Engine) Path() *renderer.HybridPath   { return e.path }
func (e *Engine) Renderer() *renderer.Renderer { return e.renderer }
func (e *Engine) Metrics() *core.Metrics       { return e.metrics }
func (e *Engine) Frames() int                  { return e.frames }

// Backend exposes the device owner, e.g. for inspecting a headless run.
func (e *Engine) Backend() renderer.Backend { return e.backend }

// Initialize opens the window when presenting through Vulkan, creates the
// backend and builds the hybrid render path. Any failure is fatal.
func (e *Engine) Initialize() error {
	e.currentStage = EngineStageInitializing
	app := e.settings.Application
	if err := core.SetLogLevel(app.LogLevel); err != nil {
		return err
	}
	core.LogInfo("starting %s session %s", app.Name, e.session)

	e.bus.Register(core.EVENT_CODE_APPLICATION_QUIT, e, e.onEvent)
	e.bus.Register(core.EVENT_CODE_RESIZED, e, e.onResized)
	e.bus.Register(core.EVENT_CODE_ACCUMULATION_INVALIDATED, e, e.onEvent)
	e.bus.Register(core.EVENT_CODE_PIPELINE_RELOADED, e, e.onEvent)
	for _, code := range []core.SystemEventCode{
		platform.EVENT_CODE_TOGGLE_SHADOWS,
		platform.EVENT_CODE_TOGGLE_AO,
		platform.EVENT_CODE_TOGGLE_REFLECTIONS,
		platform.EVENT_CODE_TOGGLE_HALF_RES,
		platform.EVENT_CODE_TOGGLE_UI,
		platform.EVENT_CODE_CAMERA_ORBIT,
	} {
		e.bus.Register(code, e, e.onKey)
	}

	if err := e.createBackend(); err != nil {
		e.Shutdown()
		return err
	}
	if err := e.loadAssets(); err != nil {
		e.Shutdown()
		return err
	}

	var watcher renderer.ShaderWatcher
	if e.watcher != nil {
		watcher = e.watcher
	}
	path, err := renderer.NewHybridPath(&renderer.HybridConfig{
		Device:   e.backend.Device(),
		Surface:  e.backend.Surface(),
		Scene:    e.scene,
		Shaders:  e.library,
		Watcher:  watcher,
		Overlay:  renderer.NewHUD(e.metrics),
		Settings: e.settings,
		Events:   e.bus,
	})
	if err != nil {
		e.Shutdown()
		return err
	}
	e.path = path
	if e.renderer, err = renderer.New(&renderer.RendererConfig{Backend: e.backend, Path: path}); err != nil {
		e.Shutdown()
		return err
	}

	if e.gameInstance.FnInitialize != nil {
		if err := e.gameInstance.FnInitialize(e); err != nil {
			e.Shutdown()
			return err
		}
	}
	e.currentStage = EngineStageInitialized
	return nil
}

func (e *Engine) createBackend() error {
	app := e.settings.Application
	extent := gpu.Extent{Width: app.Width, Height: app.Height}
	switch e.settings.Renderer.Backend {
	case config.BackendVulkan:
		p, err := platform.New(e.bus)
		if err != nil {
			return err
		}
		if err := p.Startup(app.Name, app.Width, app.Height); err != nil {
			return err
		}
		e.platform = p
		// the framebuffer can differ from the window size on high density displays
		extent.Width, extent.Height = p.FramebufferSize()
		b, err := vulkan.NewBackend(&vulkan.BackendConfig{
			Context:        p.VulkanContextConfig(app.Name, e.settings.Renderer.Validation),
			Extent:         extent,
			VSync:          e.settings.Renderer.VSync,
			PreferDiscrete: true,
		})
		if err != nil {
			return err
		}
		e.backend = b
	default:
		e.backend = renderer.NewHeadlessBackend(extent, headlessImageCount, headless.Options{})
	}
	return nil
}

func (e *Engine) loadAssets() error {
	var err error
	if e.gameInstance.Scene != nil {
		e.scene = e.gameInstance.Scene
	} else if e.settings.Scene.Path != "" {
		if e.scene, err = scene.Load(e.settings.Scene.Path); err != nil {
			return err
		}
	} else {
		e.scene = scene.Default()
	}

	// headless runs never execute the blobs, so uncompiled shaders are fine
	e.library, err = assets.NewLibrary(&assets.LibraryConfig{
		Dir:          e.settings.Shaders.Dir,
		AllowMissing: e.settings.Renderer.Backend == config.BackendHeadless,
	})
	if err != nil {
		return err
	}
	if e.settings.Shaders.Watch {
		if e.watcher, err = assets.NewWatcher(e.library.Dir(), framegraph.ShaderNames()); err != nil {
			core.LogWarn("shader hot reload disabled: %s", err)
			e.watcher = nil
		}
	}
	return nil
}

// Run renders until a quit event, the window closing or the configured frame
// count. Only setup class failures end the loop with an error.
func (e *Engine) Run() error {
	if e.currentStage != EngineStageInitialized {
		return fmt.Errorf("func Run - engine is not initialized")
	}
	e.currentStage = EngineStageRunning
	e.isRunning.Store(true)

	e.clock.Start()
	e.clock.Update()
	lastTime := e.clock.Elapsed()
	limit := e.settings.Renderer.Frames

	for e.isRunning.Load() {
		if e.platform != nil {
			e.platform.PumpMessages()
			if e.platform.ShouldClose() {
				e.isRunning.Store(false)
				break
			}
		}
		if e.isSuspended.Load() {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		e.clock.Update()
		currentTime := e.clock.Elapsed()
		delta := currentTime - lastTime
		lastTime = currentTime

		if e.gameInstance.FnUpdate != nil {
			if err := e.gameInstance.FnUpdate(e, delta); err != nil {
				core.LogError("game update failed, shutting down: %s", err)
				e.isRunning.Store(false)
				return err
			}
		}

		if err := e.renderer.DrawFrame(delta); err != nil {
			if core.IsFatal(err) {
				core.LogError("frame %d failed, shutting down: %s", e.frames, err)
				e.isRunning.Store(false)
				return err
			}
			core.LogWarn("frame %d dropped: %s", e.frames, err)
		}
		if e.frames > 0 {
			e.metrics.Update(delta)
		}
		e.frames++

		if limit > 0 && e.frames >= limit {
			e.isRunning.Store(false)
		}
	}
	return nil
}

// Quit stops the loop before the next frame. Safe to call from a signal
// handler goroutine.
func (e *Engine) Quit() {
	e.bus.Fire(core.EVENT_CODE_APPLICATION_QUIT, e, core.EventContext{})
}

func (e *Engine) Shutdown() error {
	e.currentStage = EngineStageShuttingDown
	e.isRunning.Store(false)
	if e.watcher != nil {
		if err := e.watcher.Close(); err != nil {
			core.LogWarn("closing shader watcher: %s", err)
		}
		e.watcher = nil
	}
	switch {
	case e.renderer != nil:
		e.renderer.Shutdown()
	case e.path != nil:
		e.path.Shutdown()
		e.backend.Shutdown()
	case e.backend != nil:
		e.backend.Shutdown()
	}
	e.renderer, e.path, e.backend = nil, nil, nil
	if e.platform != nil {
		if err := e.platform.Shutdown(); err != nil {
			return err
		}
		e.platform = nil
	}
	e.bus.Shutdown()
	e.currentStage = EngineStageUninitialized
	return nil
}

func (e *Engine) onEvent(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	switch code {
	case core.EVENT_CODE_APPLICATION_QUIT:
		core.LogInfo("EVENT_CODE_APPLICATION_QUIT received, shutting down.")
		e.isRunning.Store(false)
		return true
	case core.EVENT_CODE_ACCUMULATION_INVALIDATED:
		core.LogDebug("accumulation reset at frame %d", e.frames)
	case core.EVENT_CODE_PIPELINE_RELOADED:
		core.LogInfo("pass %s reloaded", data.C[0])
	}
	return false
}

func (e *Engine) onKey(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if e.path == nil {
		return false
	}
	if code == platform.EVENT_CODE_CAMERA_ORBIT {
		e.scene.Camera.Orbit(data.F32[0])
		return true
	}
	f := e.path.Features()
	switch code {
	case platform.EVENT_CODE_TOGGLE_SHADOWS:
		f.Shadows = !f.Shadows
	case platform.EVENT_CODE_TOGGLE_AO:
		f.AmbientOcclusion = !f.AmbientOcclusion
	case platform.EVENT_CODE_TOGGLE_REFLECTIONS:
		f.Reflections = !f.Reflections
	case platform.EVENT_CODE_TOGGLE_HALF_RES:
		f.HalfResReflections = !f.HalfResReflections
	case platform.EVENT_CODE_TOGGLE_UI:
		f.UI = !f.UI
	default:
		return false
	}
	if err := e.SetFeatures(f); err != nil {
		core.LogError("feature toggle failed: %s", err)
	}
	return true
}

// SetFeatures applies pass toggles between frames.
func (e *Engine) SetFeatures(f framegraph.Features) error {
	if err := e.path.SetFeatures(f); err != nil {
		return err
	}
	core.LogInfo("features: shadows=%t ao=%t reflections=%t half_res=%t ui=%t",
		f.Shadows, f.AmbientOcclusion, f.Reflections, f.HalfResReflections, f.UI)
	return nil
}

func (e *Engine) onResized(code core.SystemEventCode, sender interface{}, listener interface{}, data core.EventContext) bool {
	if code != core.EVENT_CODE_RESIZED {
		return false
	}
	width, height := data.U32[0], data.U32[1]
	if width == 0 || height == 0 {
		core.LogInfo("window minimized, suspending application.")
		e.isSuspended.Store(true)
		return true
	}
	if e.isSuspended.Load() {
		core.LogInfo("window restored, resuming application.")
		e.isSuspended.Store(false)
	}
	core.LogDebug("window resize: %d, %d", width, height)
	if e.renderer != nil {
		e.renderer.OnResize(width, height)
	}
	if e.gameInstance.FnOnResize != nil {
		if err := e.gameInstance.FnOnResize(width, height); err != nil {
			core.LogError("game resize failed: %s", err)
		}
	}
	return true
}
