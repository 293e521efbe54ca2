package renderer

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

// RenderPath records, submits and presents frames with its own injected
// device, pool and acceleration structures.
type RenderPath interface {
	// RecordFrame waits for the next frame slot, records the frame and
	// submits it. Presentation transients come back unwrapped.
	RecordFrame(dt time.Duration) error
	Present() error
	// OnResize rebuilds the swapchain and every surface sized resource.
	OnResize(extent gpu.Extent) error
	Shutdown()
}

type RendererConfig struct {
	Backend Backend
	Path    RenderPath
}

// Renderer drives a render path and turns presentation transients into a
// full resize.
type Renderer struct {
	backend Backend
	path    RenderPath

	pendingExtent *gpu.Extent
	resizes       int
	frames        uint64
}

func New(config *RendererConfig) (*Renderer, error) {
	if config.Backend == nil || config.Path == nil {
		err := fmt.Errorf("func New - backend and render path are required: %w", core.ErrInvalidConfig)
		core.LogError(err.Error())
		return nil, err
	}
	return &Renderer{backend: config.Backend, path: config.Path}, nil
}

func (r *Renderer) Path() RenderPath { return r.path }
func (r *Renderer) Resizes() int     { return r.resizes }
func (r *Renderer) Frames() uint64   { return r.frames }

// OnResize records a framebuffer size change; it is applied before the next
// frame.
func (r *Renderer) OnResize(width, height uint32) {
	r.pendingExtent = &gpu.Extent{Width: width, Height: height}
}

func (r *Renderer) resize(extent gpu.Extent) error {
	if extent.Width == 0 || extent.Height == 0 {
		core.LogDebug("surface is minimized, skipping resize")
		return nil
	}
	if err := r.path.OnResize(extent); err != nil {
		return err
	}
	r.resizes++
	return nil
}

// DrawFrame renders and presents one frame.
func (r *Renderer) DrawFrame(dt time.Duration) error {
	if r.pendingExtent != nil {
		extent := *r.pendingExtent
		r.pendingExtent = nil
		if err := r.resize(extent); err != nil {
			return err
		}
	}
	if err := r.path.RecordFrame(dt); err != nil {
		if core.IsPresentationTransient(err) {
			core.LogDebug("acquire reported %s, recreating", err)
			return r.resize(r.backend.Surface().Extent())
		}
		core.LogError(err.Error())
		return err
	}
	r.frames++
	if err := r.path.Present(); err != nil {
		if core.IsPresentationTransient(err) {
			core.LogDebug("present reported %s, recreating", err)
			return r.resize(r.backend.Surface().Extent())
		}
		core.LogError("present failed: %s", err)
		return err
	}
	return nil
}

// Shutdown tears down the render path before the backend's device.
func (r *Renderer) Shutdown() {
	r.path.Shutdown()
	r.backend.Shutdown()
}
