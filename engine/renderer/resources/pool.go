package resources

import (
	"fmt"

	"github.com/spaghettifunk/hybridrt/engine/containers"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

// Handle is a stable reference to a pool resource. Resizing swaps what a
// handle resolves to, never the handle itself.
type Handle = containers.Handle

type Kind uint8

const (
	KindImage Kind = iota
	KindBuffer
)

// Request describes one resource. Images either have a fixed Extent or a
// Scale relative to the surface; only the latter are recreated on resize.
type Request struct {
	Name string
	Kind Kind

	Format     gpu.Format
	Extent     gpu.Extent
	Scale      float32
	ImageUsage gpu.ImageUsage

	Size        int64
	BufferUsage gpu.BufferUsage
	Residency   gpu.Residency
}

// SurfaceRelative reports whether the request follows the surface size.
func (r Request) SurfaceRelative() bool {
	return r.Kind == KindImage && r.Scale > 0
}

type entry struct {
	req    Request
	image  gpu.Image
	buffer gpu.Buffer
	layout gpu.Layout
	// bumped every time the backing object is recreated
	generation int
}

type PoolConfig struct {
	Device gpu.Device
	Extent gpu.Extent
}

// Pool owns every image and buffer the renderer allocates.
type Pool struct {
	device gpu.Device
	extent gpu.Extent
	arena  *containers.Arena[*entry]
}

func NewPool(config *PoolConfig) (*Pool, error) {
	if config.Device == nil {
		err := fmt.Errorf("func NewPool - a device is required")
		core.LogError(err.Error())
		return nil, err
	}
	if config.Extent.IsZero() {
		err := fmt.Errorf("func NewPool - surface extent %dx%d is empty", config.Extent.Width, config.Extent.Height)
		core.LogError(err.Error())
		return nil, err
	}
	return &Pool{
		device: config.Device,
		extent: config.Extent,
		arena:  containers.NewArena[*entry](),
	}, nil
}

func (p *Pool) Extent() gpu.Extent {
	return p.extent
}

func (p *Pool) create(e *entry) error {
	switch e.req.Kind {
	case KindImage:
		extent := e.req.Extent
		if e.req.SurfaceRelative() {
			extent = p.extent.Scale(e.req.Scale)
		}
		img, err := p.device.CreateImage(gpu.ImageDesc{
			Name:   e.req.Name,
			Format: e.req.Format,
			Extent: extent,
			Usage:  e.req.ImageUsage,
		})
		if err != nil {
			return fmt.Errorf("image %q: %w", e.req.Name, wrapAllocation(err))
		}
		e.image = img
		e.layout = gpu.LayoutUndefined
	case KindBuffer:
		buf, err := p.device.CreateBuffer(gpu.BufferDesc{
			Name:      e.req.Name,
			Size:      e.req.Size,
			Usage:     e.req.BufferUsage,
			Residency: e.req.Residency,
		})
		if err != nil {
			return fmt.Errorf("buffer %q: %w", e.req.Name, wrapAllocation(err))
		}
		e.buffer = buf
	default:
		return fmt.Errorf("resource %q has unknown kind %d", e.req.Name, e.req.Kind)
	}
	e.generation++
	return nil
}

func wrapAllocation(err error) error {
	if core.IsFatal(err) {
		return err
	}
	return fmt.Errorf("%v: %w", err, core.ErrAllocationFailed)
}

func (e *entry) destroy() {
	if e.image != nil {
		e.image.Destroy()
		e.image = nil
	}
	if e.buffer != nil {
		e.buffer.Destroy()
		e.buffer = nil
	}
}

// Allocate creates the resource described by req. Failure is always an
// ErrAllocationFailed and is not recoverable.
func (p *Pool) Allocate(req Request) (Handle, error) {
	e := &entry{req: req}
	if err := p.create(e); err != nil {
		core.LogError(err.Error())
		return containers.InvalidHandle, err
	}
	return p.arena.Insert(e), nil
}

// Duplicate returns n independent resources described like h, h itself
// being the first of them.
func (p *Pool) Duplicate(h Handle, n int) ([]Handle, error) {
	e, ok := p.arena.Get(h)
	if !ok {
		return nil, fmt.Errorf("duplicate %d: %w", h, core.ErrUnknownResource)
	}
	if n < 1 {
		return nil, fmt.Errorf("cannot duplicate %q %d times", e.req.Name, n)
	}
	out := make([]Handle, 0, n)
	out = append(out, h)
	for i := 1; i < n; i++ {
		req := e.req
		req.Name = fmt.Sprintf("%s#%d", e.req.Name, i)
		dup, err := p.Allocate(req)
		if err != nil {
			for _, d := range out[1:] {
				_ = p.Release(d)
			}
			return nil, err
		}
		out = append(out, dup)
	}
	return out, nil
}

func (p *Pool) Release(h Handle) error {
	e, ok := p.arena.Remove(h)
	if !ok {
		return fmt.Errorf("release %d: %w", h, core.ErrUnknownResource)
	}
	e.destroy()
	return nil
}

// Resize recreates every surface-relative image at the new extent. Fixed
// size images and all buffers are left untouched.
func (p *Pool) Resize(extent gpu.Extent) error {
	if extent.IsZero() {
		return fmt.Errorf("resize to %dx%d", extent.Width, extent.Height)
	}
	p.extent = extent
	var err error
	p.arena.Each(func(_ Handle, e *entry) {
		if err != nil || !e.req.SurfaceRelative() {
			return
		}
		e.destroy()
		err = p.create(e)
	})
	if err != nil {
		core.LogError(err.Error())
		return err
	}
	core.LogDebug("resource pool resized to %dx%d", extent.Width, extent.Height)
	return nil
}

// SetScale changes the surface scale of one image and recreates it.
func (p *Pool) SetScale(h Handle, scale float32) error {
	e, ok := p.arena.Get(h)
	if !ok {
		return fmt.Errorf("set scale %d: %w", h, core.ErrUnknownResource)
	}
	if !e.req.SurfaceRelative() || scale <= 0 {
		return fmt.Errorf("%q is not a surface relative image", e.req.Name)
	}
	if e.req.Scale == scale {
		return nil
	}
	e.req.Scale = scale
	e.destroy()
	return p.create(e)
}

func (p *Pool) Image(h Handle) gpu.Image {
	if e, ok := p.arena.Get(h); ok {
		return e.image
	}
	return nil
}

func (p *Pool) Buffer(h Handle) gpu.Buffer {
	if e, ok := p.arena.Get(h); ok {
		return e.buffer
	}
	return nil
}

func (p *Pool) Request(h Handle) (Request, bool) {
	if e, ok := p.arena.Get(h); ok {
		return e.req, true
	}
	return Request{}, false
}

// Generation counts how many times the resource behind h has been created.
func (p *Pool) Generation(h Handle) int {
	if e, ok := p.arena.Get(h); ok {
		return e.generation
	}
	return 0
}

// Layout is the layout the image was left in by the last recorded barrier.
func (p *Pool) Layout(h Handle) gpu.Layout {
	if e, ok := p.arena.Get(h); ok {
		return e.layout
	}
	return gpu.LayoutUndefined
}

func (p *Pool) SetLayout(h Handle, layout gpu.Layout) {
	if e, ok := p.arena.Get(h); ok {
		e.layout = layout
	}
}

// DiscardLayouts forgets every tracked image layout. Barriers recorded into
// a stream that was never submitted leave the tracking ahead of the device;
// transitions from undefined are valid whatever the real layout is.
func (p *Pool) DiscardLayouts() {
	p.arena.Each(func(_ Handle, e *entry) {
		if e.req.Kind == KindImage {
			e.layout = gpu.LayoutUndefined
		}
	})
}

// Transition returns a barrier moving h from its tracked layout to layout
// and records the new layout.
func (p *Pool) Transition(h Handle, layout gpu.Layout, src, dst gpu.Stage, srcAccess, dstAccess gpu.Access) gpu.ImageBarrier {
	e, ok := p.arena.Get(h)
	if !ok {
		core.LogError("transition of unknown resource %d", h)
		return gpu.ImageBarrier{}
	}
	b := gpu.ImageBarrier{
		Image:     e.image,
		SrcStage:  src,
		DstStage:  dst,
		SrcAccess: srcAccess,
		DstAccess: dstAccess,
		OldLayout: e.layout,
		NewLayout: layout,
	}
	e.layout = layout
	return b
}

func (p *Pool) Len() int {
	return p.arena.Len()
}

// Shutdown releases every remaining resource.
func (p *Pool) Shutdown() error {
	var handles []Handle
	p.arena.Each(func(h Handle, _ *entry) {
		handles = append(handles, h)
	})
	for _, h := range handles {
		if err := p.Release(h); err != nil {
			return err
		}
	}
	return nil
}
