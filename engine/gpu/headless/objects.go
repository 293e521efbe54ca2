package headless

import (
	"fmt"

	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

// hazard tracks the last unsynchronized write to an object within one
// submission and which stages it has been made visible to.
type hazard struct {
	pending gpu.Access
	visible gpu.Stage
	written bool
}

func (h *hazard) write(access gpu.Access) {
	h.pending = access
	h.visible = gpu.StageNone
	h.written = true
}

func (h *hazard) release(src gpu.Access, dst gpu.Stage) {
	if h.pending != 0 && !src.Contains(h.pending) {
		return
	}
	h.pending = 0
	h.visible |= dst
}

// read returns a description of the hazard, or "" when stage may read.
func (h *hazard) read(stage gpu.Stage) string {
	if h.pending != 0 {
		return "read before a barrier made the previous write available"
	}
	if h.written && h.visible&stage != stage {
		return "previous write not made visible to the reading stage"
	}
	return ""
}

func (h *hazard) reset() {
	*h = hazard{}
}

type Image struct {
	id     int
	desc   gpu.ImageDesc
	layout gpu.Layout
	hz     hazard

	// contents
	clearValue [4]float32
	defined    bool
	writes     int

	swapchain bool
	destroyed bool
	dev       *Device
}

func (i *Image) Extent() gpu.Extent { return i.desc.Extent }
func (i *Image) Format() gpu.Format { return i.desc.Format }
func (i *Image) Name() string       { return i.desc.Name }

// Layout is the layout left by the last replayed barrier.
func (i *Image) Layout() gpu.Layout { return i.layout }

// ClearValue is the value of the last clear (or blit source clear) written
// into the image, and whether the contents are defined at all.
func (i *Image) ClearValue() ([4]float32, bool) { return i.clearValue, i.defined }

// Writes counts replayed commands that wrote the image.
func (i *Image) Writes() int     { return i.writes }
func (i *Image) Destroyed() bool { return i.destroyed }

func (i *Image) String() string {
	return fmt.Sprintf("image#%d(%s)", i.id, i.desc.Name)
}

func (i *Image) Destroy() {
	if i.destroyed {
		return
	}
	i.destroyed = true
	if i.dev != nil && !i.swapchain {
		i.dev.release(int64(i.desc.Extent.Width) * int64(i.desc.Extent.Height) * int64(i.desc.Format.BytesPerPixel()))
		i.dev.liveImages--
	}
}

type Buffer struct {
	id      int
	desc    gpu.BufferDesc
	data    []byte
	address uint64
	hz      hazard

	destroyed bool
	dev       *Device
}

func (b *Buffer) Size() int64            { return b.desc.Size }
func (b *Buffer) Usage() gpu.BufferUsage { return b.desc.Usage }
func (b *Buffer) Name() string           { return b.desc.Name }
func (b *Buffer) Destroyed() bool        { return b.destroyed }

// Bytes exposes the buffer contents as the device last left them.
func (b *Buffer) Bytes() []byte { return b.data }

func (b *Buffer) String() string {
	return fmt.Sprintf("buffer#%d(%s)", b.id, b.desc.Name)
}

func (b *Buffer) Destroy() {
	if b.destroyed {
		return
	}
	b.destroyed = true
	if b.dev != nil {
		b.dev.release(b.desc.Size)
		b.dev.liveBuffers--
	}
}

type Fence struct {
	signaled  bool
	destroyed bool
}

func (f *Fence) Wait(timeoutNs uint64) error {
	if f.destroyed {
		return fmt.Errorf("wait on destroyed fence")
	}
	if !f.signaled {
		// Submissions complete synchronously, an unsignaled fence never signals.
		return fmt.Errorf("fence wait would never return: no pending submission signals it")
	}
	return nil
}

func (f *Fence) Reset() error {
	f.signaled = false
	return nil
}

func (f *Fence) Signaled() bool { return f.signaled }
func (f *Fence) Destroy()       { f.destroyed = true }

type Semaphore struct {
	id        int
	signaled  bool
	destroyed bool
}

func (s *Semaphore) Signaled() bool { return s.signaled }
func (s *Semaphore) Destroy()       { s.destroyed = true }

type Pipeline struct {
	id        int
	desc      gpu.PipelineDesc
	destroyed bool
}

func (p *Pipeline) Name() string           { return p.desc.Name }
func (p *Pipeline) Kind() gpu.PipelineKind { return p.desc.Kind }
func (p *Pipeline) Destroyed() bool        { return p.destroyed }
func (p *Pipeline) ID() int                { return p.id }

func (p *Pipeline) GroupCount() int {
	if p.desc.Kind != gpu.PipelineRayTracing {
		return 0
	}
	return len(p.desc.Stages)
}

func (p *Pipeline) Destroy() { p.destroyed = true }
