// Package headless implements the gpu interfaces without a GPU. Submitted
// command streams are replayed synchronously against tracked image layouts,
// buffer contents and acceleration structures; misuse is collected as
// violations instead of being silently accepted.
package headless

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/math"
)

const spirvMagic uint32 = 0x07230203

type Options struct {
	// Without ray tracing RayTracing() fails like a device lacking the extensions.
	DisableRayTracing bool
	// Without a compute queue, compute submissions are rejected.
	DisableComputeQueue bool
	// MemoryBudget caps live image and buffer bytes; 0 means unlimited.
	MemoryBudget int64
	Properties   gpu.RayTracingProperties
}

func DefaultProperties() gpu.RayTracingProperties {
	return gpu.RayTracingProperties{
		ShaderGroupHandleSize:      32,
		ShaderGroupHandleAlignment: 32,
		ShaderGroupBaseAlignment:   64,
		MinScratchOffsetAlignment:  128,
		MaxRecursionDepth:          31,
	}
}

type Submission struct {
	Queue   gpu.Queue
	Streams []*Stream
	Waits   int
	Signals int
	Fence   bool
}

type Device struct {
	mu   sync.Mutex
	opts Options

	nextID      int
	nextAddress uint64
	used        int64
	liveImages  int
	liveBuffers int

	images     []*Image
	buffers    []*Buffer
	structures []*AccelerationStructure

	submissions []Submission
	violations  []string

	rt *rayTracing
}

func NewDevice(opts Options) *Device {
	if opts.Properties == (gpu.RayTracingProperties{}) {
		opts.Properties = DefaultProperties()
	}
	d := &Device{
		opts:        opts,
		nextAddress: 0x10000,
	}
	d.rt = &rayTracing{dev: d}
	return d
}

func (d *Device) id() int {
	d.nextID++
	return d.nextID
}

func (d *Device) reserve(name string, size int64) error {
	if d.opts.MemoryBudget > 0 && d.used+size > d.opts.MemoryBudget {
		return fmt.Errorf("%s needs %d bytes, %d of %d in use: %w", name, size, d.used, d.opts.MemoryBudget, core.ErrAllocationFailed)
	}
	d.used += size
	return nil
}

func (d *Device) release(size int64) {
	d.used -= size
}

func (d *Device) violate(format string, args ...interface{}) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

func (d *Device) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	if desc.Extent.IsZero() {
		return nil, fmt.Errorf("image %q has a zero extent: %w", desc.Name, core.ErrAllocationFailed)
	}
	size := int64(desc.Extent.Width) * int64(desc.Extent.Height) * int64(desc.Format.BytesPerPixel())
	if err := d.reserve(desc.Name, size); err != nil {
		return nil, err
	}
	img := &Image{id: d.id(), desc: desc, dev: d}
	d.images = append(d.images, img)
	d.liveImages++
	return img, nil
}

func (d *Device) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if desc.Size <= 0 {
		return nil, fmt.Errorf("buffer %q has size %d: %w", desc.Name, desc.Size, core.ErrAllocationFailed)
	}
	if err := d.reserve(desc.Name, desc.Size); err != nil {
		return nil, err
	}
	b := &Buffer{
		id:      d.id(),
		desc:    desc,
		data:    make([]byte, desc.Size),
		address: d.nextAddress,
		dev:     d,
	}
	d.nextAddress += uint64(math.AlignUp(desc.Size, 256))
	d.buffers = append(d.buffers, b)
	d.liveBuffers++
	return b, nil
}

func (d *Device) WriteBuffer(b gpu.Buffer, offset int64, data []byte) error {
	buf, ok := b.(*Buffer)
	if !ok {
		return fmt.Errorf("foreign buffer %T", b)
	}
	if buf.desc.Residency != gpu.ResidencyHost {
		return fmt.Errorf("%s is not host visible", buf)
	}
	if offset < 0 || offset+int64(len(data)) > buf.desc.Size {
		return fmt.Errorf("write of %d bytes at %d overflows %s", len(data), offset, buf)
	}
	copy(buf.data[offset:], data)
	return nil
}

func (d *Device) CreateFence(signaled bool) (gpu.Fence, error) {
	return &Fence{signaled: signaled}, nil
}

func (d *Device) CreateSemaphore() (gpu.Semaphore, error) {
	return &Semaphore{id: d.id()}, nil
}

func (d *Device) NewCommandStream(queue gpu.Queue) (gpu.CommandStream, error) {
	if !d.HasQueue(queue) {
		return nil, fmt.Errorf("no %s queue", queue)
	}
	return &Stream{queue: queue}, nil
}

func (d *Device) CreatePipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	if len(desc.Stages) == 0 {
		return nil, fmt.Errorf("pipeline %q has no stages: %w", desc.Name, core.ErrPipelineCreation)
	}
	for _, s := range desc.Stages {
		if len(s.Code) < 4 || binary.LittleEndian.Uint32(s.Code) != spirvMagic {
			return nil, fmt.Errorf("pipeline %q: stage %q is not SPIR-V: %w", desc.Name, s.Name, core.ErrPipelineCreation)
		}
	}
	if desc.Kind == gpu.PipelineRayTracing {
		if d.opts.DisableRayTracing {
			return nil, fmt.Errorf("pipeline %q: %w", desc.Name, core.ErrRayTracingUnsupported)
		}
		if desc.MaxRecursion > d.opts.Properties.MaxRecursionDepth {
			return nil, fmt.Errorf("pipeline %q: recursion %d exceeds %d: %w", desc.Name, desc.MaxRecursion, d.opts.Properties.MaxRecursionDepth, core.ErrPipelineCreation)
		}
	}
	return &Pipeline{id: d.id(), desc: desc}, nil
}

func (d *Device) HasQueue(queue gpu.Queue) bool {
	return queue == gpu.QueueGraphics || !d.opts.DisableComputeQueue
}

func (d *Device) RayTracing() (gpu.RayTracing, error) {
	if d.opts.DisableRayTracing {
		return nil, core.ErrRayTracingUnsupported
	}
	return d.rt, nil
}

func (d *Device) WaitIdle() error {
	return nil
}

func (d *Device) Destroy() {}

// Submit replays every stream in order, then updates the semaphores and
// signals the fence. Hazard tracking restarts with every submission since the
// previous one has fully completed by then.
func (d *Device) Submit(queue gpu.Queue, info gpu.SubmitInfo) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.HasQueue(queue) {
		return fmt.Errorf("no %s queue", queue)
	}
	if len(info.WaitStages) != len(info.Wait) {
		return fmt.Errorf("%d wait semaphores but %d wait stages", len(info.Wait), len(info.WaitStages))
	}

	for _, w := range info.Wait {
		s := w.(*Semaphore)
		if !s.signaled {
			d.violate("%s submission waits on semaphore#%d which nothing signaled", queue, s.id)
		}
		s.signaled = false
	}

	var fence *Fence
	if info.Fence != nil {
		fence = info.Fence.(*Fence)
		if fence.signaled {
			d.violate("%s submission with an already signaled fence", queue)
		}
	}

	d.resetHazards()
	sub := Submission{Queue: queue, Waits: len(info.Wait), Signals: len(info.Signal), Fence: fence != nil}
	for _, cs := range info.Streams {
		s, ok := cs.(*Stream)
		if !ok {
			return fmt.Errorf("foreign command stream %T", cs)
		}
		if s.state != streamEnded {
			return fmt.Errorf("submitting a stream that is not ended")
		}
		if s.queue != queue {
			d.violate("%s stream submitted to the %s queue", s.queue, queue)
		}
		d.replay(s)
		sub.Streams = append(sub.Streams, s)
	}
	d.submissions = append(d.submissions, sub)

	for _, sig := range info.Signal {
		s := sig.(*Semaphore)
		if s.signaled {
			d.violate("semaphore#%d signaled again before being waited on", s.id)
		}
		s.signaled = true
	}
	if fence != nil {
		fence.signaled = true
	}
	return nil
}

func (d *Device) resetHazards() {
	for _, img := range d.images {
		img.hz.reset()
	}
	for _, b := range d.buffers {
		b.hz.reset()
	}
	for _, as := range d.structures {
		as.hz.reset()
	}
}

// Violations returns every misuse found so far.
func (d *Device) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

func (d *Device) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Submission(nil), d.submissions...)
}

func (d *Device) ClearLog() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submissions = nil
	d.violations = nil
}

// LiveImages counts images not destroyed, swapchain images excluded.
func (d *Device) LiveImages() int  { return d.liveImages }
func (d *Device) LiveBuffers() int { return d.liveBuffers }
func (d *Device) MemoryInUse() int64 {
	return d.used
}

// Buffers lists every buffer ever created.
func (d *Device) Buffers() []*Buffer {
	return append([]*Buffer(nil), d.buffers...)
}

// Structures lists every acceleration structure ever created.
func (d *Device) Structures() []*AccelerationStructure {
	return append([]*AccelerationStructure(nil), d.structures...)
}
