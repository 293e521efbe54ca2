package gpu

import "errors"

// ErrUnsupported is recorded by command streams that cannot express a command.
var ErrUnsupported = errors.New("command not supported by this device")

type Image interface {
	Extent() Extent
	Format() Format
	Destroy()
}

type Buffer interface {
	Size() int64
	Usage() BufferUsage
	Destroy()
}

type Fence interface {
	// Wait blocks until the fence is signaled or timeoutNs elapses.
	Wait(timeoutNs uint64) error
	Reset() error
	Signaled() bool
	Destroy()
}

type Semaphore interface {
	Destroy()
}

type ImageDesc struct {
	Name   string
	Format Format
	Extent Extent
	Usage  ImageUsage
}

type BufferDesc struct {
	Name      string
	Size      int64
	Usage     BufferUsage
	Residency Residency
}

type SubmitInfo struct {
	Streams []CommandStream
	// WaitStages[i] is the stage that waits on Wait[i].
	Wait       []Semaphore
	WaitStages []Stage
	Signal     []Semaphore
	// Fence is signaled once every stream completed. May be nil.
	Fence Fence
}

// Device owns every GPU object. Create* failures are allocation failures.
type Device interface {
	CreateImage(desc ImageDesc) (Image, error)
	CreateBuffer(desc BufferDesc) (Buffer, error)
	// WriteBuffer copies data into a host resident buffer.
	WriteBuffer(b Buffer, offset int64, data []byte) error

	CreateFence(signaled bool) (Fence, error)
	CreateSemaphore() (Semaphore, error)

	NewCommandStream(queue Queue) (CommandStream, error)
	Submit(queue Queue, info SubmitInfo) error

	CreatePipeline(desc PipelineDesc) (Pipeline, error)

	// HasQueue reports whether a dedicated queue of that kind exists.
	HasQueue(queue Queue) bool
	// RayTracing resolves the ray tracing capability table once. Devices
	// without it return ErrRayTracingUnsupported.
	RayTracing() (RayTracing, error)

	WaitIdle() error
	Destroy()
}

// Surface is the presentable swapchain.
type Surface interface {
	Extent() Extent
	Format() Format
	ImageCount() int
	Image(index uint32) Image
	// Acquire signals the semaphore once the returned image may be written.
	Acquire(signal Semaphore, timeoutNs uint64) (uint32, error)
	Present(index uint32, wait []Semaphore) error
	Recreate(extent Extent) error
	Destroy()
}
