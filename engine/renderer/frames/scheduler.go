// Package frames runs the per-slot fence and semaphore protocol: wait for the
// slot, acquire, submit, present, and the optional acceleration structure
// update on the compute queue.
package frames

import (
	"fmt"

	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

// Frame is the state handed to the recorder for one slot.
type Frame struct {
	Number     uint64
	Slot       int
	ImageIndex uint32
	// Swapchain image the present pass copies into.
	Image    gpu.Image
	Graphics gpu.CommandStream

	compute      gpu.CommandStream
	computeBegun bool
	submitted    bool
}

type slotSync struct {
	inFlight       gpu.Fence
	imageAvailable gpu.Semaphore
	renderFinished gpu.Semaphore
	// signalled when the slot's tracing finished, before the next
	// acceleration structure update may touch the top level structure
	traceDone gpu.Semaphore
	graphics  gpu.CommandStream
	compute   gpu.CommandStream
}

// Stats counts host blocking points.
type Stats struct {
	SlotWaits    int
	ImageWaits   int
	ComputeWaits int
	Submits      int
	Presents     int
	Abandoned    int
}

type SchedulerConfig struct {
	Device    gpu.Device
	Surface   gpu.Surface
	SlotCount int
	// Run acceleration structure updates on the compute queue.
	AsyncCompute bool
}

type Scheduler struct {
	device  gpu.Device
	surface gpu.Surface
	async   bool

	slots          []*slotSync
	current        int
	frameNumber    uint64
	imagesInFlight []gpu.Fence

	computeFence gpu.Fence
	// traceDone semaphore of the last graphics submission not yet waited on
	pendingTrace gpu.Semaphore

	stats Stats
}

func NewScheduler(config *SchedulerConfig) (*Scheduler, error) {
	if config.Device == nil || config.Surface == nil {
		err := fmt.Errorf("func NewScheduler - device and surface are required")
		core.LogError(err.Error())
		return nil, err
	}
	if config.SlotCount < 1 {
		return nil, fmt.Errorf("func NewScheduler - slot count must be > 0: %w", core.ErrInvalidConfig)
	}
	s := &Scheduler{
		device:         config.Device,
		surface:        config.Surface,
		async:          config.AsyncCompute,
		imagesInFlight: make([]gpu.Fence, config.Surface.ImageCount()),
	}
	if s.async && !s.device.HasQueue(gpu.QueueCompute) {
		core.LogWarn("no compute queue available, acceleration structure updates stay on the graphics queue")
		s.async = false
	}

	for i := 0; i < config.SlotCount; i++ {
		sync, err := s.createSlot()
		if err != nil {
			s.Shutdown()
			return nil, err
		}
		s.slots = append(s.slots, sync)
	}
	if s.async {
		fence, err := s.device.CreateFence(true)
		if err != nil {
			s.Shutdown()
			return nil, err
		}
		s.computeFence = fence
	}
	return s, nil
}

func (s *Scheduler) createSlot() (*slotSync, error) {
	var err error
	sync := &slotSync{}
	// Created signaled so the first wait on every slot returns immediately.
	if sync.inFlight, err = s.device.CreateFence(true); err != nil {
		return nil, err
	}
	if sync.imageAvailable, err = s.device.CreateSemaphore(); err != nil {
		return nil, err
	}
	if sync.renderFinished, err = s.device.CreateSemaphore(); err != nil {
		return nil, err
	}
	if sync.graphics, err = s.device.NewCommandStream(gpu.QueueGraphics); err != nil {
		return nil, err
	}
	if s.async {
		if sync.traceDone, err = s.device.CreateSemaphore(); err != nil {
			return nil, err
		}
		if sync.compute, err = s.device.NewCommandStream(gpu.QueueCompute); err != nil {
			return nil, err
		}
	}
	return sync, nil
}

func (s *Scheduler) SlotCount() int      { return len(s.slots) }
func (s *Scheduler) AsyncCompute() bool  { return s.async }
func (s *Scheduler) Stats() Stats        { return s.stats }
func (s *Scheduler) FrameNumber() uint64 { return s.frameNumber }

// BeginFrame blocks until the current slot's previous submission retired,
// acquires a swapchain image and opens the slot's graphics stream.
// Presentation transients are returned unchanged for the caller to resize.
func (s *Scheduler) BeginFrame() (*Frame, error) {
	sync := s.slots[s.current]
	if err := sync.inFlight.Wait(gpu.WaitForever); err != nil {
		return nil, fmt.Errorf("slot %d fence wait: %w", s.current, err)
	}
	s.stats.SlotWaits++

	index, err := s.surface.Acquire(sync.imageAvailable, gpu.WaitForever)
	if err != nil {
		return nil, err
	}

	// The image may still be the target of another slot's submission.
	if f := s.imagesInFlight[index]; f != nil && f != sync.inFlight {
		if err := f.Wait(gpu.WaitForever); err != nil {
			return nil, fmt.Errorf("image %d fence wait: %w", index, err)
		}
		s.stats.ImageWaits++
	}
	s.imagesInFlight[index] = sync.inFlight

	if err := sync.graphics.Begin(); err != nil {
		return nil, err
	}
	return &Frame{
		Number:     s.frameNumber,
		Slot:       s.current,
		ImageIndex: index,
		Image:      s.surface.Image(index),
		Graphics:   sync.graphics,
		compute:    sync.compute,
	}, nil
}

// BeginCompute opens the slot's compute stream. Without a compute queue it
// returns the graphics stream so updates are recorded in line.
func (s *Scheduler) BeginCompute(f *Frame) (gpu.CommandStream, error) {
	if !s.async {
		return f.Graphics, nil
	}
	if !f.computeBegun {
		if err := f.compute.Begin(); err != nil {
			return nil, err
		}
		f.computeBegun = true
	}
	return f.compute, nil
}

// SubmitCompute submits the frame's compute work. It waits for the previous
// frame's tracing to finish reading the top level structure and signals the
// compute fence.
func (s *Scheduler) SubmitCompute(f *Frame) error {
	if !s.async || !f.computeBegun {
		return nil
	}
	if err := f.compute.End(); err != nil {
		return err
	}
	if err := s.computeFence.Reset(); err != nil {
		return err
	}
	info := gpu.SubmitInfo{
		Streams: []gpu.CommandStream{f.compute},
		Fence:   s.computeFence,
	}
	if s.pendingTrace != nil {
		info.Wait = []gpu.Semaphore{s.pendingTrace}
		info.WaitStages = []gpu.Stage{gpu.StageASBuild}
		s.pendingTrace = nil
	}
	if err := s.device.Submit(gpu.QueueCompute, info); err != nil {
		return err
	}
	s.stats.Submits++
	return nil
}

// WaitCompute blocks until the compute submission of this frame completed.
func (s *Scheduler) WaitCompute(f *Frame) error {
	if !s.async || !f.computeBegun {
		return nil
	}
	if err := s.computeFence.Wait(gpu.WaitForever); err != nil {
		return fmt.Errorf("compute fence wait: %w", err)
	}
	s.stats.ComputeWaits++
	return nil
}

// Submit ends the graphics stream and submits it, signalling the slot's
// render-finished semaphore and fence.
func (s *Scheduler) Submit(f *Frame) error {
	sync := s.slots[f.Slot]
	if err := f.Graphics.End(); err != nil {
		return err
	}
	info := gpu.SubmitInfo{
		Streams:    []gpu.CommandStream{f.Graphics},
		Wait:       []gpu.Semaphore{sync.imageAvailable},
		WaitStages: []gpu.Stage{gpu.StageColorOutput | gpu.StageTransfer},
		Signal:     []gpu.Semaphore{sync.renderFinished},
		Fence:      sync.inFlight,
	}
	if s.async {
		if s.pendingTrace != nil {
			info.Wait = append(info.Wait, s.pendingTrace)
			info.WaitStages = append(info.WaitStages, gpu.StageTop)
		}
		info.Signal = append(info.Signal, sync.traceDone)
	}

	// Reset as late as possible so a failed record never leaves the slot
	// fence unsignaled forever.
	if err := sync.inFlight.Reset(); err != nil {
		return err
	}
	if err := s.device.Submit(gpu.QueueGraphics, info); err != nil {
		return err
	}
	if s.async {
		s.pendingTrace = sync.traceDone
	}
	f.submitted = true
	s.stats.Submits++
	return nil
}

// Present hands the image back to the surface and advances to the next
// slot, whatever the outcome.
func (s *Scheduler) Present(f *Frame) error {
	sync := s.slots[f.Slot]
	s.current = (s.current + 1) % len(s.slots)
	s.frameNumber++
	if !f.submitted {
		return fmt.Errorf("frame %d presented before submission", f.Number)
	}
	err := s.surface.Present(f.ImageIndex, []gpu.Semaphore{sync.renderFinished})
	s.stats.Presents++
	return err
}

// Abandon returns the slot of a frame whose recording failed to its idle
// state: the streams are closed, the acquire semaphore is consumed by an
// empty submission that signals the slot fence, and the swapchain is rebuilt
// so the acquired image is released without being presented.
func (s *Scheduler) Abandon(f *Frame) error {
	if f.submitted {
		return nil
	}
	sync := s.slots[f.Slot]
	// End reports the recording error that got us here, if any
	_ = f.Graphics.End()
	if f.computeBegun {
		_ = f.compute.End()
		f.computeBegun = false
	}
	if err := sync.inFlight.Reset(); err != nil {
		return err
	}
	if err := s.device.Submit(gpu.QueueGraphics, gpu.SubmitInfo{
		Wait:       []gpu.Semaphore{sync.imageAvailable},
		WaitStages: []gpu.Stage{gpu.StageTop},
		Fence:      sync.inFlight,
	}); err != nil {
		return err
	}
	s.stats.Abandoned++
	return s.Recreate(s.surface.Extent())
}

// Recreate waits for the device to go idle and rebuilds the swapchain.
func (s *Scheduler) Recreate(extent gpu.Extent) error {
	if err := s.device.WaitIdle(); err != nil {
		return err
	}
	if err := s.surface.Recreate(extent); err != nil {
		return err
	}
	s.imagesInFlight = make([]gpu.Fence, s.surface.ImageCount())
	return nil
}

func (s *Scheduler) Shutdown() {
	if err := s.device.WaitIdle(); err != nil {
		core.LogWarn("wait idle before scheduler shutdown: %s", err)
	}
	for _, sync := range s.slots {
		for _, sem := range []gpu.Semaphore{sync.imageAvailable, sync.renderFinished, sync.traceDone} {
			if sem != nil {
				sem.Destroy()
			}
		}
		if sync.inFlight != nil {
			sync.inFlight.Destroy()
		}
	}
	s.slots = nil
	if s.computeFence != nil {
		s.computeFence.Destroy()
		s.computeFence = nil
	}
}
