package frames

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/gpu/headless"
)

func setup(t *testing.T, opts headless.Options, async bool) (*headless.Device, *headless.Surface, *Scheduler) {
	dev := headless.NewDevice(opts)
	surface := headless.NewSurface(dev, gpu.Extent{Width: 64, Height: 64}, 3)
	s, err := NewScheduler(&SchedulerConfig{Device: dev, Surface: surface, SlotCount: 2, AsyncCompute: async})
	require.NoError(t, err)
	return dev, surface, s
}

func toPresent(f *Frame) {
	f.Graphics.Barrier(nil, []gpu.ImageBarrier{{
		Image:     f.Image,
		SrcStage:  gpu.StageTop,
		DstStage:  gpu.StageBottom,
		OldLayout: gpu.LayoutUndefined,
		NewLayout: gpu.LayoutPresent,
	}})
}

func TestFramesRotateThroughSlots(t *testing.T) {
	dev, surface, s := setup(t, headless.Options{}, false)
	var slots []int
	for i := 0; i < 5; i++ {
		f, err := s.BeginFrame()
		require.NoError(t, err)
		slots = append(slots, f.Slot)
		toPresent(f)
		require.NoError(t, s.Submit(f))
		require.NoError(t, s.Present(f))
	}
	assert.Equal(t, []int{0, 1, 0, 1, 0}, slots)
	assert.Empty(t, dev.Violations())
	assert.Equal(t, 5, surface.Presented())
	assert.Equal(t, 5, s.Stats().SlotWaits)
	assert.Equal(t, 0, s.Stats().ComputeWaits)
	assert.Equal(t, uint64(5), s.FrameNumber())
}

func TestAsyncUpdatesWaitOnComputeFence(t *testing.T) {
	dev, _, s := setup(t, headless.Options{}, true)
	require.True(t, s.AsyncCompute())

	for i := 0; i < 6; i++ {
		f, err := s.BeginFrame()
		require.NoError(t, err)
		// every third frame has nothing to update
		if i%3 != 2 {
			cs, err := s.BeginCompute(f)
			require.NoError(t, err)
			assert.Equal(t, gpu.QueueCompute, cs.Queue())
			require.NoError(t, s.SubmitCompute(f))
			require.NoError(t, s.WaitCompute(f))
		}
		toPresent(f)
		require.NoError(t, s.Submit(f))
		require.NoError(t, s.Present(f))
	}
	assert.Empty(t, dev.Violations())
	assert.Equal(t, 4, s.Stats().ComputeWaits)

	var compute int
	for _, sub := range dev.Submissions() {
		if sub.Queue == gpu.QueueCompute {
			compute++
			assert.True(t, sub.Fence)
		}
	}
	assert.Equal(t, 4, compute)
}

func TestAsyncFallsBackWithoutComputeQueue(t *testing.T) {
	_, _, s := setup(t, headless.Options{DisableComputeQueue: true}, true)
	assert.False(t, s.AsyncCompute())

	f, err := s.BeginFrame()
	require.NoError(t, err)
	cs, err := s.BeginCompute(f)
	require.NoError(t, err)
	assert.Same(t, f.Graphics, cs)
}

func TestOutOfDateSurfaceIsRecreated(t *testing.T) {
	dev, surface, s := setup(t, headless.Options{}, false)
	surface.MarkOutOfDate(gpu.Extent{Width: 32, Height: 16})

	_, err := s.BeginFrame()
	require.Error(t, err)
	assert.True(t, core.IsPresentationTransient(err))

	require.NoError(t, s.Recreate(surface.Extent()))
	f, err := s.BeginFrame()
	require.NoError(t, err)
	assert.Equal(t, gpu.Extent{Width: 32, Height: 16}, f.Image.Extent())
	toPresent(f)
	require.NoError(t, s.Submit(f))

	surface.MarkSuboptimal()
	err = s.Present(f)
	assert.ErrorIs(t, err, core.ErrSwapchainSuboptimal)
	assert.Empty(t, dev.Violations())
}

func TestAbandonedFrameLeavesSlotReusable(t *testing.T) {
	dev, surface, s := setup(t, headless.Options{}, true)

	f, err := s.BeginFrame()
	require.NoError(t, err)
	_, err = s.BeginCompute(f)
	require.NoError(t, err)
	toPresent(f)
	require.NoError(t, s.Abandon(f))
	assert.Equal(t, 1, s.Stats().Abandoned)
	assert.Equal(t, 1, surface.Recreations())
	assert.Equal(t, uint64(0), s.FrameNumber())

	var slots []int
	for i := 0; i < 3; i++ {
		f, err := s.BeginFrame()
		require.NoError(t, err, "frame %d", i)
		slots = append(slots, f.Slot)
		toPresent(f)
		require.NoError(t, s.Submit(f))
		require.NoError(t, s.Present(f))
	}
	assert.Equal(t, []int{0, 1, 0}, slots)
	assert.Equal(t, 3, surface.Presented())
	assert.Empty(t, dev.Violations())

	// frames that made it to the queue are left alone
	f, err = s.BeginFrame()
	require.NoError(t, err)
	toPresent(f)
	require.NoError(t, s.Submit(f))
	require.NoError(t, s.Abandon(f))
	assert.Equal(t, 1, s.Stats().Abandoned)
	require.NoError(t, s.Present(f))
}
