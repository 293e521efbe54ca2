package headless

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

func spirv() []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint32(b, spirvMagic)
	return b
}

func newImage(t *testing.T, d *Device, name string) *Image {
	img, err := d.CreateImage(gpu.ImageDesc{Name: name, Format: gpu.FormatRGBA8Unorm, Extent: gpu.Extent{Width: 4, Height: 4}})
	require.NoError(t, err)
	return img.(*Image)
}

func submit(t *testing.T, d *Device, record func(cs gpu.CommandStream)) {
	cs, err := d.NewCommandStream(gpu.QueueGraphics)
	require.NoError(t, err)
	require.NoError(t, cs.Begin())
	record(cs)
	require.NoError(t, cs.End())
	require.NoError(t, d.Submit(gpu.QueueGraphics, gpu.SubmitInfo{Streams: []gpu.CommandStream{cs}}))
}

func TestLayoutMismatchIsReported(t *testing.T) {
	d := NewDevice(Options{})
	img := newImage(t, d, "color")

	submit(t, d, func(cs gpu.CommandStream) {
		cs.Barrier(nil, []gpu.ImageBarrier{{Image: img, OldLayout: gpu.LayoutShaderRead, NewLayout: gpu.LayoutGeneral}})
	})
	require.Len(t, d.Violations(), 1)
	assert.Contains(t, d.Violations()[0], "transitioned from shader_read")
	assert.Equal(t, gpu.LayoutGeneral, img.Layout())
}

func TestReadAfterWriteNeedsBarrier(t *testing.T) {
	d := NewDevice(Options{})
	src := newImage(t, d, "src")
	dst := newImage(t, d, "dst")

	submit(t, d, func(cs gpu.CommandStream) {
		cs.Barrier(nil, []gpu.ImageBarrier{
			{Image: src, NewLayout: gpu.LayoutTransferDst},
			{Image: dst, NewLayout: gpu.LayoutTransferDst},
		})
		cs.ClearColor(src, [4]float32{1, 0, 0, 1})
		// no barrier making the clear visible: layout is also wrong
		cs.Blit(src, dst)
	})
	assert.Len(t, d.Violations(), 2)

	d.ClearLog()
	submit(t, d, func(cs gpu.CommandStream) {
		cs.Barrier(nil, []gpu.ImageBarrier{{Image: src, OldLayout: gpu.LayoutTransferDst, NewLayout: gpu.LayoutTransferDst}})
		cs.ClearColor(src, [4]float32{0, 1, 0, 1})
		cs.Barrier(nil, []gpu.ImageBarrier{{
			Image:     src,
			SrcStage:  gpu.StageTransfer,
			DstStage:  gpu.StageTransfer,
			SrcAccess: gpu.AccessTransferWrite,
			DstAccess: gpu.AccessTransferRead,
			OldLayout: gpu.LayoutTransferDst,
			NewLayout: gpu.LayoutTransferSrc,
		}})
		cs.Blit(src, dst)
	})
	assert.Empty(t, d.Violations())
	v, ok := dst.ClearValue()
	assert.True(t, ok)
	assert.Equal(t, [4]float32{0, 1, 0, 1}, v)
}

func TestFenceAndSemaphoreProtocol(t *testing.T) {
	d := NewDevice(Options{})
	f, _ := d.CreateFence(false)
	assert.Error(t, f.Wait(gpu.WaitForever), "nothing will ever signal it")

	sem, _ := d.CreateSemaphore()
	cs, _ := d.NewCommandStream(gpu.QueueGraphics)
	require.NoError(t, cs.Begin())
	require.NoError(t, cs.End())
	require.NoError(t, d.Submit(gpu.QueueGraphics, gpu.SubmitInfo{
		Streams:    []gpu.CommandStream{cs},
		Wait:       []gpu.Semaphore{sem},
		WaitStages: []gpu.Stage{gpu.StageTop},
		Fence:      f,
	}))
	assert.NoError(t, f.Wait(gpu.WaitForever))
	require.Len(t, d.Violations(), 1)
	assert.Contains(t, d.Violations()[0], "nothing signaled")
}

func TestAllocationBudget(t *testing.T) {
	d := NewDevice(Options{MemoryBudget: 1024})
	_, err := d.CreateBuffer(gpu.BufferDesc{Name: "big", Size: 2048})
	assert.ErrorIs(t, err, core.ErrAllocationFailed)

	b, err := d.CreateBuffer(gpu.BufferDesc{Name: "small", Size: 512})
	require.NoError(t, err)
	b.Destroy()
	assert.Equal(t, int64(0), d.MemoryInUse())
}

func TestPipelineRequiresSpirv(t *testing.T) {
	d := NewDevice(Options{})
	_, err := d.CreatePipeline(gpu.PipelineDesc{Name: "broken", Stages: []gpu.ShaderStage{{Name: "x", Code: []byte("nope")}}})
	assert.ErrorIs(t, err, core.ErrPipelineCreation)

	p, err := d.CreatePipeline(gpu.PipelineDesc{
		Name: "rt",
		Kind: gpu.PipelineRayTracing,
		Stages: []gpu.ShaderStage{
			{Kind: gpu.ShaderRaygen, Name: "rgen", Code: spirv()},
			{Kind: gpu.ShaderMiss, Name: "rmiss", Code: spirv()},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p.GroupCount())

	_, err = NewDevice(Options{DisableRayTracing: true}).RayTracing()
	assert.ErrorIs(t, err, core.ErrRayTracingUnsupported)
}

func TestSurfaceOutOfDate(t *testing.T) {
	d := NewDevice(Options{})
	s := NewSurface(d, gpu.Extent{Width: 64, Height: 64}, 2)
	sem, _ := d.CreateSemaphore()

	s.MarkOutOfDate(gpu.Extent{Width: 32, Height: 32})
	_, err := s.Acquire(sem, gpu.WaitForever)
	assert.ErrorIs(t, err, core.ErrSwapchainOutOfDate)

	require.NoError(t, s.Recreate(s.Extent()))
	idx, err := s.Acquire(sem, gpu.WaitForever)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), idx)
	assert.Equal(t, gpu.Extent{Width: 32, Height: 32}, s.Image(idx).Extent())
}
