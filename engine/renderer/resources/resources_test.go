package resources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/gpu/headless"
)

func newPool(t *testing.T, dev *headless.Device, w, h uint32) *Pool {
	p, err := NewPool(&PoolConfig{Device: dev, Extent: gpu.Extent{Width: w, Height: h}})
	require.NoError(t, err)
	return p
}

func TestThreeSlotsAreIndependent(t *testing.T) {
	dev := headless.NewDevice(headless.Options{})
	pool := newPool(t, dev, 320, 240)
	slots, err := NewFrameSlots(pool, &FrameSlotConfig{Count: 3, InstanceCapacity: 4, UniformSize: 256})
	require.NoError(t, err)
	require.Len(t, slots, 3)

	seen := map[gpu.Image]bool{}
	for _, s := range slots {
		for _, h := range s.TracedOutputs() {
			img := pool.Image(h)
			require.NotNil(t, img)
			assert.False(t, seen[img], "traced outputs must not be shared between slots")
			seen[img] = true
		}
	}
	assert.Len(t, seen, 9)

	pool.Transition(slots[1].Shadow, gpu.LayoutGeneral, gpu.StageTop, gpu.StageRayTracingShader, 0, gpu.AccessShaderWrite)
	assert.Equal(t, gpu.LayoutGeneral, pool.Layout(slots[1].Shadow))
	assert.Equal(t, gpu.LayoutUndefined, pool.Layout(slots[0].Shadow))
	assert.Equal(t, gpu.LayoutUndefined, pool.Layout(slots[2].Shadow))
}

func TestSlotCountIsBounded(t *testing.T) {
	pool := newPool(t, headless.NewDevice(headless.Options{}), 64, 64)
	_, err := NewFrameSlots(pool, &FrameSlotConfig{Count: 4, UniformSize: 64})
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestResizeOnlyTouchesSurfaceImages(t *testing.T) {
	dev := headless.NewDevice(headless.Options{})
	pool := newPool(t, dev, 1920, 1080)

	mesh, err := pool.Allocate(Request{Name: "mesh.vertices", Kind: KindBuffer, Size: 4096, BufferUsage: gpu.BufferUsageVertex, Residency: gpu.ResidencyHost})
	require.NoError(t, err)
	vertices := make([]byte, 4096)
	for i := range vertices {
		vertices[i] = byte(i * 7)
	}
	require.NoError(t, dev.WriteBuffer(pool.Buffer(mesh), 0, vertices))
	lut, err := pool.Allocate(Request{Name: "lut", Format: gpu.FormatRGBA8Unorm, Extent: gpu.Extent{Width: 16, Height: 16}, ImageUsage: gpu.ImageUsageSampled})
	require.NoError(t, err)
	slots, err := NewFrameSlots(pool, &FrameSlotConfig{Count: 2, InstanceCapacity: 1, UniformSize: 64, HalfResReflections: true})
	require.NoError(t, err)

	meshBuffer := pool.Buffer(mesh)
	lutImage := pool.Image(lut)
	before := pool.Image(slots[0].Shadow)
	pool.SetLayout(slots[0].Shadow, gpu.LayoutShaderRead)

	require.NoError(t, pool.Resize(gpu.Extent{Width: 1280, Height: 720}))

	assert.Same(t, meshBuffer, pool.Buffer(mesh))
	assert.Equal(t, vertices, pool.Buffer(mesh).(*headless.Buffer).Bytes())
	assert.Same(t, lutImage, pool.Image(lut))
	assert.Equal(t, 1, pool.Generation(mesh))
	for _, s := range slots {
		for _, h := range s.Images() {
			assert.Equal(t, 2, pool.Generation(h))
		}
		assert.Equal(t, gpu.Extent{Width: 1280, Height: 720}, pool.Image(s.Position).Extent())
		assert.Equal(t, gpu.Extent{Width: 640, Height: 360}, pool.Image(s.Reflection).Extent())
	}
	assert.NotSame(t, before, pool.Image(slots[0].Shadow))
	assert.True(t, before.(*headless.Image).Destroyed())
	assert.Equal(t, gpu.LayoutUndefined, pool.Layout(slots[0].Shadow))
}

func TestReleaseAndUnknownHandles(t *testing.T) {
	dev := headless.NewDevice(headless.Options{})
	pool := newPool(t, dev, 8, 8)
	h, err := pool.Allocate(Request{Name: "b", Kind: KindBuffer, Size: 16})
	require.NoError(t, err)
	require.NoError(t, pool.Release(h))
	assert.ErrorIs(t, pool.Release(h), core.ErrUnknownResource)
	assert.Nil(t, pool.Buffer(h))
	assert.Equal(t, 0, dev.LiveBuffers())
}

func TestAllocationFailureIsFatal(t *testing.T) {
	dev := headless.NewDevice(headless.Options{MemoryBudget: 1 << 10})
	pool := newPool(t, dev, 64, 64)
	_, err := pool.Allocate(Request{Name: "too-big", Format: gpu.FormatRGBA32Float, Scale: 1, ImageUsage: gpu.ImageUsageSampled})
	assert.ErrorIs(t, err, core.ErrAllocationFailed)
	assert.True(t, core.IsFatal(err))
}

func TestShutdownReleasesEverything(t *testing.T) {
	dev := headless.NewDevice(headless.Options{})
	pool := newPool(t, dev, 32, 32)
	_, err := NewFrameSlots(pool, &FrameSlotConfig{Count: 2, InstanceCapacity: 2, UniformSize: 64})
	require.NoError(t, err)
	require.NoError(t, pool.Shutdown())
	assert.Equal(t, 0, pool.Len())
	assert.Equal(t, 0, dev.LiveImages())
	assert.Equal(t, int64(0), dev.MemoryInUse())
}
