package accel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/gpu/headless"
	"github.com/spaghettifunk/hybridrt/engine/math"
	"github.com/spaghettifunk/hybridrt/engine/renderer/resources"
)

type fixture struct {
	dev       *headless.Device
	pool      *resources.Pool
	am        *Manager
	geoms     []Geometry
	instances gpu.Buffer
}

func newFixture(t *testing.T, instanceCapacity int) *fixture {
	dev := headless.NewDevice(headless.Options{})
	rt, err := dev.RayTracing()
	require.NoError(t, err)
	pool, err := resources.NewPool(&resources.PoolConfig{Device: dev, Extent: gpu.Extent{Width: 64, Height: 64}})
	require.NoError(t, err)
	am, err := NewManager(&ManagerConfig{Device: dev, RayTracing: rt, Pool: pool})
	require.NoError(t, err)

	f := &fixture{dev: dev, pool: pool, am: am}
	for i, tris := range []uint32{12, 2} {
		vb, err := dev.CreateBuffer(gpu.BufferDesc{Name: "vb", Size: 1024, Usage: gpu.BufferUsageASInput})
		require.NoError(t, err)
		ib, err := dev.CreateBuffer(gpu.BufferDesc{Name: "ib", Size: 1024, Usage: gpu.BufferUsageASInput})
		require.NoError(t, err)
		f.geoms = append(f.geoms, Geometry{
			Name: []string{"cube", "plane"}[i],
			Triangles: []gpu.TriangleGeometry{{
				Vertices: vb, VertexStride: math.VertexStride, VertexCount: tris * 2,
				Indices: ib, IndexCount: tris * 3,
			}},
		})
	}
	f.instances, err = dev.CreateBuffer(gpu.BufferDesc{
		Name:      "instances",
		Size:      int64(instanceCapacity) * gpu.InstanceSize,
		Usage:     gpu.BufferUsageASInput,
		Residency: gpu.ResidencyHost,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) run(t *testing.T, record func(cs gpu.CommandStream)) {
	cs, err := f.dev.NewCommandStream(gpu.QueueGraphics)
	require.NoError(t, err)
	require.NoError(t, cs.Begin())
	record(cs)
	require.NoError(t, cs.End())
	require.NoError(t, f.dev.Submit(gpu.QueueGraphics, gpu.SubmitInfo{Streams: []gpu.CommandStream{cs}}))
}

func (f *fixture) buildScene(t *testing.T, allowUpdate bool) []Instance {
	require.NoError(t, f.am.Prepare(f.geoms, 3, allowUpdate))
	var instances []Instance
	f.run(t, func(cs gpu.CommandStream) {
		var blas []*Structure
		for _, g := range f.geoms {
			s, err := f.am.BuildBottomLevel(cs, g)
			require.NoError(t, err)
			blas = append(blas, s)
		}
		for i := 0; i < 3; i++ {
			instances = append(instances, Instance{
				Transform:   math.NewMat4Translation(math.NewVec3(float32(i), 0, 0)).Affine(),
				CustomIndex: uint32(i),
				Mask:        0xFF,
				BLAS:        blas[i%2],
			})
		}
		_, err := f.am.BuildTopLevel(cs, instances, f.instances, allowUpdate)
		require.NoError(t, err)
	})
	return instances
}

func TestScratchIsTheLargestRequirement(t *testing.T) {
	f := newFixture(t, 3)
	f.buildScene(t, true)

	reqs := f.am.ScratchRequirements()
	require.Len(t, reqs, 4)
	largest := math.MaxOf(reqs...)
	assert.GreaterOrEqual(t, f.am.ScratchSize(), largest)
	assert.Less(t, f.am.ScratchSize()-largest, int64(128))
	assert.Empty(t, f.dev.Violations())
}

func TestRefitRequiresAllowUpdate(t *testing.T) {
	f := newFixture(t, 3)
	instances := f.buildScene(t, false)
	tlas := f.am.TopLevel()

	f.run(t, func(cs gpu.CommandStream) {
		err := f.am.Refit(cs, tlas, instances, f.instances)
		assert.ErrorIs(t, err, core.ErrRefitNotAllowed)
		assert.True(t, core.IsFatal(err))
		assert.NoError(t, f.am.Rebuild(cs, tlas, instances, f.instances))
	})
	assert.Empty(t, f.dev.Violations())
	assert.Equal(t, 1, f.am.Stats().Rebuilds)
	assert.Equal(t, 0, f.am.Stats().Refits)
}

func TestRefitKeepsInstanceCount(t *testing.T) {
	f := newFixture(t, 3)
	instances := f.buildScene(t, true)

	f.run(t, func(cs gpu.CommandStream) {
		err := f.am.Refit(cs, f.am.TopLevel(), instances[:2], f.instances)
		assert.ErrorIs(t, err, core.ErrInstanceCountMismatch)
	})
}

func TestAnimatedRefitTouchesOnlyOneTransform(t *testing.T) {
	f := newFixture(t, 3)
	instances := f.buildScene(t, true)
	tlas := f.am.TopLevel().Handle().(*headless.AccelerationStructure)
	structures := len(f.dev.Structures())
	initial := tlas.Instances()

	spin := math.NewTransform(math.NewVec3(1, 0, 0))
	for frame := 0; frame < 10; frame++ {
		spin.Rotate(0.1)
		instances[1].Transform = spin.Local().Affine()
		f.run(t, func(cs gpu.CommandStream) {
			require.NoError(t, f.am.Update(cs, ModeRefit, instances, f.instances))
		})

		stored := tlas.Instances()
		require.Len(t, stored, 3)
		assert.Equal(t, initial[0], stored[0])
		assert.Equal(t, initial[2], stored[2])
		assert.Equal(t, instances[1].Transform, stored[1].Transform)
		assert.Equal(t, initial[1].Reference, stored[1].Reference)
	}
	assert.Equal(t, structures, len(f.dev.Structures()))
	assert.Equal(t, 10, tlas.Updates())
	assert.Equal(t, 1, tlas.Builds())
	assert.Equal(t, 2, f.am.Stats().BottomLevel)
	assert.Empty(t, f.dev.Violations())
}

func TestBuildWithoutPreparedScratchFails(t *testing.T) {
	f := newFixture(t, 1)
	f.run(t, func(cs gpu.CommandStream) {
		_, err := f.am.BuildBottomLevel(cs, f.geoms[0])
		assert.ErrorIs(t, err, core.ErrASBuildFailed)
	})
}

func TestShutdownFreesStructures(t *testing.T) {
	f := newFixture(t, 3)
	f.buildScene(t, true)
	require.NoError(t, f.am.Shutdown())
	for _, s := range f.dev.Structures() {
		assert.True(t, s.Destroyed())
	}
	assert.Equal(t, 0, f.pool.Len())
}

func TestEncodeInstances(t *testing.T) {
	blas := &Structure{level: gpu.BottomLevel}
	rec := EncodeInstances([]Instance{{CustomIndex: 7, Mask: 0xAB, HitGroup: 2, Flags: InstanceFlagForceOpaque, BLAS: blas}})
	require.Len(t, rec, gpu.InstanceSize)
	assert.Equal(t, []byte{7, 0, 0, 0xAB}, rec[48:52])
	assert.Equal(t, []byte{2, 0, 0, InstanceFlagForceOpaque}, rec[52:56])
}
