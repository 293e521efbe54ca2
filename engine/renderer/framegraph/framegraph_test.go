package framegraph

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/gpu/headless"
	"github.com/spaghettifunk/hybridrt/engine/math"
	"github.com/spaghettifunk/hybridrt/engine/renderer/accel"
	"github.com/spaghettifunk/hybridrt/engine/renderer/resources"
)

type shaderMap struct {
	broken map[string]bool
}

func (s *shaderMap) Load(name string) ([]byte, error) {
	if s.broken[name] {
		return []byte("not spir-v"), nil
	}
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b, 0x07230203)
	return b, nil
}

type overlay struct{ draws int }

func (o *overlay) Draw(cs gpu.CommandStream, target gpu.Image, extent gpu.Extent) {
	cs.Draw(6, 1)
	o.draws++
}

type fixture struct {
	dev       *headless.Device
	surface   *headless.Surface
	pool      *resources.Pool
	slots     []*resources.FrameSlot
	am        *accel.Manager
	orch      *Orchestrator
	shaders   *shaderMap
	overlay   *overlay
	instances []accel.Instance
	frame     uint64
}

func newFixture(t *testing.T, features Features) *fixture {
	dev := headless.NewDevice(headless.Options{})
	rt, err := dev.RayTracing()
	require.NoError(t, err)
	pool, err := resources.NewPool(&resources.PoolConfig{Device: dev, Extent: gpu.Extent{Width: 64, Height: 48}})
	require.NoError(t, err)
	slots, err := resources.NewFrameSlots(pool, &resources.FrameSlotConfig{Count: 2, InstanceCapacity: 2, UniformSize: 256, HalfResReflections: features.HalfResReflections})
	require.NoError(t, err)
	am, err := accel.NewManager(&accel.ManagerConfig{Device: dev, RayTracing: rt, Pool: pool})
	require.NoError(t, err)

	buf := func(name string, usage gpu.BufferUsage) gpu.Buffer {
		b, err := dev.CreateBuffer(gpu.BufferDesc{Name: name, Size: 4096, Usage: usage, Residency: gpu.ResidencyHost})
		require.NoError(t, err)
		return b
	}
	scene := SceneBindings{
		Vertices:  buf("vertices", gpu.BufferUsageVertex|gpu.BufferUsageASInput),
		Indices:   buf("indices", gpu.BufferUsageIndex|gpu.BufferUsageASInput),
		Materials: buf("materials", gpu.BufferUsageStorage),
		Lights:    buf("lights", gpu.BufferUsageStorage),
	}
	geom := accel.Geometry{Name: "cube", Triangles: []gpu.TriangleGeometry{{
		Vertices: scene.Vertices, VertexStride: math.VertexStride, VertexCount: 24,
		Indices: scene.Indices, IndexCount: 36,
	}}}
	require.NoError(t, am.Prepare([]accel.Geometry{geom}, 2, true))

	f := &fixture{dev: dev, pool: pool, slots: slots, am: am, shaders: &shaderMap{broken: map[string]bool{}}, overlay: &overlay{}}
	f.surface = headless.NewSurface(dev, pool.Extent(), 3)
	f.submit(t, func(cs gpu.CommandStream) {
		blas, err := am.BuildBottomLevel(cs, geom)
		require.NoError(t, err)
		for i := 0; i < 2; i++ {
			f.instances = append(f.instances, accel.Instance{
				Transform: math.NewMat4Translation(math.NewVec3(float32(i)*2, 0, 0)).Affine(),
				Mask:      0xFF,
				BLAS:      blas,
			})
		}
		_, err = am.BuildTopLevel(cs, f.instances, pool.Buffer(slots[0].Instances), true)
		require.NoError(t, err)
	})

	f.orch, err = NewOrchestrator(&OrchestratorConfig{
		Device:       dev,
		RayTracing:   rt,
		Pool:         pool,
		Shaders:      f.shaders,
		Slots:        slots,
		Scene:        scene,
		TopLevel:     am,
		Overlay:      f.overlay,
		Features:     features,
		MaxRecursion: 2,
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) submit(t *testing.T, record func(cs gpu.CommandStream)) *headless.Stream {
	cs, err := f.dev.NewCommandStream(gpu.QueueGraphics)
	require.NoError(t, err)
	require.NoError(t, cs.Begin())
	record(cs)
	require.NoError(t, cs.End())
	require.NoError(t, f.dev.Submit(gpu.QueueGraphics, gpu.SubmitInfo{Streams: []gpu.CommandStream{cs}}))
	return cs.(*headless.Stream)
}

// frame records and submits one frame; it animates the second instance when
// the orchestrator animates.
func (f *fixture) frameWith(t *testing.T, mutate func(ctx *FrameContext)) *headless.Stream {
	slot := f.slots[int(f.frame)%len(f.slots)]
	ctx := &FrameContext{
		Frame:  f.frame,
		Slot:   slot,
		Target: f.surface.Image(uint32(f.frame % 3)),
		Draws:  []DrawItem{{IndexCount: 36, Model: math.NewMat4Identity()}},
		UpdateTLAS: func(cs gpu.CommandStream) error {
			f.instances[1].Transform = math.NewMat4EulerY(float32(f.frame) * 0.1).Affine()
			return f.am.Update(cs, accel.ModeRefit, f.instances, f.pool.Buffer(slot.Instances))
		},
	}
	if mutate != nil {
		mutate(ctx)
	}
	s := f.submit(t, func(cs gpu.CommandStream) {
		require.NoError(t, f.orch.Record(cs, ctx))
	})
	f.frame++
	return s
}

func (f *fixture) countTraces(s *headless.Stream) map[string]int {
	out := map[string]int{}
	var bound string
	for _, c := range s.Commands() {
		switch c.Kind {
		case headless.CmdBindPipeline:
			bound = c.Pipeline.Name()
		case headless.CmdTraceRays:
			out[bound]++
		}
	}
	return out
}

func TestEdgesMatchPassUses(t *testing.T) {
	for _, e := range Edges {
		src, ok := Uses[e.From][e.Resource]
		require.True(t, ok, "%s does not use %s", e.From, e.Resource)
		dst, ok := Uses[e.To][e.Resource]
		require.True(t, ok, "%s does not use %s", e.To, e.Resource)
		assert.Equal(t, src, e.Src, "%s->%s %s", e.From, e.To, e.Resource)
		assert.Equal(t, dst, e.Dst, "%s->%s %s", e.From, e.To, e.Resource)
		if !e.CrossFrame {
			assert.Less(t, int(e.From), int(e.To), "intra-frame edge must point forward")
			assert.True(t, e.Src.Writes())
		}
	}
}

func reads(u Use) bool {
	return u.Access&^u.Access.Writes() != 0
}

func hasEdge(from, to PassID, r Resource, cross bool) bool {
	for _, e := range Edges {
		if e.From == from && e.To == to && e.Resource == r && e.CrossFrame == cross {
			return true
		}
	}
	return false
}

func TestEveryReadIsCoveredByAnEdge(t *testing.T) {
	for r := Resource(0); r < resourceCount; r++ {
		var firstWriter PassID = -1
		for i, reader := range Order {
			use, ok := Uses[reader][r]
			if !ok {
				continue
			}
			if use.Writes() && firstWriter < 0 {
				firstWriter = reader
			}
			if !reads(use) {
				continue
			}
			for _, writer := range Order[:i] {
				if w, ok := Uses[writer][r]; ok && w.Writes() {
					assert.True(t, hasEdge(writer, reader, r, false), "missing %s->%s on %s", writer, reader, r)
				}
			}
		}
		require.GreaterOrEqual(t, int(firstWriter), 0, "%s is never written", r)
		for _, reader := range Order {
			use, ok := Uses[reader][r]
			if !ok || reader == firstWriter || use.Writes() {
				continue
			}
			assert.True(t, hasEdge(reader, firstWriter, r, true), "missing cross-frame %s->%s on %s", reader, firstWriter, r)
		}
	}
}

func TestFramesRecordWithoutHazards(t *testing.T) {
	f := newFixture(t, AllFeatures())
	for i := 0; i < 6; i++ {
		s := f.frameWith(t, nil)
		assert.Equal(t, map[string]int{"shadow": 1, "ao": 1, "reflection": 1}, f.countTraces(s))
	}
	assert.Empty(t, f.dev.Violations())
	assert.Equal(t, 6, f.overlay.draws)
	assert.Equal(t, 6, f.am.Stats().Refits)
	for _, slot := range f.slots {
		assert.Equal(t, gpu.LayoutShaderRead, f.pool.Layout(slot.Shadow))
		assert.Equal(t, gpu.LayoutTransferSrc, f.pool.Layout(slot.Composite))
	}
}

func TestDisabledPassesAreSkipped(t *testing.T) {
	features := AllFeatures()
	features.AmbientOcclusion = false
	features.UI = false
	features.Animate = false
	f := newFixture(t, features)
	for i := 0; i < 3; i++ {
		s := f.frameWith(t, nil)
		assert.Equal(t, map[string]int{"shadow": 1, "reflection": 1}, f.countTraces(s))
	}
	assert.Empty(t, f.dev.Violations())
	assert.Equal(t, 0, f.overlay.draws)
	assert.Equal(t, 0, f.am.Stats().Refits)

	// primed and never traced
	v, ok := f.pool.Image(f.slots[0].AO).(*headless.Image).ClearValue()
	assert.True(t, ok)
	assert.Equal(t, [4]float32{1, 1, 1, 1}, v)
}

func TestTogglingFeaturesMidRun(t *testing.T) {
	f := newFixture(t, AllFeatures())
	f.frameWith(t, nil)
	f.frameWith(t, nil)

	features := AllFeatures()
	features.Shadows = false
	features.HalfResReflections = true
	require.NoError(t, f.orch.SetFeatures(features))
	for _, slot := range f.slots {
		assert.Equal(t, gpu.Extent{Width: 32, Height: 24}, f.pool.Image(slot.Reflection).Extent())
	}
	for i := 0; i < 4; i++ {
		f.frameWith(t, nil)
	}
	assert.Empty(t, f.dev.Violations())

	v, _ := f.pool.Image(f.slots[1].Shadow).(*headless.Image).ClearValue()
	assert.Equal(t, [4]float32{1, 1, 1, 1}, v, "shadow output primed again after being switched off")
}

func TestAsyncUpdateOnlyOrdersConsumers(t *testing.T) {
	f := newFixture(t, AllFeatures())
	s := f.frameWith(t, func(ctx *FrameContext) {
		ctx.UpdateTLAS = nil
		ctx.TLASUpdatedAsync = true
	})
	for _, c := range s.Commands() {
		assert.NotEqual(t, headless.CmdBuildAS, c.Kind)
	}
	assert.Empty(t, f.dev.Violations())
}

func TestReloadFailureKeepsPipeline(t *testing.T) {
	f := newFixture(t, AllFeatures())
	before := f.orch.Pass(PassAO).Pipeline

	f.shaders.broken["ao.rgen"] = true
	err := f.orch.Reload(PassAO)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrPipelineCreation))
	assert.False(t, core.IsFatal(err))
	assert.Same(t, before, f.orch.Pass(PassAO).Pipeline)
	f.frameWith(t, nil)

	f.shaders.broken["ao.rgen"] = false
	require.NoError(t, f.orch.Reload(PassAO))
	assert.NotSame(t, before, f.orch.Pass(PassAO).Pipeline)
	assert.Equal(t, 1, f.orch.Retiring())
	assert.False(t, before.(*headless.Pipeline).Destroyed())

	for i := 0; i < len(f.slots)+1; i++ {
		f.frameWith(t, nil)
	}
	assert.Equal(t, 0, f.orch.Retiring())
	assert.True(t, before.(*headless.Pipeline).Destroyed())
	assert.Empty(t, f.dev.Violations())
}

func TestShaderBindingTableLayout(t *testing.T) {
	l := newSBTLayout(headless.DefaultProperties(), 2, 1)
	assert.Equal(t, int64(32), l.handleStride)
	assert.Equal(t, region{offset: 0, stride: 64, size: 64}, l.raygen)
	assert.Equal(t, region{offset: 64, stride: 32, size: 64}, l.miss)
	assert.Equal(t, region{offset: 128, stride: 32, size: 64}, l.hit)
	assert.Equal(t, int64(192), l.size)

	f := newFixture(t, AllFeatures())
	sbt := f.orch.Pass(PassReflection).SBT
	require.NotNil(t, sbt)
	assert.Equal(t, sbt.Raygen.Stride, sbt.Raygen.Size)
	assert.Zero(t, f.orch.Pass(PassShadow).SBT.Hit.Size)
}

func TestShutdownDestroysPipelines(t *testing.T) {
	f := newFixture(t, AllFeatures())
	p := f.orch.Pass(PassLighting).Pipeline
	f.orch.Shutdown()
	assert.True(t, p.(*headless.Pipeline).Destroyed())
}
