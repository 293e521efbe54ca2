package renderer

import (
	"encoding/binary"
	"errors"
	m "math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/hybridrt/engine/assets"
	"github.com/spaghettifunk/hybridrt/engine/config"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/gpu/headless"
	"github.com/spaghettifunk/hybridrt/engine/math"
	"github.com/spaghettifunk/hybridrt/engine/renderer/accel"
	"github.com/spaghettifunk/hybridrt/engine/renderer/framegraph"
	"github.com/spaghettifunk/hybridrt/engine/renderer/resources"
	"github.com/spaghettifunk/hybridrt/engine/scene"
)

type emptyShaders struct{}

func (emptyShaders) Load(name string) ([]byte, error) { return assets.EmptyModule(), nil }

type queuedWatcher struct{ batches [][]string }

func (w *queuedWatcher) Poll() []string {
	if len(w.batches) == 0 {
		return nil
	}
	b := w.batches[0]
	w.batches = w.batches[1:]
	return b
}

type harness struct {
	backend  *HeadlessBackend
	dev      *headless.Device
	surface  *headless.Surface
	path     *HybridPath
	renderer *Renderer
	hud      *HUD
}

const frameTime = 16 * time.Millisecond

func newHarness(t *testing.T, settings *config.Config, opts headless.Options, watcher ShaderWatcher) *harness {
	backend := NewHeadlessBackend(gpu.Extent{Width: 64, Height: 48}, 3, opts)
	dev, surface := backend.Headless()
	metrics := core.NewMetrics()
	for i := 0; i < int(core.AVG_COUNT); i++ {
		metrics.Update(20 * time.Millisecond)
	}
	hud := NewHUD(metrics)
	cfg := &HybridConfig{
		Device:   dev,
		Surface:  surface,
		Scene:    scene.Default(),
		Shaders:  emptyShaders{},
		Overlay:  hud,
		Settings: settings,
	}
	if watcher != nil {
		cfg.Watcher = watcher
	}
	path, err := NewHybridPath(cfg)
	require.NoError(t, err)
	r, err := New(&RendererConfig{Backend: backend, Path: path})
	require.NoError(t, err)
	return &harness{backend: backend, dev: dev, surface: surface, path: path, renderer: r, hud: hud}
}

func (h *harness) run(t *testing.T, frames int) {
	for i := 0; i < frames; i++ {
		require.NoError(t, h.renderer.DrawFrame(frameTime))
	}
}

func staticSettings() *config.Config {
	s := config.Default()
	s.Features.Animate = false
	return s
}

func TestStaticSceneAccumulatesPerSlot(t *testing.T) {
	h := newHarness(t, staticSettings(), headless.Options{}, nil)
	var samples []uint32
	for i := 0; i < 6; i++ {
		require.NoError(t, h.renderer.DrawFrame(frameTime))
		samples = append(samples, h.path.SampleIndex())
	}
	assert.Equal(t, []uint32{0, 0, 1, 1, 2, 2}, samples)
	assert.Empty(t, h.dev.Violations())
	assert.Equal(t, 6, h.surface.Presented())
	assert.Equal(t, 0, h.path.TLASUpdates())
}

func TestCameraMoveResetsAccumulation(t *testing.T) {
	h := newHarness(t, staticSettings(), headless.Options{}, nil)
	h.run(t, 4)
	h.path.scene.Camera.Orbit(0.2)
	h.run(t, 1)
	assert.Equal(t, uint32(0), h.path.SampleIndex())
	h.run(t, 2)
	assert.Equal(t, uint32(1), h.path.SampleIndex())
}

func TestAnimatedSceneRefitsEveryFrame(t *testing.T) {
	h := newHarness(t, config.Default(), headless.Options{}, nil)
	structures := len(h.dev.Structures())
	var samples []uint32
	for i := 0; i < 10; i++ {
		require.NoError(t, h.renderer.DrawFrame(frameTime))
		samples = append(samples, h.path.SampleIndex())
	}

	assert.Empty(t, h.dev.Violations())
	assert.Equal(t, 10, h.path.TLASUpdates())
	stats := h.path.Accel().Stats()
	assert.Equal(t, 10, stats.Refits)
	assert.Equal(t, 0, stats.Rebuilds)
	assert.Equal(t, structures, len(h.dev.Structures()), "refits never create structures")
	assert.Equal(t, 10, h.hud.Draws())

	// a still camera keeps counting while the geometry moves
	assert.Equal(t, []uint32{0, 0, 1, 1, 2, 2, 3, 3, 4, 4}, samples)
	for _, slot := range h.path.Slots() {
		features := uniformFeatures(h, slot)
		assert.NotZero(t, features&FeatureGeometryMoved)
		assert.NotZero(t, features&FeatureAccumulate)
	}
}

func uniformFeatures(h *harness, slot *resources.FrameSlot) uint32 {
	data := h.path.Pool().Buffer(slot.Uniforms).(*headless.Buffer).Bytes()
	return binary.LittleEndian.Uint32(data[256+28:])
}

func TestStaticFramesDoNotFlagMovedGeometry(t *testing.T) {
	h := newHarness(t, staticSettings(), headless.Options{}, nil)
	h.run(t, 2)
	for _, slot := range h.path.Slots() {
		assert.Zero(t, uniformFeatures(h, slot)&FeatureGeometryMoved)
	}
}

func TestFailedFrameLeavesTheSlotUsable(t *testing.T) {
	h := newHarness(t, config.Default(), headless.Options{}, nil)
	h.run(t, 2)

	// an instance the top level structure was not built for fails the refit
	// after the gbuffer pass was already recorded
	count := len(h.path.instances)
	h.path.instances = append(h.path.instances, accel.Instance{})
	err := h.renderer.DrawFrame(frameTime)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInstanceCountMismatch)
	assert.Equal(t, 1, h.path.Scheduler().Stats().Abandoned)

	h.path.instances = h.path.instances[:count]
	h.run(t, 4)
	assert.Empty(t, h.dev.Violations())
	assert.Equal(t, 6, h.surface.Presented())
	assert.Equal(t, 1, h.surface.Recreations())
}

func TestRebuildModeWithoutUpdateSupport(t *testing.T) {
	settings := config.Default()
	settings.Features.Refit = false
	h := newHarness(t, settings, headless.Options{}, nil)
	h.run(t, 3)
	assert.Empty(t, h.dev.Violations())
	assert.Equal(t, 3, h.path.Accel().Stats().Rebuilds)
	assert.False(t, h.path.Accel().TopLevel().AllowsUpdate())
}

func TestAsyncUpdateOnComputeQueue(t *testing.T) {
	settings := config.Default()
	settings.Renderer.AsyncASUpdate = true
	settings.Renderer.FramesInFlight = 3
	h := newHarness(t, settings, headless.Options{}, nil)
	require.True(t, h.path.Scheduler().AsyncCompute())
	h.run(t, 6)

	assert.Empty(t, h.dev.Violations())
	assert.Equal(t, 6, h.path.Scheduler().Stats().ComputeWaits)
	var compute int
	for _, s := range h.dev.Submissions() {
		if s.Queue == gpu.QueueCompute {
			compute++
		}
	}
	assert.Equal(t, 6, compute)
}

func TestAsyncFallsBackWithoutComputeQueue(t *testing.T) {
	settings := config.Default()
	settings.Renderer.AsyncASUpdate = true
	h := newHarness(t, settings, headless.Options{DisableComputeQueue: true}, nil)
	assert.False(t, h.path.Scheduler().AsyncCompute())
	h.run(t, 3)
	assert.Empty(t, h.dev.Violations())
	assert.Equal(t, 3, h.path.TLASUpdates())
}

func TestOutOfDateSurfaceResizes(t *testing.T) {
	h := newHarness(t, config.Default(), headless.Options{}, nil)
	h.run(t, 3)
	slot := h.path.Slots()[0]
	generation := h.path.Pool().Generation(slot.Position)
	tlas := h.path.Accel().TopLevel()

	h.surface.MarkOutOfDate(gpu.Extent{Width: 40, Height: 30})
	h.run(t, 1)
	assert.Equal(t, 1, h.renderer.Resizes())
	assert.Equal(t, gpu.Extent{Width: 40, Height: 30}, h.path.Pool().Image(slot.Position).Extent())
	assert.Equal(t, gpu.Extent{Width: 40, Height: 30}, h.path.Pool().Image(slot.Composite).Extent())
	assert.Greater(t, h.path.Pool().Generation(slot.Position), generation)
	assert.Same(t, tlas, h.path.Accel().TopLevel(), "acceleration structures survive resizes")

	h.run(t, 4)
	assert.Empty(t, h.dev.Violations())
}

func TestSuboptimalPresentResizes(t *testing.T) {
	h := newHarness(t, staticSettings(), headless.Options{}, nil)
	h.run(t, 2)
	h.surface.MarkSuboptimal()
	h.run(t, 1)
	assert.Equal(t, 1, h.renderer.Resizes())
	h.run(t, 2)
	assert.Empty(t, h.dev.Violations())
}

func TestPendingWindowResize(t *testing.T) {
	h := newHarness(t, staticSettings(), headless.Options{}, nil)
	h.run(t, 2)
	h.renderer.OnResize(0, 0)
	h.run(t, 1)
	assert.Equal(t, 0, h.renderer.Resizes(), "minimized windows are ignored")

	h.renderer.OnResize(32, 32)
	h.run(t, 2)
	assert.Equal(t, 1, h.renderer.Resizes())
	assert.Equal(t, gpu.Extent{Width: 32, Height: 32}, h.surface.Extent())
	assert.Empty(t, h.dev.Violations())
}

func TestResizeKeepsSceneBuffersIntact(t *testing.T) {
	h := newHarness(t, config.Default(), headless.Options{}, nil)
	h.run(t, 3)

	contents := map[*headless.Buffer][]byte{}
	for _, b := range h.dev.Buffers() {
		if !b.Destroyed() {
			contents[b] = append([]byte(nil), b.Bytes()...)
		}
	}
	type asState struct {
		builds, updates int
		instances       []headless.Instance
	}
	structures := map[*headless.AccelerationStructure]asState{}
	for _, s := range h.dev.Structures() {
		if !s.Destroyed() {
			structures[s] = asState{s.Builds(), s.Updates(), s.Instances()}
		}
	}
	require.NotEmpty(t, contents)
	require.NotEmpty(t, structures)

	require.NoError(t, h.path.OnResize(gpu.Extent{Width: 80, Height: 40}))

	for b, data := range contents {
		assert.False(t, b.Destroyed(), b.String())
		assert.Equal(t, data, b.Bytes(), b.String())
	}
	for s, state := range structures {
		assert.False(t, s.Destroyed(), s.String())
		assert.Equal(t, state, asState{s.Builds(), s.Updates(), s.Instances()}, s.String())
	}

	h.run(t, 2)
	assert.Empty(t, h.dev.Violations())
}

func TestFeatureTogglesBetweenFrames(t *testing.T) {
	h := newHarness(t, config.Default(), headless.Options{}, nil)
	h.run(t, 2)

	f := h.path.Features()
	f.HalfResReflections = true
	f.AmbientOcclusion = false
	require.NoError(t, h.path.SetFeatures(f))
	h.run(t, 3)
	reflection := h.path.Pool().Image(h.path.Slots()[1].Reflection)
	assert.Equal(t, gpu.Extent{Width: 32, Height: 24}, reflection.Extent())

	f.Shadows, f.Reflections, f.UI = false, false, false
	require.NoError(t, h.path.SetFeatures(f))
	h.run(t, 3)
	assert.Empty(t, h.dev.Violations())
}

func TestShaderReloadFromWatcher(t *testing.T) {
	w := &queuedWatcher{batches: [][]string{nil, {"shadow.rmiss"}, {"unknown.glsl"}}}
	h := newHarness(t, staticSettings(), headless.Options{}, w)
	h.run(t, 4)
	// shadow.rmiss is shared by the shadow and reflection pipelines
	assert.Equal(t, 2, h.path.Reloads())
	// replaced pipelines are destroyed once every slot moved past them
	assert.Equal(t, 0, h.path.Orchestrator().Retiring())
	assert.Empty(t, h.dev.Violations())
}

func TestReloadNotifiesListeners(t *testing.T) {
	backend := NewHeadlessBackend(gpu.Extent{Width: 64, Height: 48}, 3, headless.Options{})
	dev, surface := backend.Headless()
	bus := core.NewEventBus()
	var changed, reloaded []string
	invalidations := 0
	bus.Register(core.EVENT_CODE_SHADER_CHANGED, nil, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		changed = append(changed, data.C[0])
		return true
	})
	bus.Register(core.EVENT_CODE_PIPELINE_RELOADED, nil, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		reloaded = append(reloaded, data.C[0])
		return true
	})
	bus.Register(core.EVENT_CODE_ACCUMULATION_INVALIDATED, nil, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		invalidations++
		return true
	})

	path, err := NewHybridPath(&HybridConfig{
		Device:   dev,
		Surface:  surface,
		Scene:    scene.Default(),
		Shaders:  emptyShaders{},
		Watcher:  &queuedWatcher{batches: [][]string{{"shadow.rmiss"}}},
		Settings: staticSettings(),
		Events:   bus,
	})
	require.NoError(t, err)
	r, err := New(&RendererConfig{Backend: backend, Path: path})
	require.NoError(t, err)
	require.NoError(t, r.DrawFrame(frameTime))

	assert.Equal(t, []string{"shadow.rmiss"}, changed)
	assert.Len(t, reloaded, 2)
	assert.Equal(t, 2, invalidations)
	r.Shutdown()
}

func TestRayTracingIsRequired(t *testing.T) {
	backend := NewHeadlessBackend(gpu.Extent{Width: 64, Height: 48}, 3, headless.Options{DisableRayTracing: true})
	dev, surface := backend.Headless()
	_, err := NewHybridPath(&HybridConfig{Device: dev, Surface: surface, Scene: scene.Default(), Shaders: emptyShaders{}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrRayTracingUnsupported))
	assert.True(t, core.IsFatal(err))
}

func TestShutdownReleasesEverything(t *testing.T) {
	h := newHarness(t, config.Default(), headless.Options{}, nil)
	h.run(t, 3)
	h.renderer.Shutdown()
	assert.Zero(t, h.dev.LiveImages())
	assert.Zero(t, h.dev.LiveBuffers())
	for _, s := range h.dev.Structures() {
		assert.True(t, s.Destroyed(), s.String())
	}
}

func TestUniformLayout(t *testing.T) {
	u := &FrameUniforms{
		View:           math.NewMat4Identity(),
		Projection:     math.NewMat4Identity(),
		CameraPosition: math.NewVec3(1, 2, 3),
		SampleIndex:    7,
		Width:          640,
		Height:         480,
		Features:       FeatureMask(framegraph.Features{Shadows: true, Reflections: true}, true),
		AORadius:       0.5,
	}
	data := u.Encode()
	require.Len(t, data, UniformSize)
	word := func(off int) uint32 { return binary.LittleEndian.Uint32(data[off:]) }
	assert.Equal(t, float32(2), m.Float32frombits(word(256+4)))
	assert.Equal(t, uint32(7), word(256+12))
	assert.Equal(t, uint32(640), word(256+16))
	assert.Equal(t, FeatureShadows|FeatureReflections|FeatureAccumulate, word(256+28))
	assert.Equal(t, float32(0.5), m.Float32frombits(word(256+32)))
}

func TestHUDBarFollowsFrameTime(t *testing.T) {
	hud := NewHUD(nil)
	assert.Equal(t, float32(0), hud.Bar(gpu.Extent{Width: 400, Height: 300})[2])

	metrics := core.NewMetrics()
	for i := 0; i < int(core.AVG_COUNT); i++ {
		metrics.Update(100 * time.Millisecond)
	}
	hud = NewHUD(metrics)
	assert.Equal(t, float32(100), hud.Bar(gpu.Extent{Width: 400, Height: 300})[2], "over budget clamps to the full width")
}
