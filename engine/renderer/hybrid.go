package renderer

import (
	"errors"
	"fmt"
	"time"

	"github.com/spaghettifunk/hybridrt/engine/config"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/math"
	"github.com/spaghettifunk/hybridrt/engine/renderer/accel"
	"github.com/spaghettifunk/hybridrt/engine/renderer/accumulation"
	"github.com/spaghettifunk/hybridrt/engine/renderer/framegraph"
	"github.com/spaghettifunk/hybridrt/engine/renderer/frames"
	"github.com/spaghettifunk/hybridrt/engine/renderer/resources"
	"github.com/spaghettifunk/hybridrt/engine/scene"
)

// ShaderWatcher reports shader blobs changed on disk since the last poll.
type ShaderWatcher interface {
	Poll() []string
}

type HybridConfig struct {
	Device  gpu.Device
	Surface gpu.Surface
	Scene   *scene.Scene
	Shaders framegraph.ShaderSource
	// Optional.
	Watcher  ShaderWatcher
	Overlay  framegraph.Overlay
	Settings *config.Config
	// Events receives shader, reload and accumulation notifications.
	Events *core.EventBus
}

// HybridPath rasterizes a G-buffer, traces shadows, ambient occlusion and
// reflections against the scene's acceleration structures and composites
// them.
type HybridPath struct {
	device   gpu.Device
	surface  gpu.Surface
	scene    *scene.Scene
	settings *config.Config
	watcher  ShaderWatcher
	events   *core.EventBus

	pool         *resources.Pool
	slots        []*resources.FrameSlot
	accel        *accel.Manager
	orchestrator *framegraph.Orchestrator
	scheduler    *frames.Scheduler
	accumulation *accumulation.Controller
	animator     *scene.Animator

	vertices, indices, materials, lights resources.Handle
	blas                                 []*accel.Structure
	instances                            []accel.Instance

	current     *frames.Frame
	sampleIndex uint32
	tlasUpdates int
	reloads     int
}

func settingsFeatures(c *config.Config) framegraph.Features {
	return framegraph.Features{
		Shadows:            c.Features.Shadows,
		AmbientOcclusion:   c.Features.AmbientOcclusion,
		Reflections:        c.Features.Reflections,
		HalfResReflections: c.Features.HalfResReflections,
		UI:                 c.Features.UI,
		Animate:            c.Features.Animate,
	}
}

// NewHybridPath sets up every resource, builds the acceleration structures
// and creates the pass pipelines. Any failure here is fatal.
func NewHybridPath(cfg *HybridConfig) (*HybridPath, error) {
	if cfg.Device == nil || cfg.Surface == nil || cfg.Scene == nil || cfg.Shaders == nil {
		err := fmt.Errorf("func NewHybridPath - device, surface, scene and shaders are required: %w", core.ErrInvalidConfig)
		core.LogError(err.Error())
		return nil, err
	}
	settings := cfg.Settings
	if settings == nil {
		settings = config.Default()
	}
	if len(cfg.Scene.Instances) == 0 {
		err := fmt.Errorf("func NewHybridPath - scene %s has no instances: %w", cfg.Scene.Name, core.ErrInvalidConfig)
		core.LogError(err.Error())
		return nil, err
	}
	rt, err := cfg.Device.RayTracing()
	if err != nil {
		core.LogError("func NewHybridPath - %s", err)
		return nil, err
	}

	hp := &HybridPath{
		device:   cfg.Device,
		surface:  cfg.Surface,
		scene:    cfg.Scene,
		settings: settings,
		watcher:  cfg.Watcher,
		events:   cfg.Events,
		animator: scene.NewAnimator(cfg.Scene),
	}
	fail := func(err error) (*HybridPath, error) {
		core.LogError("func NewHybridPath - %s", err)
		hp.Shutdown()
		return nil, err
	}

	if hp.pool, err = resources.NewPool(&resources.PoolConfig{Device: cfg.Device, Extent: cfg.Surface.Extent()}); err != nil {
		return fail(err)
	}
	if err := hp.uploadScene(); err != nil {
		return fail(err)
	}
	hp.slots, err = resources.NewFrameSlots(hp.pool, &resources.FrameSlotConfig{
		Count:              settings.Renderer.FramesInFlight,
		InstanceCapacity:   uint32(len(cfg.Scene.Instances)),
		UniformSize:        UniformSize,
		HalfResReflections: settings.Features.HalfResReflections,
	})
	if err != nil {
		return fail(err)
	}
	if hp.accel, err = accel.NewManager(&accel.ManagerConfig{Device: cfg.Device, RayTracing: rt, Pool: hp.pool}); err != nil {
		return fail(err)
	}
	if err := hp.buildStructures(); err != nil {
		return fail(err)
	}
	hp.scheduler, err = frames.NewScheduler(&frames.SchedulerConfig{
		Device:       cfg.Device,
		Surface:      cfg.Surface,
		SlotCount:    len(hp.slots),
		AsyncCompute: settings.Renderer.AsyncASUpdate,
	})
	if err != nil {
		return fail(err)
	}
	orchestratorConfig := &framegraph.OrchestratorConfig{
		Device:     cfg.Device,
		RayTracing: rt,
		Pool:       hp.pool,
		Shaders:    cfg.Shaders,
		Slots:      hp.slots,
		Scene: framegraph.SceneBindings{
			Vertices:  hp.pool.Buffer(hp.vertices),
			Indices:   hp.pool.Buffer(hp.indices),
			Materials: hp.pool.Buffer(hp.materials),
			Lights:    hp.pool.Buffer(hp.lights),
		},
		TopLevel:     hp.accel,
		Features:     settingsFeatures(settings),
		MaxRecursion: settings.RayTracing.MaxRecursion,
	}
	if cfg.Overlay != nil {
		orchestratorConfig.Overlay = cfg.Overlay
	}
	if hp.orchestrator, err = framegraph.NewOrchestrator(orchestratorConfig); err != nil {
		return fail(err)
	}
	if hp.accumulation, err = accumulation.NewController(len(hp.slots)); err != nil {
		return fail(err)
	}
	core.LogInfo("hybrid path ready: %d frame slots, %d meshes, %d instances, async AS update %t",
		len(hp.slots), len(cfg.Scene.Meshes), len(cfg.Scene.Instances), hp.scheduler.AsyncCompute())
	return hp, nil
}

func (hp *HybridPath) uploadBuffer(name string, data []byte, usage gpu.BufferUsage) (resources.Handle, error) {
	size := int64(len(data))
	if size == 0 {
		size = 16
	}
	h, err := hp.pool.Allocate(resources.Request{
		Name:        name,
		Kind:        resources.KindBuffer,
		Size:        math.AlignUp(size, 16),
		BufferUsage: usage,
		Residency:   gpu.ResidencyHost,
	})
	if err != nil {
		return h, err
	}
	if len(data) > 0 {
		if err := hp.device.WriteBuffer(hp.pool.Buffer(h), 0, data); err != nil {
			return h, fmt.Errorf("upload %s: %w", name, err)
		}
	}
	return h, nil
}

// uploadScene copies geometry, materials and lights into buffers that
// survive resizes.
func (hp *HybridPath) uploadScene() error {
	var err error
	geometry := gpu.BufferUsageStorage | gpu.BufferUsageASInput | gpu.BufferUsageDeviceAddress
	if hp.vertices, err = hp.uploadBuffer("scene.vertices", hp.scene.EncodeVertices(), gpu.BufferUsageVertex|geometry); err != nil {
		return err
	}
	if hp.indices, err = hp.uploadBuffer("scene.indices", hp.scene.EncodeIndices(), gpu.BufferUsageIndex|geometry); err != nil {
		return err
	}
	if hp.materials, err = hp.uploadBuffer("scene.materials", hp.scene.EncodeMaterials(), gpu.BufferUsageStorage); err != nil {
		return err
	}
	if hp.lights, err = hp.uploadBuffer("scene.lights", hp.scene.EncodeLights(), gpu.BufferUsageStorage); err != nil {
		return err
	}
	return nil
}

func (hp *HybridPath) geometries() []accel.Geometry {
	out := make([]accel.Geometry, len(hp.scene.Meshes))
	for i, mesh := range hp.scene.Meshes {
		out[i] = accel.Geometry{
			Name: mesh.Name,
			Triangles: []gpu.TriangleGeometry{{
				Vertices:     hp.pool.Buffer(hp.vertices),
				VertexOffset: int64(mesh.FirstVertex) * math.VertexStride,
				VertexStride: math.VertexStride,
				VertexCount:  mesh.VertexCount,
				Indices:      hp.pool.Buffer(hp.indices),
				IndexOffset:  int64(mesh.FirstIndex) * 4,
				IndexCount:   mesh.IndexCount,
			}},
		}
	}
	return out
}

// refreshInstances rewrites the top level entries from the scene's current
// transforms.
func (hp *HybridPath) refreshInstances() {
	if hp.instances == nil {
		hp.instances = make([]accel.Instance, len(hp.scene.Instances))
	}
	for i, inst := range hp.scene.Instances {
		// closest hit shaders read the material through the custom index
		hp.instances[i] = accel.Instance{
			Transform:   inst.Transform.Local().Affine(),
			CustomIndex: hp.scene.Meshes[inst.Mesh].Material,
			Mask:        0xFF,
			Flags:       accel.InstanceFlagTriangleCullDisable,
			BLAS:        hp.blas[inst.Mesh],
		}
	}
}

// buildStructures builds one bottom level structure per mesh and the top
// level structure in a single blocking submission.
func (hp *HybridPath) buildStructures() error {
	geoms := hp.geometries()
	if err := hp.accel.Prepare(geoms, uint32(len(hp.scene.Instances)), hp.settings.Features.Refit); err != nil {
		return err
	}
	cs, err := hp.device.NewCommandStream(gpu.QueueGraphics)
	if err != nil {
		return err
	}
	if err := cs.Begin(); err != nil {
		return err
	}
	hp.blas = make([]*accel.Structure, len(geoms))
	for i, g := range geoms {
		if hp.blas[i], err = hp.accel.BuildBottomLevel(cs, g); err != nil {
			return err
		}
	}
	hp.refreshInstances()
	if _, err := hp.accel.BuildTopLevel(cs, hp.instances, hp.pool.Buffer(hp.slots[0].Instances), hp.settings.Features.Refit); err != nil {
		return err
	}
	if err := cs.End(); err != nil {
		return err
	}
	fence, err := hp.device.CreateFence(false)
	if err != nil {
		return fmt.Errorf("setup fence: %w", core.ErrAllocationFailed)
	}
	defer fence.Destroy()
	if err := hp.device.Submit(gpu.QueueGraphics, gpu.SubmitInfo{Streams: []gpu.CommandStream{cs}, Fence: fence}); err != nil {
		return fmt.Errorf("%v: %w", err, core.ErrASBuildFailed)
	}
	return fence.Wait(gpu.WaitForever)
}

func (hp *HybridPath) updateMode() accel.UpdateMode {
	if hp.settings.Features.Refit {
		return accel.ModeRefit
	}
	return accel.ModeRebuild
}

// pollReloads recreates the pipelines of passes whose shaders changed. A
// failed reload keeps the previous pipeline.
func (hp *HybridPath) pollReloads() {
	if hp.watcher == nil {
		return
	}
	reloaded := map[framegraph.PassID]bool{}
	for _, name := range hp.watcher.Poll() {
		hp.fire(core.EVENT_CODE_SHADER_CHANGED, core.EventContext{C: [2]string{name}})
		for _, id := range framegraph.PassesUsingShader(name) {
			if reloaded[id] {
				continue
			}
			reloaded[id] = true
			if err := hp.orchestrator.Reload(id); err != nil {
				continue
			}
			hp.reloads++
			hp.fire(core.EVENT_CODE_PIPELINE_RELOADED, core.EventContext{C: [2]string{id.String()}})
			hp.invalidate()
		}
	}
}

func (hp *HybridPath) fire(code core.SystemEventCode, data core.EventContext) {
	if hp.events != nil {
		hp.events.Fire(code, hp, data)
	}
}

// invalidate drops accumulated history and tells listeners about it.
func (hp *HybridPath) invalidate() {
	hp.accumulation.Invalidate()
	hp.fire(core.EVENT_CODE_ACCUMULATION_INVALIDATED, core.EventContext{})
}

func (hp *HybridPath) uniforms(frame *frames.Frame, moved bool) *FrameUniforms {
	extent := hp.surface.Extent()
	cam := hp.scene.Camera
	rtc := hp.settings.RayTracing
	features := FeatureMask(hp.orchestrator.Features(), hp.settings.Features.Accumulate)
	if moved {
		features |= FeatureGeometryMoved
	}
	return &FrameUniforms{
		View:               cam.View(),
		Projection:         cam.Projection(float32(extent.Width) / float32(extent.Height)),
		CameraPosition:     cam.Position,
		SampleIndex:        hp.sampleIndex,
		Width:              extent.Width,
		Height:             extent.Height,
		Frame:              frame.Number,
		Features:           features,
		AORadius:           rtc.AORadius,
		ShadowSamples:      rtc.ShadowSamples,
		AOSamples:          rtc.AOSamples,
		RoughnessThreshold: rtc.RoughnessThreshold,
		LightCount:         uint32(len(hp.scene.Lights)),
		MaterialCount:      uint32(len(hp.scene.Materials)),
	}
}

func (hp *HybridPath) draws() []framegraph.DrawItem {
	out := make([]framegraph.DrawItem, len(hp.scene.Instances))
	for i, inst := range hp.scene.Instances {
		mesh := hp.scene.Meshes[inst.Mesh]
		out[i] = framegraph.DrawItem{
			IndexCount:   mesh.IndexCount,
			FirstIndex:   mesh.FirstIndex,
			VertexOffset: int32(mesh.FirstVertex),
			Model:        inst.Transform.Local(),
			Material:     mesh.Material,
		}
	}
	return out
}

func (hp *HybridPath) RecordFrame(dt time.Duration) error {
	hp.pollReloads()

	frame, err := hp.scheduler.BeginFrame()
	if err != nil {
		return err
	}
	if err := hp.record(frame, dt); err != nil {
		return hp.abandon(frame, err)
	}
	hp.current = frame
	return nil
}

// abandon drops a frame that failed after BeginFrame so the next one starts
// from a clean slot and freshly primed outputs.
func (hp *HybridPath) abandon(frame *frames.Frame, cause error) error {
	core.LogWarn("frame %d abandoned: %s", frame.Number, cause)
	if err := hp.scheduler.Abandon(frame); err != nil {
		return fmt.Errorf("%v: abandoning frame %d: %w", cause, frame.Number, err)
	}
	hp.pool.DiscardLayouts()
	hp.orchestrator.RequestPrime()
	hp.invalidate()
	return cause
}

func (hp *HybridPath) record(frame *frames.Frame, dt time.Duration) error {
	slot := hp.slots[frame.Slot]
	log := core.LogWith("frame", frame.Number, "slot", frame.Slot)

	// moving geometry keeps the counter running so the sample pattern still
	// decorrelates; the shaders drop history for that frame instead
	moved := hp.orchestrator.Features().Animate && hp.animator.Update(dt)
	hp.sampleIndex = hp.accumulation.OnFrameStart(frame.Slot, hp.scene.Camera.Changed(), hp.settings.Features.Accumulate)

	u := hp.uniforms(frame, moved)
	if err := hp.device.WriteBuffer(hp.pool.Buffer(slot.Uniforms), 0, u.Encode()); err != nil {
		return err
	}

	ctx := &framegraph.FrameContext{
		Frame:  frame.Number,
		Slot:   slot,
		Target: frame.Image,
		Draws:  hp.draws(),
	}
	if moved {
		hp.refreshInstances()
		update := func(cs gpu.CommandStream) error {
			return hp.accel.Update(cs, hp.updateMode(), hp.instances, hp.pool.Buffer(slot.Instances))
		}
		if hp.scheduler.AsyncCompute() {
			if err := hp.updateAsync(frame, slot, update); err != nil {
				return err
			}
			ctx.TLASUpdatedAsync = true
		} else {
			ctx.UpdateTLAS = update
		}
		hp.tlasUpdates++
	}

	if err := hp.orchestrator.Record(frame.Graphics, ctx); err != nil {
		return err
	}
	if err := hp.scheduler.Submit(frame); err != nil {
		return err
	}
	log.Debugf("submitted, sample %d", hp.sampleIndex)
	return nil
}

// updateAsync records the top level update on the compute queue and waits
// for it on the host before the graphics stream is submitted.
func (hp *HybridPath) updateAsync(frame *frames.Frame, slot *resources.FrameSlot, update func(gpu.CommandStream) error) error {
	cs, err := hp.scheduler.BeginCompute(frame)
	if err != nil {
		return err
	}
	if err := hp.orchestrator.RecordASUpdate(cs, slot, update); err != nil {
		return err
	}
	if err := hp.scheduler.SubmitCompute(frame); err != nil {
		return err
	}
	return hp.scheduler.WaitCompute(frame)
}

func (hp *HybridPath) Present() error {
	if hp.current == nil {
		return errors.New("present without a recorded frame")
	}
	f := hp.current
	hp.current = nil
	return hp.scheduler.Present(f)
}

func (hp *HybridPath) OnResize(extent gpu.Extent) error {
	if err := hp.scheduler.Recreate(extent); err != nil {
		return err
	}
	if err := hp.pool.Resize(extent); err != nil {
		return err
	}
	hp.orchestrator.RequestPrime()
	hp.invalidate()
	core.LogInfo("resized to %dx%d", extent.Width, extent.Height)
	return nil
}

// SetFeatures applies new feature toggles between frames.
func (hp *HybridPath) SetFeatures(f framegraph.Features) error {
	prev := hp.orchestrator.Features()
	if prev.HalfResReflections != f.HalfResReflections {
		if err := hp.device.WaitIdle(); err != nil {
			return err
		}
		hp.invalidate()
	}
	return hp.orchestrator.SetFeatures(f)
}

func (hp *HybridPath) Features() framegraph.Features { return hp.orchestrator.Features() }

func (hp *HybridPath) Pool() *resources.Pool                  { return hp.pool }
func (hp *HybridPath) Slots() []*resources.FrameSlot          { return hp.slots }
func (hp *HybridPath) Accel() *accel.Manager                  { return hp.accel }
func (hp *HybridPath) Orchestrator() *framegraph.Orchestrator { return hp.orchestrator }
func (hp *HybridPath) Scheduler() *frames.Scheduler           { return hp.scheduler }
func (hp *HybridPath) Accumulation() *accumulation.Controller { return hp.accumulation }
func (hp *HybridPath) SampleIndex() uint32                    { return hp.sampleIndex }
func (hp *HybridPath) TLASUpdates() int                       { return hp.tlasUpdates }
func (hp *HybridPath) Reloads() int                           { return hp.reloads }

// Shutdown releases everything in dependency order: frame synchronization,
// pass pipelines, acceleration structures, then the resource pool.
func (hp *HybridPath) Shutdown() {
	if hp.scheduler != nil {
		hp.scheduler.Shutdown()
		hp.scheduler = nil
	} else if hp.device != nil {
		if err := hp.device.WaitIdle(); err != nil {
			core.LogWarn("wait idle before shutdown: %s", err)
		}
	}
	if hp.orchestrator != nil {
		hp.orchestrator.Shutdown()
		hp.orchestrator = nil
	}
	if hp.accel != nil {
		if err := hp.accel.Shutdown(); err != nil {
			core.LogWarn("acceleration structure shutdown: %s", err)
		}
		hp.accel = nil
	}
	if hp.pool != nil {
		if err := hp.pool.Shutdown(); err != nil {
			core.LogWarn("resource pool shutdown: %s", err)
		}
		hp.pool = nil
	}
}
