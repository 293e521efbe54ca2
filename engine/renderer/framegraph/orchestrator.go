package framegraph

import (
	"fmt"

	"github.com/spaghettifunk/hybridrt/engine/containers"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/math"
	"github.com/spaghettifunk/hybridrt/engine/renderer/accel"
	"github.com/spaghettifunk/hybridrt/engine/renderer/resources"
)

// Overlay draws on top of the lit composite before it is presented.
type Overlay interface {
	Draw(cs gpu.CommandStream, target gpu.Image, extent gpu.Extent)
}

// TopLevelSource resolves the structure traced by the ray traced passes.
type TopLevelSource interface {
	TopLevel() *accel.Structure
}

// SceneBindings are the resolution independent buffers every frame reads.
type SceneBindings struct {
	Vertices  gpu.Buffer
	Indices   gpu.Buffer
	Materials gpu.Buffer
	Lights    gpu.Buffer
}

// DrawItem is one indexed draw of the G-buffer pass.
type DrawItem struct {
	IndexCount   uint32
	FirstIndex   uint32
	VertexOffset int32
	Model        math.Mat4
	Material     uint32
}

// FrameContext is what Record needs to know about the frame being recorded.
type FrameContext struct {
	Frame  uint64
	Slot   *resources.FrameSlot
	Target gpu.Image
	Draws  []DrawItem
	// UpdateTLAS records the top level refit or rebuild in line. Nil when
	// nothing animates this frame.
	UpdateTLAS func(cs gpu.CommandStream) error
	// TLASUpdatedAsync is set when the update already ran on the compute
	// queue for this frame.
	TLASUpdatedAsync bool
}

// PassDescriptor is the static description of one pass: its pipeline and
// shader binding table, the resources it uses and the edges resolved
// before and after it.
type PassDescriptor struct {
	ID       PassID
	Pipeline gpu.Pipeline
	SBT      *ShaderBindingTable
	Uses     map[Resource]Use
	Pre      []Edge
	Post     []Edge
}

// resources returns the used resources in declaration order.
func (pd *PassDescriptor) resources() []Resource {
	var out []Resource
	for r := Resource(0); r < resourceCount; r++ {
		if _, ok := pd.Uses[r]; ok {
			out = append(out, r)
		}
	}
	return out
}

type retired struct {
	pipeline gpu.Pipeline
	sbt      *ShaderBindingTable
	at       uint64
}

type OrchestratorConfig struct {
	Device     gpu.Device
	RayTracing gpu.RayTracing
	Pool       *resources.Pool
	Shaders    ShaderSource
	Slots      []*resources.FrameSlot
	Scene      SceneBindings
	TopLevel   TopLevelSource
	Overlay    Overlay
	Features   Features
	// Recursion depth of the reflection pipeline.
	MaxRecursion uint32
}

type Orchestrator struct {
	device       gpu.Device
	rt           gpu.RayTracing
	pool         *resources.Pool
	shaders      ShaderSource
	slots        []*resources.FrameSlot
	scene        SceneBindings
	tlas         TopLevelSource
	overlay      Overlay
	features     Features
	maxRecursion uint32

	passes     [passCount]*PassDescriptor
	retire     *containers.RingQueue[retired]
	needsPrime []bool
	frame      uint64
}

func NewOrchestrator(config *OrchestratorConfig) (*Orchestrator, error) {
	if config.Device == nil || config.RayTracing == nil || config.Pool == nil || config.Shaders == nil || config.TopLevel == nil {
		err := fmt.Errorf("func NewOrchestrator - device, ray tracing, pool, shaders and top level source are required")
		core.LogError(err.Error())
		return nil, err
	}
	if len(config.Slots) == 0 {
		return nil, fmt.Errorf("func NewOrchestrator - no frame slots")
	}
	o := &Orchestrator{
		device:       config.Device,
		rt:           config.RayTracing,
		pool:         config.Pool,
		shaders:      config.Shaders,
		slots:        config.Slots,
		scene:        config.Scene,
		tlas:         config.TopLevel,
		overlay:      config.Overlay,
		features:     config.Features,
		maxRecursion: math.Clamp(config.MaxRecursion, 1, config.RayTracing.Properties().MaxRecursionDepth),
		retire:       containers.NewRingQueue[retired](int(passCount) * len(config.Slots)),
		needsPrime:   make([]bool, len(config.Slots)),
	}
	for _, id := range Order {
		pd := &PassDescriptor{ID: id, Uses: Uses[id]}
		for _, e := range Edges {
			switch {
			case e.CrossFrame && e.To == id:
				pd.Pre = append(pd.Pre, e)
			case !e.CrossFrame && e.From == id:
				pd.Post = append(pd.Post, e)
			}
		}
		if _, ok := pipelineSpecs[id]; ok {
			p, sbt, err := o.createPass(id)
			if err != nil {
				o.Shutdown()
				core.LogError(err.Error())
				return nil, err
			}
			pd.Pipeline, pd.SBT = p, sbt
		}
		o.passes[id] = pd
	}
	o.RequestPrime()
	return o, nil
}

func (o *Orchestrator) Pass(id PassID) *PassDescriptor {
	return o.passes[id]
}

func (o *Orchestrator) Features() Features {
	return o.features
}

// SetFeatures applies new toggles. Outputs of traced passes that get
// switched off, and the reflection image when its resolution changes, are
// primed again so lighting never reads stale content. The caller must have
// drained the GPU when the reflection resolution changes.
func (o *Orchestrator) SetFeatures(f Features) error {
	prev := o.features
	o.features = f
	if prev.HalfResReflections != f.HalfResReflections {
		for _, s := range o.slots {
			if err := o.pool.SetScale(s.Reflection, resources.ReflectionScale(f.HalfResReflections)); err != nil {
				return err
			}
		}
		o.RequestPrime()
	}
	if (prev.Shadows && !f.Shadows) || (prev.AmbientOcclusion && !f.AmbientOcclusion) || (prev.Reflections && !f.Reflections) {
		o.RequestPrime()
	}
	return nil
}

// RequestPrime clears the traced outputs of every slot at its next frame.
func (o *Orchestrator) RequestPrime() {
	for i := range o.needsPrime {
		o.needsPrime[i] = true
	}
}

var primeValues = map[Resource][4]float32{
	ResShadow:     {1, 1, 1, 1},
	ResAO:         {1, 1, 1, 1},
	ResReflection: {0, 0, 0, 0},
}

// Prime clears the traced outputs of slot to neutral values and leaves them
// readable by the lighting pass.
func (o *Orchestrator) Prime(cs gpu.CommandStream, slot *resources.FrameSlot) {
	outputs := []Resource{ResShadow, ResAO, ResReflection}
	var pre, post []gpu.ImageBarrier
	for _, r := range outputs {
		h := resourceHandle(slot, r)
		src, srcAccess := gpu.StageFragmentShader|gpu.StageRayTracingShader, gpu.AccessShaderRead|gpu.AccessShaderWrite
		if o.pool.Layout(h) == gpu.LayoutUndefined {
			src, srcAccess = gpu.StageTop, gpu.AccessNone
		}
		pre = append(pre, o.pool.Transition(h, gpu.LayoutTransferDst, src, gpu.StageTransfer, srcAccess, gpu.AccessTransferWrite))
	}
	cs.Barrier(nil, pre)
	for _, r := range outputs {
		cs.ClearColor(o.pool.Image(resourceHandle(slot, r)), primeValues[r])
	}
	for _, r := range outputs {
		post = append(post, o.pool.Transition(resourceHandle(slot, r), gpu.LayoutShaderRead,
			gpu.StageTransfer, gpu.StageRayTracingShader|gpu.StageFragmentShader,
			gpu.AccessTransferWrite, gpu.AccessShaderRead))
	}
	cs.Barrier(nil, post)
	o.needsPrime[slot.Index] = false
}

func resourceHandle(slot *resources.FrameSlot, r Resource) resources.Handle {
	switch r {
	case ResPosition:
		return slot.Position
	case ResNormal:
		return slot.Normal
	case ResUV:
		return slot.UV
	case ResDepth:
		return slot.Depth
	case ResShadow:
		return slot.Shadow
	case ResAO:
		return slot.AO
	case ResReflection:
		return slot.Reflection
	case ResComposite:
		return slot.Composite
	}
	return containers.InvalidHandle
}

// Enabled reports whether pass runs in the frame described by ctx.
func (o *Orchestrator) Enabled(id PassID, ctx *FrameContext) bool {
	switch id {
	case PassASUpdate:
		return o.features.Animate && (ctx.UpdateTLAS != nil || ctx.TLASUpdatedAsync)
	case PassShadow:
		return o.features.Shadows
	case PassAO:
		return o.features.AmbientOcclusion
	case PassReflection:
		return o.features.Reflections
	case PassUI:
		return o.features.UI && o.overlay != nil
	}
	return true
}

// Record records the whole pass sequence of one frame into cs.
func (o *Orchestrator) Record(cs gpu.CommandStream, ctx *FrameContext) error {
	if ctx.Slot == nil || ctx.Target == nil {
		return fmt.Errorf("frame %d: slot and target are required", ctx.Frame)
	}
	o.frame = ctx.Frame
	o.collectRetired()

	if o.needsPrime[ctx.Slot.Index] {
		o.Prime(cs, ctx.Slot)
	}
	tlas := o.tlas.TopLevel()
	for _, id := range Order {
		if !o.Enabled(id, ctx) {
			continue
		}
		if id.Traced() && (tlas == nil || !tlas.Built()) {
			return fmt.Errorf("pass %s: no top level structure to trace", id)
		}
		if id == PassASUpdate && ctx.TLASUpdatedAsync {
			// recorded on the compute stream; only its consumers are ordered here
			o.resolveOutgoing(cs, ctx, id)
			continue
		}
		o.resolveIncoming(cs, ctx.Slot, id)
		if err := o.execute(cs, ctx, id); err != nil {
			return fmt.Errorf("pass %s: %w", id, err)
		}
		o.resolveOutgoing(cs, ctx, id)
	}
	return nil
}

// RecordASUpdate records the top level update with its cross-frame edges
// into a stream of its own, for updates running on the compute queue.
func (o *Orchestrator) RecordASUpdate(cs gpu.CommandStream, slot *resources.FrameSlot, update func(cs gpu.CommandStream) error) error {
	o.resolveIncoming(cs, slot, PassASUpdate)
	return update(cs)
}

// resolveIncoming orders id after the previous frame's use of everything it
// touches, merging every cross-frame edge on the same resource.
func (o *Orchestrator) resolveIncoming(cs gpu.CommandStream, slot *resources.FrameSlot, id PassID) {
	var memory []gpu.MemoryBarrier
	var images []gpu.ImageBarrier
	for _, r := range o.passes[id].resources() {
		use := o.passes[id].Uses[r]
		edges := incoming(id, r)
		if len(edges) == 0 {
			continue
		}
		var src gpu.Stage
		var srcAccess gpu.Access
		for _, e := range edges {
			src |= e.Src.Stage
			srcAccess |= e.Src.Access
		}
		if !r.IsImage() {
			memory = append(memory, gpu.MemoryBarrier{SrcStage: src, DstStage: use.Stage, SrcAccess: srcAccess, DstAccess: use.Access})
			continue
		}
		h := resourceHandle(slot, r)
		if o.pool.Layout(h) == gpu.LayoutUndefined {
			src, srcAccess = gpu.StageTop, gpu.AccessNone
		}
		images = append(images, o.pool.Transition(h, use.Layout, src, use.Stage, srcAccess, use.Access))
	}
	cs.Barrier(memory, images)
}

// resolveOutgoing makes what id wrote visible to its enabled consumers, up
// to and including the next enabled pass that writes the same resource.
func (o *Orchestrator) resolveOutgoing(cs gpu.CommandStream, ctx *FrameContext, id PassID) {
	var memory []gpu.MemoryBarrier
	var images []gpu.ImageBarrier
	for _, r := range o.passes[id].resources() {
		use := o.passes[id].Uses[r]
		if !use.Writes() {
			continue
		}
		var dst gpu.Stage
		var dstAccess gpu.Access
		layout := gpu.LayoutUndefined
		found := false
		for _, e := range outgoing(id, r) {
			if !o.Enabled(e.To, ctx) {
				continue
			}
			if !found {
				layout = e.Dst.Layout
				found = true
			}
			dst |= e.Dst.Stage
			dstAccess |= e.Dst.Access
			if e.Dst.Writes() {
				break
			}
		}
		if !found {
			continue
		}
		if !r.IsImage() {
			memory = append(memory, gpu.MemoryBarrier{SrcStage: use.Stage, DstStage: dst, SrcAccess: use.Access.Writes(), DstAccess: dstAccess})
			continue
		}
		images = append(images, o.pool.Transition(resourceHandle(ctx.Slot, r), layout, use.Stage, dst, use.Access.Writes(), dstAccess))
	}
	cs.Barrier(memory, images)
}

// Reload recreates the pipeline of one pass. On failure the previous
// pipeline stays in use and the error is returned; on success the previous
// one is destroyed once no in-flight frame can reference it.
func (o *Orchestrator) Reload(id PassID) error {
	pd := o.passes[id]
	if pd == nil || pd.Pipeline == nil {
		return fmt.Errorf("pass %s has no pipeline to reload", id)
	}
	p, sbt, err := o.createPass(id)
	if err != nil {
		core.LogError("reload of %s failed, keeping the current pipeline: %s", id, err)
		return err
	}
	old := retired{pipeline: pd.Pipeline, sbt: pd.SBT, at: o.frame + uint64(len(o.slots))}
	if err := o.retire.Enqueue(old); err != nil {
		if err := o.device.WaitIdle(); err != nil {
			return err
		}
		o.destroyRetired(old)
	}
	pd.Pipeline, pd.SBT = p, sbt
	core.LogInfo("reloaded %s pipeline", id)
	return nil
}

func (o *Orchestrator) destroyRetired(r retired) {
	r.pipeline.Destroy()
	r.sbt.release(o.pool)
}

func (o *Orchestrator) collectRetired() {
	for !o.retire.IsEmpty() {
		r, err := o.retire.Peek()
		if err != nil || r.at > o.frame {
			return
		}
		_, _ = o.retire.Dequeue()
		o.destroyRetired(r)
	}
}

// Retiring counts replaced pipelines not destroyed yet.
func (o *Orchestrator) Retiring() int {
	return o.retire.Len()
}

// Shutdown destroys every pipeline and shader binding table.
func (o *Orchestrator) Shutdown() {
	for !o.retire.IsEmpty() {
		r, _ := o.retire.Dequeue()
		o.destroyRetired(r)
	}
	for _, pd := range o.passes {
		if pd == nil {
			continue
		}
		if pd.Pipeline != nil {
			pd.Pipeline.Destroy()
			pd.Pipeline = nil
		}
		pd.SBT.release(o.pool)
		pd.SBT = nil
	}
}
