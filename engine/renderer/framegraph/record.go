package framegraph

import (
	"encoding/binary"
	"fmt"
	m "math"

	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/renderer/resources"
)

func (o *Orchestrator) execute(cs gpu.CommandStream, ctx *FrameContext, id PassID) error {
	slot := ctx.Slot
	switch id {
	case PassGBuffer:
		o.recordGBuffer(cs, ctx)
	case PassASUpdate:
		return ctx.UpdateTLAS(cs)
	case PassShadow:
		return o.recordTrace(cs, slot, id, ResShadow, ResPosition)
	case PassAO:
		return o.recordTrace(cs, slot, id, ResAO, ResPosition, ResNormal)
	case PassReflection:
		return o.recordTrace(cs, slot, id, ResReflection, ResPosition, ResNormal, ResUV)
	case PassLighting:
		o.recordLighting(cs, slot)
	case PassUI:
		o.recordOverlay(cs, slot)
	case PassPresent:
		o.recordPresent(cs, slot, ctx.Target)
	default:
		return fmt.Errorf("unknown pass %d", id)
	}
	return nil
}

// bindings drops empty descriptors and numbers the rest in order.
func bindings(in ...gpu.Binding) []gpu.Binding {
	out := make([]gpu.Binding, 0, len(in))
	for _, b := range in {
		if b.Image == nil && b.Buffer == nil && b.Structure == nil {
			continue
		}
		b.Index = uint32(len(out))
		out = append(out, b)
	}
	return out
}

func (o *Orchestrator) sampled(slot *resources.FrameSlot, r Resource) gpu.Binding {
	return gpu.Binding{Image: o.pool.Image(resourceHandle(slot, r)), Layout: gpu.LayoutShaderRead}
}

func encodeDrawConstants(d DrawItem) []byte {
	out := make([]byte, gbufferPushSize)
	for i, v := range d.Model.Data {
		binary.LittleEndian.PutUint32(out[i*4:], m.Float32bits(v))
	}
	binary.LittleEndian.PutUint32(out[64:], d.Material)
	return out
}

func (o *Orchestrator) recordGBuffer(cs gpu.CommandStream, ctx *FrameContext) {
	slot := ctx.Slot
	pd := o.passes[PassGBuffer]
	color := func(h resources.Handle) gpu.Attachment {
		return gpu.Attachment{Image: o.pool.Image(h), Load: gpu.LoadOpClear}
	}
	cs.BeginRendering(gpu.RenderingInfo{
		Extent: o.pool.Image(slot.Position).Extent(),
		Color:  []gpu.Attachment{color(slot.Position), color(slot.Normal), color(slot.UV)},
		Depth:  &gpu.Attachment{Image: o.pool.Image(slot.Depth), Load: gpu.LoadOpClear, Clear: [4]float32{1}},
	})
	cs.BindPipeline(pd.Pipeline)
	cs.Bind(bindings(
		gpu.Binding{Buffer: o.pool.Buffer(slot.Uniforms)},
		gpu.Binding{Buffer: o.scene.Materials},
	))
	if len(ctx.Draws) > 0 {
		cs.BindVertexBuffer(o.scene.Vertices, 0)
		cs.BindIndexBuffer(o.scene.Indices, 0)
		for _, d := range ctx.Draws {
			cs.PushConstants(encodeDrawConstants(d))
			cs.DrawIndexed(d.IndexCount, d.FirstIndex, d.VertexOffset)
		}
	}
	cs.EndRendering()
}

func (o *Orchestrator) recordTrace(cs gpu.CommandStream, slot *resources.FrameSlot, id PassID, output Resource, inputs ...Resource) error {
	pd := o.passes[id]
	tlas := o.tlas.TopLevel()
	out := o.pool.Image(resourceHandle(slot, output))
	if out == nil {
		return fmt.Errorf("%s output missing", output)
	}

	in := []gpu.Binding{{Structure: tlas.Handle()}}
	for _, r := range inputs {
		in = append(in, o.sampled(slot, r))
	}
	in = append(in,
		gpu.Binding{Image: out, Layout: gpu.LayoutGeneral, Write: true},
		gpu.Binding{Buffer: o.pool.Buffer(slot.Uniforms)},
	)
	switch id {
	case PassShadow:
		in = append(in, gpu.Binding{Buffer: o.scene.Lights})
	case PassReflection:
		in = append(in,
			gpu.Binding{Buffer: o.scene.Materials},
			gpu.Binding{Buffer: o.scene.Vertices},
			gpu.Binding{Buffer: o.scene.Indices},
			gpu.Binding{Buffer: o.scene.Lights},
		)
	}

	ext := out.Extent()
	cs.BindPipeline(pd.Pipeline)
	cs.Bind(bindings(in...))
	cs.TraceRays(gpu.TraceRaysInfo{
		Raygen: pd.SBT.Raygen,
		Miss:   pd.SBT.Miss,
		Hit:    pd.SBT.Hit,
		Width:  ext.Width,
		Height: ext.Height,
	})
	return nil
}

func (o *Orchestrator) recordLighting(cs gpu.CommandStream, slot *resources.FrameSlot) {
	pd := o.passes[PassLighting]
	composite := o.pool.Image(slot.Composite)
	cs.BeginRendering(gpu.RenderingInfo{
		Extent: composite.Extent(),
		Color:  []gpu.Attachment{{Image: composite, Load: gpu.LoadOpClear}},
	})
	cs.BindPipeline(pd.Pipeline)
	cs.Bind(bindings(
		o.sampled(slot, ResPosition),
		o.sampled(slot, ResNormal),
		o.sampled(slot, ResUV),
		o.sampled(slot, ResDepth),
		o.sampled(slot, ResShadow),
		o.sampled(slot, ResAO),
		o.sampled(slot, ResReflection),
		gpu.Binding{Buffer: o.pool.Buffer(slot.Uniforms)},
		gpu.Binding{Buffer: o.scene.Materials},
		gpu.Binding{Buffer: o.scene.Lights},
	))
	// full screen triangle
	cs.Draw(3, 1)
	cs.EndRendering()
}

func (o *Orchestrator) recordOverlay(cs gpu.CommandStream, slot *resources.FrameSlot) {
	pd := o.passes[PassUI]
	composite := o.pool.Image(slot.Composite)
	cs.BeginRendering(gpu.RenderingInfo{
		Extent: composite.Extent(),
		Color:  []gpu.Attachment{{Image: composite, Load: gpu.LoadOpLoad}},
	})
	cs.BindPipeline(pd.Pipeline)
	cs.Bind(bindings(gpu.Binding{Buffer: o.pool.Buffer(slot.Uniforms)}))
	o.overlay.Draw(cs, composite, composite.Extent())
	cs.EndRendering()
}

func (o *Orchestrator) recordPresent(cs gpu.CommandStream, slot *resources.FrameSlot, target gpu.Image) {
	cs.Barrier(nil, []gpu.ImageBarrier{{
		Image:     target,
		SrcStage:  gpu.StageTop,
		DstStage:  gpu.StageTransfer,
		DstAccess: gpu.AccessTransferWrite,
		OldLayout: gpu.LayoutUndefined,
		NewLayout: gpu.LayoutTransferDst,
	}})
	cs.Blit(o.pool.Image(slot.Composite), target)
	cs.Barrier(nil, []gpu.ImageBarrier{{
		Image:     target,
		SrcStage:  gpu.StageTransfer,
		DstStage:  gpu.StageBottom,
		SrcAccess: gpu.AccessTransferWrite,
		OldLayout: gpu.LayoutTransferDst,
		NewLayout: gpu.LayoutPresent,
	}})
}
