package headless

import (
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

type replayState struct {
	pipeline    *Pipeline
	bindings    []gpu.Binding
	rendering   *gpu.RenderingInfo
	vertex      *Buffer
	index       *Buffer
	pushedBytes int
}

func (d *Device) replay(s *Stream) {
	st := &replayState{}
	for i := range s.commands {
		c := &s.commands[i]
		switch c.Kind {
		case CmdBarrier:
			d.replayBarrier(c)
		case CmdBeginRendering:
			d.beginRendering(st, c.Rendering)
		case CmdEndRendering:
			if st.rendering == nil {
				d.violate("EndRendering without BeginRendering")
			}
			st.rendering = nil
		case CmdBindPipeline:
			p, _ := c.Pipeline.(*Pipeline)
			if p == nil || p.destroyed {
				d.violate("binding a destroyed pipeline")
			}
			st.pipeline = p
		case CmdBind:
			st.bindings = c.Bindings
		case CmdPushConstants:
			st.pushedBytes = len(c.Data)
		case CmdBindVertexBuffer:
			st.vertex, _ = c.Buffer.(*Buffer)
		case CmdBindIndexBuffer:
			st.index, _ = c.Buffer.(*Buffer)
		case CmdDraw, CmdDrawIndexed:
			d.draw(st, c)
		case CmdClearColor:
			d.clearColor(c.Dst.(*Image), c.Value)
		case CmdBlit:
			d.blit(c.Src.(*Image), c.Dst.(*Image))
		case CmdCopyBuffer:
			d.copyBuffer(c)
		case CmdBuildAS:
			for _, info := range c.Builds {
				d.build(info)
			}
		case CmdTraceRays:
			d.traceRays(st, c.Trace)
		}
	}
	if st.rendering != nil {
		d.violate("stream ended inside a rendering scope")
	}
}

func (d *Device) replayBarrier(c *Command) {
	for _, mb := range c.Memory {
		for _, b := range d.buffers {
			b.hz.release(mb.SrcAccess, mb.DstStage)
		}
		for _, as := range d.structures {
			as.hz.release(mb.SrcAccess, mb.DstStage)
		}
	}
	for _, ib := range c.Images {
		img := ib.Image.(*Image)
		if img.destroyed {
			d.violate("barrier on destroyed %s", img)
			continue
		}
		if ib.OldLayout != gpu.LayoutUndefined && ib.OldLayout != img.layout {
			d.violate("%s transitioned from %s but is in %s", img, ib.OldLayout, img.layout)
		}
		if ib.OldLayout == gpu.LayoutUndefined {
			img.defined = false
		}
		img.layout = ib.NewLayout
		img.hz.release(ib.SrcAccess, ib.DstStage)
	}
}

func (d *Device) beginRendering(st *replayState, info gpu.RenderingInfo) {
	if st.rendering != nil {
		d.violate("nested BeginRendering")
	}
	for _, a := range info.Color {
		img := a.Image.(*Image)
		d.checkLayout(img, gpu.LayoutColorTarget, "color attachment")
		if a.Load == gpu.LoadOpLoad {
			d.checkRead(img, gpu.StageColorOutput, "color attachment load")
		} else if a.Load == gpu.LoadOpClear {
			img.clearValue = a.Clear
			img.defined = true
		}
	}
	if info.Depth != nil {
		d.checkLayout(info.Depth.Image.(*Image), gpu.LayoutDepthTarget, "depth attachment")
	}
	st.rendering = &info
}

func (d *Device) checkLayout(img *Image, want gpu.Layout, what string) {
	if img.destroyed {
		d.violate("%s %s is destroyed", what, img)
		return
	}
	if img.layout != want {
		d.violate("%s %s is in %s, expected %s", what, img, img.layout, want)
	}
}

func (d *Device) checkRead(img *Image, stage gpu.Stage, what string) {
	if msg := img.hz.read(stage); msg != "" {
		d.violate("%s %s: %s", what, img, msg)
	}
}

// checkBindings validates the descriptors seen by a draw or trace at stage.
func (d *Device) checkBindings(st *replayState, stage gpu.Stage) {
	for _, b := range st.bindings {
		switch {
		case b.Image != nil:
			img := b.Image.(*Image)
			if img.layout != b.Layout {
				d.violate("binding %d: %s is in %s, descriptor expects %s", b.Index, img, img.layout, b.Layout)
			}
			if b.Write && b.Layout != gpu.LayoutGeneral {
				d.violate("binding %d: storage write to %s outside the general layout", b.Index, img)
			}
			if !b.Write && b.Layout.Writable() && b.Layout != gpu.LayoutGeneral {
				d.violate("binding %d: %s sampled in writable layout %s", b.Index, img, b.Layout)
			}
			d.checkRead(img, stage, "sampled image")
		case b.Structure != nil:
			as := b.Structure.(*AccelerationStructure)
			if !as.built || as.destroyed {
				d.violate("binding %d: %s is not built", b.Index, as)
			}
			if msg := as.hz.read(stage); msg != "" {
				d.violate("binding %d: %s: %s", b.Index, as, msg)
			}
		case b.Buffer != nil:
			buf := b.Buffer.(*Buffer)
			if buf.destroyed {
				d.violate("binding %d: %s is destroyed", b.Index, buf)
			}
		}
	}
}

func (d *Device) markStorageWrites(st *replayState) {
	for _, b := range st.bindings {
		if b.Image != nil && b.Write {
			img := b.Image.(*Image)
			img.hz.write(gpu.AccessShaderWrite)
			img.defined = true
			img.writes++
		}
	}
}

func (d *Device) draw(st *replayState, c *Command) {
	if st.rendering == nil {
		d.violate("draw outside a rendering scope")
		return
	}
	if st.pipeline == nil || st.pipeline.desc.Kind != gpu.PipelineGraphics {
		d.violate("draw without a graphics pipeline")
	}
	if c.Kind == CmdDrawIndexed && (st.vertex == nil || st.index == nil) {
		d.violate("indexed draw without vertex and index buffers")
	}
	d.checkBindings(st, gpu.StageFragmentShader)
	for _, a := range st.rendering.Color {
		img := a.Image.(*Image)
		img.hz.write(gpu.AccessColorWrite)
		img.defined = true
		img.writes++
	}
	if st.rendering.Depth != nil {
		img := st.rendering.Depth.Image.(*Image)
		img.hz.write(gpu.AccessDepthWrite)
		img.defined = true
		img.writes++
	}
	d.markStorageWrites(st)
}

func (d *Device) clearColor(img *Image, value [4]float32) {
	if img.layout != gpu.LayoutTransferDst && img.layout != gpu.LayoutGeneral {
		d.violate("clear of %s in %s", img, img.layout)
	}
	img.hz.write(gpu.AccessTransferWrite)
	img.clearValue = value
	img.defined = true
	img.writes++
}

func (d *Device) blit(src, dst *Image) {
	d.checkLayout(src, gpu.LayoutTransferSrc, "blit source")
	d.checkRead(src, gpu.StageTransfer, "blit source")
	d.checkLayout(dst, gpu.LayoutTransferDst, "blit destination")
	dst.hz.write(gpu.AccessTransferWrite)
	dst.clearValue = src.clearValue
	dst.defined = src.defined
	dst.writes++
}

func (d *Device) copyBuffer(c *Command) {
	src := c.SrcBuffer.(*Buffer)
	dst := c.DstBuffer.(*Buffer)
	if c.SrcOffset+c.Size > src.desc.Size || c.DstOffset+c.Size > dst.desc.Size {
		d.violate("copy of %d bytes out of bounds (%s -> %s)", c.Size, src, dst)
		return
	}
	if msg := src.hz.read(gpu.StageTransfer); msg != "" {
		d.violate("copy source %s: %s", src, msg)
	}
	copy(dst.data[c.DstOffset:c.DstOffset+c.Size], src.data[c.SrcOffset:c.SrcOffset+c.Size])
	dst.hz.write(gpu.AccessTransferWrite)
}

func (d *Device) build(info gpu.ASBuildInfo) {
	dst, _ := info.Dst.(*AccelerationStructure)
	if dst == nil || dst.destroyed {
		d.violate("acceleration structure build without a live destination")
		return
	}
	if dst.level != info.Level {
		d.violate("%s built as %s level", dst, info.Level)
	}
	sizes := d.rt.BuildSizes(info)
	if sizes.StructureSize > dst.size {
		d.violate("%s holds %d bytes, build needs %d", dst, dst.size, sizes.StructureSize)
	}

	required := sizes.BuildScratchSize
	if info.Mode == gpu.BuildModeUpdate {
		required = sizes.UpdateScratchSize
		src, _ := info.Src.(*AccelerationStructure)
		switch {
		case src == nil || !src.built:
			d.violate("update of %s without a built source", dst)
		case src.flags&gpu.BuildAllowUpdate == 0:
			d.violate("update of %s which was built without update support", src)
		case info.Level == gpu.TopLevel && uint32(len(src.instances)) != info.InstanceCount:
			d.violate("update of %s changes the instance count from %d to %d", src, len(src.instances), info.InstanceCount)
		}
	}

	scratch, _ := info.Scratch.(*Buffer)
	if scratch == nil {
		d.violate("build of %s without scratch memory", dst)
	} else {
		if scratch.desc.Size-info.ScratchOffset < required {
			d.violate("scratch %s has %d bytes at offset %d, build of %s needs %d", scratch, scratch.desc.Size, info.ScratchOffset, dst, required)
		}
		if align := int64(d.opts.Properties.MinScratchOffsetAlignment); align > 0 && (int64(scratch.address)+info.ScratchOffset)%align != 0 {
			d.violate("scratch address for %s is not %d aligned", dst, align)
		}
		if msg := scratch.hz.read(gpu.StageASBuild); msg != "" {
			d.violate("scratch %s reused by %s: %s", scratch, dst, msg)
		}
	}

	switch info.Level {
	case gpu.BottomLevel:
		var prims uint32
		for _, t := range info.Triangles {
			prims += t.PrimitiveCount()
			for _, b := range []gpu.Buffer{t.Vertices, t.Indices} {
				if buf, ok := b.(*Buffer); ok {
					if msg := buf.hz.read(gpu.StageASBuild); msg != "" {
						d.violate("geometry input %s of %s: %s", buf, dst, msg)
					}
				}
			}
		}
		dst.primitiveCount = prims
	case gpu.TopLevel:
		buf, _ := info.Instances.(*Buffer)
		need := info.InstancesOffset + int64(info.InstanceCount)*gpu.InstanceSize
		if buf == nil || need > buf.desc.Size {
			d.violate("instance buffer of %s too small for %d instances", dst, info.InstanceCount)
			return
		}
		instances := make([]Instance, info.InstanceCount)
		for i := range instances {
			off := info.InstancesOffset + int64(i)*gpu.InstanceSize
			instances[i] = decodeInstance(buf.data[off : off+gpu.InstanceSize])
			blas := d.structureByAddress(instances[i].Reference)
			if blas == nil || blas.level != gpu.BottomLevel || !blas.built {
				d.violate("instance %d of %s references no built bottom level structure", i, dst)
				continue
			}
			if msg := blas.hz.read(gpu.StageASBuild); msg != "" {
				d.violate("instance %d of %s reads %s: %s", i, dst, blas, msg)
			}
		}
		dst.instances = instances
	}

	if info.Mode == gpu.BuildModeUpdate {
		dst.updates++
	} else {
		dst.builds++
		dst.flags = info.Flags
	}
	dst.built = true
	dst.hz.write(gpu.AccessASWrite)
	if scratch != nil {
		scratch.hz.write(gpu.AccessASWrite)
	}
}

func (d *Device) traceRays(st *replayState, info gpu.TraceRaysInfo) {
	if st.rendering != nil {
		d.violate("trace rays inside a rendering scope")
	}
	if st.pipeline == nil || st.pipeline.desc.Kind != gpu.PipelineRayTracing {
		d.violate("trace rays without a ray tracing pipeline")
	}
	props := d.opts.Properties
	if info.Raygen.Size != info.Raygen.Stride {
		d.violate("raygen region size %d differs from its stride %d", info.Raygen.Size, info.Raygen.Stride)
	}
	for name, r := range map[string]gpu.StridedRegion{"raygen": info.Raygen, "miss": info.Miss, "hit": info.Hit} {
		if r.Size == 0 {
			continue
		}
		if r.Address%uint64(props.ShaderGroupBaseAlignment) != 0 {
			d.violate("%s region address %#x is not %d aligned", name, r.Address, props.ShaderGroupBaseAlignment)
		}
		if r.Stride%int64(props.ShaderGroupHandleAlignment) != 0 {
			d.violate("%s region stride %d is not %d aligned", name, r.Stride, props.ShaderGroupHandleAlignment)
		}
	}
	d.checkBindings(st, gpu.StageRayTracingShader)
	d.markStorageWrites(st)
}
