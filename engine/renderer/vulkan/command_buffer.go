package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	State  VulkanCommandBufferState
}

func newCommandBuffer(d *VulkanDevice, pool vk.CommandPool) (*VulkanCommandBuffer, error) {
	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        pool,
		CommandBufferCount: 1,
		Level:              vk.CommandBufferLevelPrimary,
	}
	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(d.LogicalDevice, &allocateInfo, handles); res != vk.Success {
		err := fmt.Errorf("failed to allocate command buffer: %w", resultError("vkAllocateCommandBuffers", res))
		core.LogError(err.Error())
		return nil, err
	}
	return &VulkanCommandBuffer{Handle: handles[0], State: COMMAND_BUFFER_STATE_READY}, nil
}

// CommandStream records into one primary command buffer of the queue's
// pool. The buffer is reset on every Begin; callers wait for the slot fence
// first.
type CommandStream struct {
	device *VulkanDevice
	queue  gpu.Queue
	pool   vk.CommandPool
	buffer *VulkanCommandBuffer

	pipeline *VulkanPipeline
	err      error
}

func (d *VulkanDevice) NewCommandStream(queue gpu.Queue) (gpu.CommandStream, error) {
	pool := d.GraphicsCommandPool
	if queue == gpu.QueueCompute && d.ComputeCommandPool != nil {
		pool = d.ComputeCommandPool
	}
	cb, err := newCommandBuffer(d, pool)
	if err != nil {
		return nil, err
	}
	return &CommandStream{device: d, queue: queue, pool: pool, buffer: cb}, nil
}

func (s *CommandStream) Queue() gpu.Queue { return s.queue }

func (s *CommandStream) fail(format string, args ...interface{}) {
	if s.err == nil {
		s.err = fmt.Errorf(format, args...)
	}
}

func (s *CommandStream) Begin() error {
	s.err = nil
	s.pipeline = nil
	if res := vk.ResetCommandBuffer(s.buffer.Handle, 0); res != vk.Success {
		return resultError("vkResetCommandBuffer", res)
	}
	beginInfo := vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(s.buffer.Handle, &beginInfo); res != vk.Success {
		err := resultError("vkBeginCommandBuffer", res)
		core.LogError(err.Error())
		return err
	}
	s.buffer.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (s *CommandStream) End() error {
	if s.buffer.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		s.fail("stream ended inside a render pass")
	}
	if res := vk.EndCommandBuffer(s.buffer.Handle); res != vk.Success && s.err == nil {
		s.err = resultError("vkEndCommandBuffer", res)
	}
	s.buffer.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return s.err
}

func (s *CommandStream) Barrier(memory []gpu.MemoryBarrier, images []gpu.ImageBarrier) {
	var src, dst gpu.Stage
	memoryBarriers := make([]vk.MemoryBarrier, 0, len(memory))
	for _, m := range memory {
		src |= m.SrcStage
		dst |= m.DstStage
		memoryBarriers = append(memoryBarriers, vk.MemoryBarrier{
			SType:         vk.StructureTypeMemoryBarrier,
			SrcAccessMask: toVkAccess(m.SrcAccess),
			DstAccessMask: toVkAccess(m.DstAccess),
		})
	}
	imageBarriers := make([]vk.ImageMemoryBarrier, 0, len(images))
	for _, b := range images {
		img := b.Image.(*VulkanImage)
		src |= b.SrcStage
		dst |= b.DstStage
		imageBarriers = append(imageBarriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       toVkAccess(b.SrcAccess),
			DstAccessMask:       toVkAccess(b.DstAccess),
			OldLayout:           toVkLayout(b.OldLayout),
			NewLayout:           toVkLayout(b.NewLayout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.Handle,
			SubresourceRange:    img.subresources(),
		})
	}
	if len(memoryBarriers) == 0 && len(imageBarriers) == 0 {
		return
	}
	vk.CmdPipelineBarrier(s.buffer.Handle, toVkStages(src), toVkStages(dst), 0,
		uint32(len(memoryBarriers)), memoryBarriers,
		0, nil,
		uint32(len(imageBarriers)), imageBarriers)
}

func (s *CommandStream) BeginRendering(info gpu.RenderingInfo) {
	key := renderpassKeyFor(info)
	rp, err := s.device.renderpasses.get(key)
	if err != nil {
		s.fail("begin rendering: %v", err)
		return
	}
	views := make([]vk.ImageView, 0, len(info.Color)+1)
	clearValues := make([]vk.ClearValue, 0, len(info.Color)+1)
	for _, a := range info.Color {
		views = append(views, a.Image.(*VulkanImage).View)
		var cv vk.ClearValue
		cv.SetColor(a.Clear[:])
		clearValues = append(clearValues, cv)
	}
	if info.Depth != nil {
		views = append(views, info.Depth.Image.(*VulkanImage).View)
		var cv vk.ClearValue
		cv.SetDepthStencil(info.Depth.Clear[0], 0)
		clearValues = append(clearValues, cv)
	}
	fb, err := s.device.framebuffers.get(rp, views, info.Extent)
	if err != nil {
		s.fail("begin rendering: %v", err)
		return
	}

	rp.Begin(s.buffer, fb.Handle, info.Extent, clearValues)

	viewport := vk.Viewport{
		Width:    float32(info.Extent.Width),
		Height:   float32(info.Extent.Height),
		MinDepth: 0.0,
		MaxDepth: 1.0,
	}
	scissor := vk.Rect2D{
		Extent: vk.Extent2D{Width: info.Extent.Width, Height: info.Extent.Height},
	}
	vk.CmdSetViewport(s.buffer.Handle, 0, 1, []vk.Viewport{viewport})
	vk.CmdSetScissor(s.buffer.Handle, 0, 1, []vk.Rect2D{scissor})
}

func (s *CommandStream) EndRendering() {
	if s.buffer.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		s.fail("EndRendering without BeginRendering")
		return
	}
	vk.CmdEndRenderPass(s.buffer.Handle)
	s.buffer.State = COMMAND_BUFFER_STATE_RECORDING
}

func (s *CommandStream) BindPipeline(p gpu.Pipeline) {
	vp, ok := p.(*VulkanPipeline)
	if !ok || vp.Handle == nil {
		s.fail("binding a destroyed pipeline")
		return
	}
	s.pipeline = vp
	vk.CmdBindPipeline(s.buffer.Handle, vp.bindPoint, vp.Handle)
}

// Bind needs descriptor set layouts per pipeline, which this backend does
// not build yet.
func (s *CommandStream) Bind(bindings []gpu.Binding) {
	if len(bindings) > 0 {
		s.fail("bind %d resources: %w", len(bindings), gpu.ErrUnsupported)
	}
}

func (s *CommandStream) PushConstants(data []byte) {
	if s.pipeline == nil {
		s.fail("push constants without a bound pipeline")
		return
	}
	if len(data) == 0 {
		return
	}
	vk.CmdPushConstants(s.buffer.Handle, s.pipeline.PipelineLayout, s.pipeline.pushStages, 0, uint32(len(data)), unsafe.Pointer(&data[0]))
}

func (s *CommandStream) BindVertexBuffer(b gpu.Buffer, offset int64) {
	buf := b.(*VulkanBuffer)
	vk.CmdBindVertexBuffers(s.buffer.Handle, 0, 1, []vk.Buffer{buf.Handle}, []vk.DeviceSize{vk.DeviceSize(offset)})
}

func (s *CommandStream) BindIndexBuffer(b gpu.Buffer, offset int64) {
	buf := b.(*VulkanBuffer)
	vk.CmdBindIndexBuffer(s.buffer.Handle, buf.Handle, vk.DeviceSize(offset), vk.IndexTypeUint32)
}

func (s *CommandStream) Draw(vertexCount, instanceCount uint32) {
	vk.CmdDraw(s.buffer.Handle, vertexCount, instanceCount, 0, 0)
}

func (s *CommandStream) DrawIndexed(indexCount, firstIndex uint32, vertexOffset int32) {
	vk.CmdDrawIndexed(s.buffer.Handle, indexCount, 1, firstIndex, vertexOffset, 0)
}

func (s *CommandStream) ClearColor(img gpu.Image, value [4]float32) {
	vi := img.(*VulkanImage)
	var color vk.ClearColorValue
	*(*[4]float32)(unsafe.Pointer(&color)) = value
	vk.CmdClearColorImage(s.buffer.Handle, vi.Handle, vk.ImageLayoutTransferDstOptimal, &color, 1, []vk.ImageSubresourceRange{vi.subresources()})
}

func (s *CommandStream) Blit(src, dst gpu.Image) {
	from := src.(*VulkanImage)
	to := dst.(*VulkanImage)
	layers := func(i *VulkanImage) vk.ImageSubresourceLayers {
		return vk.ImageSubresourceLayers{AspectMask: aspectOf(i.desc.Format), LayerCount: 1}
	}
	corner := func(e gpu.Extent) vk.Offset3D {
		return vk.Offset3D{X: int32(e.Width), Y: int32(e.Height), Z: 1}
	}
	region := vk.ImageBlit{
		SrcSubresource: layers(from),
		SrcOffsets:     [2]vk.Offset3D{{}, corner(from.desc.Extent)},
		DstSubresource: layers(to),
		DstOffsets:     [2]vk.Offset3D{{}, corner(to.desc.Extent)},
	}
	vk.CmdBlitImage(s.buffer.Handle,
		from.Handle, vk.ImageLayoutTransferSrcOptimal,
		to.Handle, vk.ImageLayoutTransferDstOptimal,
		1, []vk.ImageBlit{region}, vk.FilterLinear)
}

func (s *CommandStream) CopyBuffer(src, dst gpu.Buffer, srcOffset, dstOffset, size int64) {
	region := vk.BufferCopy{
		SrcOffset: vk.DeviceSize(srcOffset),
		DstOffset: vk.DeviceSize(dstOffset),
		Size:      vk.DeviceSize(size),
	}
	vk.CmdCopyBuffer(s.buffer.Handle, src.(*VulkanBuffer).Handle, dst.(*VulkanBuffer).Handle, 1, []vk.BufferCopy{region})
}

func (s *CommandStream) BuildAccelerationStructures(infos []gpu.ASBuildInfo) {
	s.fail("build %d acceleration structures: %w", len(infos), gpu.ErrUnsupported)
}

func (s *CommandStream) TraceRays(info gpu.TraceRaysInfo) {
	s.fail("trace %dx%d rays: %w", info.Width, info.Height, gpu.ErrUnsupported)
}
