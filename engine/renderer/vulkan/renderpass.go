package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

// maxColorAttachments bounds the attachments of one pass.
const maxColorAttachments = 4

// renderpassKey identifies a single subpass render pass. Attachments stay in
// their attachment layout across the pass; barriers outside do the
// transitions.
type renderpassKey struct {
	colors     [maxColorAttachments]gpu.Format
	colorLoads [maxColorAttachments]gpu.LoadOp
	colorCount int
	depth      gpu.Format
	depthLoad  gpu.LoadOp
}

func renderpassKeyFor(info gpu.RenderingInfo) renderpassKey {
	var key renderpassKey
	for i, a := range info.Color {
		if i == maxColorAttachments {
			break
		}
		key.colors[i] = a.Image.Format()
		key.colorLoads[i] = a.Load
		key.colorCount++
	}
	if info.Depth != nil {
		key.depth = info.Depth.Image.Format()
		key.depthLoad = info.Depth.Load
	}
	return key
}

// compatibleKey is the key used when a pipeline is created; load operations
// do not affect render pass compatibility.
func compatibleKey(colors []gpu.Format, depth gpu.Format) renderpassKey {
	var key renderpassKey
	for i, f := range colors {
		if i == maxColorAttachments {
			break
		}
		key.colors[i] = f
		key.colorLoads[i] = gpu.LoadOpLoad
		key.colorCount++
	}
	key.depth = depth
	key.depthLoad = gpu.LoadOpLoad
	return key
}

func toVkLoadOp(op gpu.LoadOp) vk.AttachmentLoadOp {
	switch op {
	case gpu.LoadOpClear:
		return vk.AttachmentLoadOpClear
	case gpu.LoadOpLoad:
		return vk.AttachmentLoadOpLoad
	}
	return vk.AttachmentLoadOpDontCare
}

type VulkanRenderpass struct {
	Handle vk.RenderPass
	key    renderpassKey
}

func createRenderpass(d *VulkanDevice, key renderpassKey) (*VulkanRenderpass, error) {
	if key.colorCount > maxColorAttachments {
		return nil, fmt.Errorf("render pass with %d color attachments", key.colorCount)
	}

	attachments := make([]vk.AttachmentDescription, 0, key.colorCount+1)
	colorRefs := make([]vk.AttachmentReference, 0, key.colorCount)
	for i := 0; i < key.colorCount; i++ {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         toVkFormat(key.colors[i]),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         toVkLoadOp(key.colorLoads[i]),
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(i),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if key.depth != gpu.FormatUndefined {
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         toVkFormat(key.depth),
			Samples:        vk.SampleCount1Bit,
			LoadOp:         toVkLoadOp(key.depthLoad),
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(key.colorCount),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
	}

	renderpassCreateInfo := vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
	}
	rp := &VulkanRenderpass{key: key}
	if res := vk.CreateRenderPass(d.LogicalDevice, &renderpassCreateInfo, d.context.Allocator, &rp.Handle); res != vk.Success {
		return nil, resultError("vkCreateRenderPass", res)
	}
	return rp, nil
}

func (vr *VulkanRenderpass) Begin(commandBuffer *VulkanCommandBuffer, framebuffer vk.Framebuffer, extent gpu.Extent, clearValues []vk.ClearValue) {
	beginInfo := vk.RenderPassBeginInfo{
		SType:       vk.StructureTypeRenderPassBeginInfo,
		RenderPass:  vr.Handle,
		Framebuffer: framebuffer,
		RenderArea: vk.Rect2D{
			Extent: vk.Extent2D{Width: extent.Width, Height: extent.Height},
		},
		ClearValueCount: uint32(len(clearValues)),
		PClearValues:    clearValues,
	}
	vk.CmdBeginRenderPass(commandBuffer.Handle, &beginInfo, vk.SubpassContentsInline)
	commandBuffer.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
}

func (vr *VulkanRenderpass) destroy(d *VulkanDevice) {
	if vr.Handle != nil {
		vk.DestroyRenderPass(d.LogicalDevice, vr.Handle, d.context.Allocator)
		vr.Handle = nil
	}
}

// renderpassCache creates each distinct render pass once and keeps it for
// the lifetime of the device.
type renderpassCache struct {
	device *VulkanDevice
	mu     sync.Mutex
	passes map[renderpassKey]*VulkanRenderpass
}

func newRenderpassCache(d *VulkanDevice) *renderpassCache {
	return &renderpassCache{device: d, passes: make(map[renderpassKey]*VulkanRenderpass)}
}

func (c *renderpassCache) get(key renderpassKey) (*VulkanRenderpass, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rp, ok := c.passes[key]; ok {
		return rp, nil
	}
	rp, err := createRenderpass(c.device, key)
	if err != nil {
		core.LogError("render pass creation failed: %s", err)
		return nil, err
	}
	c.passes[key] = rp
	return rp, nil
}

func (c *renderpassCache) destroyAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, rp := range c.passes {
		rp.destroy(c.device)
		delete(c.passes, key)
	}
}
