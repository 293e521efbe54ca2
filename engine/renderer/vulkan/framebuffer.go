package vulkan

import (
	"fmt"
	"sync"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

type VulkanFramebuffer struct {
	Handle      vk.Framebuffer
	Attachments []vk.ImageView
	Renderpass  *VulkanRenderpass
}

func FramebufferCreate(d *VulkanDevice, renderpass *VulkanRenderpass, extent gpu.Extent, attachments []vk.ImageView) (*VulkanFramebuffer, error) {
	outFramebuffer := &VulkanFramebuffer{
		Attachments: append([]vk.ImageView(nil), attachments...),
		Renderpass:  renderpass,
	}
	framebufferCreateInfo := vk.FramebufferCreateInfo{
		SType:           vk.StructureTypeFramebufferCreateInfo,
		RenderPass:      renderpass.Handle,
		AttachmentCount: uint32(len(outFramebuffer.Attachments)),
		PAttachments:    outFramebuffer.Attachments,
		Width:           extent.Width,
		Height:          extent.Height,
		Layers:          1,
	}
	if res := vk.CreateFramebuffer(d.LogicalDevice, &framebufferCreateInfo, d.context.Allocator, &outFramebuffer.Handle); res != vk.Success {
		err := fmt.Errorf("failed to create framebuffer: %w", resultError("vkCreateFramebuffer", res))
		core.LogError(err.Error())
		return nil, err
	}
	return outFramebuffer, nil
}

func (vfb *VulkanFramebuffer) Destroy(d *VulkanDevice) {
	if vfb.Handle != nil {
		vk.DestroyFramebuffer(d.LogicalDevice, vfb.Handle, d.context.Allocator)
		vfb.Handle = nil
	}
	vfb.Attachments = nil
	vfb.Renderpass = nil
}

// framebufferCache keys framebuffers by render pass, views and extent. A
// framebuffer is dropped as soon as one of its views is destroyed; image
// destruction only happens once the device is idle for that image.
type framebufferCache struct {
	device *VulkanDevice
	mu     sync.Mutex
	byKey  map[string]*VulkanFramebuffer
}

func newFramebufferCache(d *VulkanDevice) *framebufferCache {
	return &framebufferCache{device: d, byKey: make(map[string]*VulkanFramebuffer)}
}

func framebufferKey(rp *VulkanRenderpass, views []vk.ImageView, extent gpu.Extent) string {
	return fmt.Sprintf("%p/%v/%dx%d", rp, views, extent.Width, extent.Height)
}

func (c *framebufferCache) get(rp *VulkanRenderpass, views []vk.ImageView, extent gpu.Extent) (*VulkanFramebuffer, error) {
	key := framebufferKey(rp, views, extent)
	c.mu.Lock()
	defer c.mu.Unlock()
	if fb, ok := c.byKey[key]; ok {
		return fb, nil
	}
	fb, err := FramebufferCreate(c.device, rp, extent, views)
	if err != nil {
		return nil, err
	}
	c.byKey[key] = fb
	return fb, nil
}

func (c *framebufferCache) forget(view vk.ImageView) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, fb := range c.byKey {
		for _, v := range fb.Attachments {
			if v == view {
				fb.Destroy(c.device)
				delete(c.byKey, key)
				break
			}
		}
	}
}

func (c *framebufferCache) destroyAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, fb := range c.byKey {
		fb.Destroy(c.device)
		delete(c.byKey, key)
	}
}
