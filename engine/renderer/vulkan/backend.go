// Package vulkan presents frames through a goki/vulkan swapchain. It covers
// the raster half of the gpu interfaces; acceleration structures and ray
// tracing pipelines report gpu.ErrUnsupported or
// core.ErrRayTracingUnsupported.
//
// goki/vulkan has no acceleration structure or ray tracing entry points, so
// the hybrid path refuses this backend during construction and the command
// stream, pipeline, renderpass and framebuffer code here never records a
// hybrid frame. Use the headless device to run the full path.
package vulkan

import (
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

type BackendConfig struct {
	Context ContextConfig
	Extent  gpu.Extent
	VSync   bool
	// PreferDiscrete picks a discrete adapter when one qualifies.
	PreferDiscrete bool
}

// VulkanBackend owns the instance, device and swapchain, in that order of
// creation.
type VulkanBackend struct {
	context   *VulkanContext
	device    *VulkanDevice
	swapchain *VulkanSwapchain
}

func NewBackend(config *BackendConfig) (*VulkanBackend, error) {
	context, err := NewContext(&config.Context)
	if err != nil {
		return nil, err
	}
	device, err := NewDevice(context, config.PreferDiscrete)
	if err != nil {
		context.Destroy()
		return nil, err
	}
	swapchain, err := NewSwapchain(device, config.Extent, config.VSync)
	if err != nil {
		device.Destroy()
		context.Destroy()
		return nil, err
	}
	core.LogInfo("Vulkan backend initialized successfully.")
	return &VulkanBackend{context: context, device: device, swapchain: swapchain}, nil
}

func (b *VulkanBackend) Device() gpu.Device   { return b.device }
func (b *VulkanBackend) Surface() gpu.Surface { return b.swapchain }

func (b *VulkanBackend) Shutdown() {
	core.LogDebug("Destroying Vulkan swapchain...")
	b.swapchain.Destroy()
	core.LogDebug("Destroying Vulkan device...")
	b.device.Destroy()
	core.LogDebug("Destroying Vulkan instance...")
	b.context.Destroy()
}
