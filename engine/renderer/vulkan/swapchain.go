package vulkan

import (
	"fmt"
	"math"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
	hmath "github.com/spaghettifunk/hybridrt/engine/math"
)

type VulkanSwapchainSupportInfo struct {
	Capabilities     vk.SurfaceCapabilities
	FormatCount      uint32
	Formats          []vk.SurfaceFormat
	PresentModeCount uint32
	PresentModes     []vk.PresentMode
}

func DeviceQuerySwapchainSupport(physicalDevice vk.PhysicalDevice, surface vk.Surface, supportInfo *VulkanSwapchainSupportInfo) error {
	if res := vk.GetPhysicalDeviceSurfaceCapabilities(physicalDevice, surface, &supportInfo.Capabilities); res != vk.Success {
		return resultError("vkGetPhysicalDeviceSurfaceCapabilitiesKHR", res)
	}
	supportInfo.Capabilities.Deref()
	supportInfo.Capabilities.CurrentExtent.Deref()
	supportInfo.Capabilities.MinImageExtent.Deref()
	supportInfo.Capabilities.MaxImageExtent.Deref()

	if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &supportInfo.FormatCount, nil); res != vk.Success {
		return resultError("vkGetPhysicalDeviceSurfaceFormatsKHR", res)
	}
	if supportInfo.FormatCount != 0 {
		supportInfo.Formats = make([]vk.SurfaceFormat, supportInfo.FormatCount)
		if res := vk.GetPhysicalDeviceSurfaceFormats(physicalDevice, surface, &supportInfo.FormatCount, supportInfo.Formats); res != vk.Success {
			return resultError("vkGetPhysicalDeviceSurfaceFormatsKHR", res)
		}
		for i := range supportInfo.Formats {
			supportInfo.Formats[i].Deref()
		}
	}
	if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &supportInfo.PresentModeCount, nil); res != vk.Success {
		return resultError("vkGetPhysicalDeviceSurfacePresentModesKHR", res)
	}
	if supportInfo.PresentModeCount != 0 {
		supportInfo.PresentModes = make([]vk.PresentMode, supportInfo.PresentModeCount)
		if res := vk.GetPhysicalDeviceSurfacePresentModes(physicalDevice, surface, &supportInfo.PresentModeCount, supportInfo.PresentModes); res != vk.Success {
			return resultError("vkGetPhysicalDeviceSurfacePresentModesKHR", res)
		}
	}
	return nil
}

// VulkanSwapchain implements gpu.Surface. Its images are written by blits
// and presented from LayoutPresent.
type VulkanSwapchain struct {
	device *VulkanDevice

	ImageFormat vk.SurfaceFormat
	Handle      vk.Swapchain
	extent      gpu.Extent
	images      []*VulkanImage
	vsync       bool
}

func NewSwapchain(d *VulkanDevice, extent gpu.Extent, vsync bool) (*VulkanSwapchain, error) {
	vs := &VulkanSwapchain{device: d, vsync: vsync}
	if err := vs.create(extent); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	return vs, nil
}

func (vs *VulkanSwapchain) Extent() gpu.Extent { return vs.extent }
func (vs *VulkanSwapchain) Format() gpu.Format { return fromVkFormat(vs.ImageFormat.Format) }
func (vs *VulkanSwapchain) ImageCount() int    { return len(vs.images) }

func (vs *VulkanSwapchain) Image(index uint32) gpu.Image {
	return vs.images[index]
}

func (vs *VulkanSwapchain) create(extent gpu.Extent) error {
	d := vs.device
	var support VulkanSwapchainSupportInfo
	if err := DeviceQuerySwapchainSupport(d.PhysicalDevice, d.context.Surface, &support); err != nil {
		return err
	}
	if support.FormatCount == 0 {
		return fmt.Errorf("surface reports no formats")
	}

	vs.ImageFormat = support.Formats[0]
	for _, format := range support.Formats {
		if format.Format == vk.FormatB8g8r8a8Unorm && format.ColorSpace == vk.ColorSpaceSrgbNonlinear {
			vs.ImageFormat = format
			break
		}
	}

	presentMode := vk.PresentModeFifo
	if !vs.vsync {
		for _, mode := range support.PresentModes {
			if mode == vk.PresentModeMailbox {
				presentMode = mode
				break
			}
		}
	}

	caps := support.Capabilities
	swapchainExtent := vk.Extent2D{Width: extent.Width, Height: extent.Height}
	if caps.CurrentExtent.Width != math.MaxUint32 {
		swapchainExtent = caps.CurrentExtent
	}
	swapchainExtent.Width = hmath.Clamp(swapchainExtent.Width, caps.MinImageExtent.Width, caps.MaxImageExtent.Width)
	swapchainExtent.Height = hmath.Clamp(swapchainExtent.Height, caps.MinImageExtent.Height, caps.MaxImageExtent.Height)
	if swapchainExtent.Width == 0 || swapchainExtent.Height == 0 {
		return fmt.Errorf("cannot create a %dx%d swapchain", swapchainExtent.Width, swapchainExtent.Height)
	}

	imageCount := caps.MinImageCount + 1
	if caps.MaxImageCount > 0 && imageCount > caps.MaxImageCount {
		imageCount = caps.MaxImageCount
	}

	swapchainCreateInfo := vk.SwapchainCreateInfo{
		SType:            vk.StructureTypeSwapchainCreateInfo,
		Surface:          d.context.Surface,
		MinImageCount:    imageCount,
		ImageFormat:      vs.ImageFormat.Format,
		ImageColorSpace:  vs.ImageFormat.ColorSpace,
		ImageExtent:      swapchainExtent,
		ImageArrayLayers: 1,
		ImageUsage:       vk.ImageUsageFlags(vk.ImageUsageColorAttachmentBit | vk.ImageUsageTransferDstBit),
		PreTransform:     caps.CurrentTransform,
		CompositeAlpha:   vk.CompositeAlphaOpaqueBit,
		PresentMode:      presentMode,
		Clipped:          vk.True,
		OldSwapchain:     vs.Handle,
		ImageSharingMode: vk.SharingModeExclusive,
	}
	if d.queues.GraphicsFamilyIndex != d.queues.PresentFamilyIndex {
		swapchainCreateInfo.ImageSharingMode = vk.SharingModeConcurrent
		swapchainCreateInfo.QueueFamilyIndexCount = 2
		swapchainCreateInfo.PQueueFamilyIndices = []uint32{
			uint32(d.queues.GraphicsFamilyIndex),
			uint32(d.queues.PresentFamilyIndex),
		}
	}

	var handle vk.Swapchain
	if res := vk.CreateSwapchain(d.LogicalDevice, &swapchainCreateInfo, d.context.Allocator, &handle); res != vk.Success {
		return fmt.Errorf("failed to create swapchain: %w", resultError("vkCreateSwapchainKHR", res))
	}
	old := vs.Handle
	vs.releaseImages()
	if old != nil {
		vk.DestroySwapchain(d.LogicalDevice, old, d.context.Allocator)
	}
	vs.Handle = handle
	vs.extent = gpu.Extent{Width: swapchainExtent.Width, Height: swapchainExtent.Height}

	var count uint32
	if res := vk.GetSwapchainImages(d.LogicalDevice, vs.Handle, &count, nil); res != vk.Success {
		return resultError("vkGetSwapchainImagesKHR", res)
	}
	handles := make([]vk.Image, count)
	if res := vk.GetSwapchainImages(d.LogicalDevice, vs.Handle, &count, handles); res != vk.Success {
		return resultError("vkGetSwapchainImagesKHR", res)
	}
	vs.images = make([]*VulkanImage, count)
	for i, h := range handles {
		img := &VulkanImage{
			device:    d,
			Handle:    h,
			swapchain: true,
			desc: gpu.ImageDesc{
				Name:   fmt.Sprintf("swapchain-%d", i),
				Format: vs.Format(),
				Extent: vs.extent,
				Usage:  gpu.ImageUsageColorTarget | gpu.ImageUsageTransferDst,
			},
		}
		if err := img.createView(vs.ImageFormat.Format); err != nil {
			return err
		}
		vs.images[i] = img
	}
	core.LogInfo("Swapchain created: %dx%d, %d images.", vs.extent.Width, vs.extent.Height, count)
	return nil
}

func (vs *VulkanSwapchain) releaseImages() {
	for _, img := range vs.images {
		img.Destroy()
	}
	vs.images = nil
}

func (vs *VulkanSwapchain) Acquire(signal gpu.Semaphore, timeoutNs uint64) (uint32, error) {
	var index uint32
	result := vk.AcquireNextImage(vs.device.LogicalDevice, vs.Handle, timeoutNs, signal.(*Semaphore).Handle, vk.NullFence, &index)
	switch result {
	case vk.Success:
		return index, nil
	case vk.Suboptimal:
		// the image is usable, Present reports the suboptimal state
		return index, nil
	case vk.ErrorOutOfDate:
		return 0, core.ErrSwapchainOutOfDate
	}
	err := resultError("vkAcquireNextImageKHR", result)
	core.LogError(err.Error())
	return 0, err
}

func (vs *VulkanSwapchain) Present(index uint32, wait []gpu.Semaphore) error {
	waits := make([]vk.Semaphore, len(wait))
	for i, w := range wait {
		waits[i] = w.(*Semaphore).Handle
	}
	presentInfo := vk.PresentInfo{
		SType:              vk.StructureTypePresentInfo,
		WaitSemaphoreCount: uint32(len(waits)),
		PWaitSemaphores:    waits,
		SwapchainCount:     1,
		PSwapchains:        []vk.Swapchain{vs.Handle},
		PImageIndices:      []uint32{index},
	}
	d := vs.device
	return d.locks.SafeQueueCall(uint32(d.queues.PresentFamilyIndex), func() error {
		result := vk.QueuePresent(d.PresentQueue, &presentInfo)
		switch result {
		case vk.Success:
			return nil
		case vk.ErrorOutOfDate:
			return core.ErrSwapchainOutOfDate
		case vk.Suboptimal:
			return core.ErrSwapchainSuboptimal
		}
		err := resultError("vkQueuePresentKHR", result)
		core.LogError(err.Error())
		return err
	})
}

// Recreate waits for the device to go idle and rebuilds the swapchain from
// the old one.
func (vs *VulkanSwapchain) Recreate(extent gpu.Extent) error {
	if extent.IsZero() {
		return fmt.Errorf("cannot recreate the surface at %dx%d", extent.Width, extent.Height)
	}
	return vs.device.locks.SafeCall(SwapchainManagement, func() error {
		if err := vs.device.WaitIdle(); err != nil {
			return err
		}
		if err := vs.create(extent); err != nil {
			core.LogError(err.Error())
			return err
		}
		return nil
	})
}

func (vs *VulkanSwapchain) Destroy() {
	d := vs.device
	vk.DeviceWaitIdle(d.LogicalDevice)
	vs.releaseImages()
	if vs.Handle != nil {
		vk.DestroySwapchain(d.LogicalDevice, vs.Handle, d.context.Allocator)
		vs.Handle = nil
	}
}
