package vulkan

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

// VulkanImage is a 2D single mip image with one view. Swapchain images are
// owned by the swapchain and only release their view.
type VulkanImage struct {
	device *VulkanDevice
	desc   gpu.ImageDesc

	Handle vk.Image
	Memory vk.DeviceMemory
	View   vk.ImageView

	swapchain bool
}

func (i *VulkanImage) Extent() gpu.Extent { return i.desc.Extent }
func (i *VulkanImage) Format() gpu.Format { return i.desc.Format }

func (d *VulkanDevice) CreateImage(desc gpu.ImageDesc) (gpu.Image, error) {
	img := &VulkanImage{device: d, desc: desc}

	imageCreateInfo := vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    toVkFormat(desc.Format),
		Extent: vk.Extent3D{
			Width:  desc.Extent.Width,
			Height: desc.Extent.Height,
			Depth:  1,
		},
		MipLevels:     1,
		ArrayLayers:   1,
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         toVkImageUsage(desc.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}
	if res := vk.CreateImage(d.LogicalDevice, &imageCreateInfo, d.context.Allocator, &img.Handle); res != vk.Success {
		err := fmt.Errorf("func CreateImage - %s: %w", desc.Name, resultError("vkCreateImage", res))
		core.LogError(err.Error())
		return nil, err
	}

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.LogicalDevice, img.Handle, &requirements)
	requirements.Deref()
	memory, err := d.allocate(requirements, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if err != nil {
		vk.DestroyImage(d.LogicalDevice, img.Handle, d.context.Allocator)
		err = fmt.Errorf("func CreateImage - %s: %w", desc.Name, err)
		core.LogError(err.Error())
		return nil, err
	}
	img.Memory = memory
	if res := vk.BindImageMemory(d.LogicalDevice, img.Handle, img.Memory, 0); res != vk.Success {
		img.Destroy()
		return nil, resultError("vkBindImageMemory", res)
	}
	if err := img.createView(toVkFormat(desc.Format)); err != nil {
		img.Destroy()
		return nil, err
	}
	return img, nil
}

func (i *VulkanImage) createView(format vk.Format) error {
	viewCreateInfo := vk.ImageViewCreateInfo{
		SType:    vk.StructureTypeImageViewCreateInfo,
		Image:    i.Handle,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: aspectOf(i.desc.Format),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	if res := vk.CreateImageView(i.device.LogicalDevice, &viewCreateInfo, i.device.context.Allocator, &i.View); res != vk.Success {
		return resultError("vkCreateImageView", res)
	}
	return nil
}

func (i *VulkanImage) subresources() vk.ImageSubresourceRange {
	return vk.ImageSubresourceRange{
		AspectMask: aspectOf(i.desc.Format),
		LevelCount: 1,
		LayerCount: 1,
	}
}

func (i *VulkanImage) Destroy() {
	d := i.device
	if i.View != nil {
		d.framebuffers.forget(i.View)
		vk.DestroyImageView(d.LogicalDevice, i.View, d.context.Allocator)
		i.View = nil
	}
	if i.swapchain {
		return
	}
	if i.Memory != nil {
		vk.FreeMemory(d.LogicalDevice, i.Memory, d.context.Allocator)
		i.Memory = nil
	}
	if i.Handle != nil {
		vk.DestroyImage(d.LogicalDevice, i.Handle, d.context.Allocator)
		i.Handle = nil
	}
}

func (d *VulkanDevice) allocate(requirements vk.MemoryRequirements, properties vk.MemoryPropertyFlags) (vk.DeviceMemory, error) {
	index := d.FindMemoryIndex(requirements.MemoryTypeBits, properties)
	if index < 0 {
		return nil, fmt.Errorf("no memory type for %d bytes: %w", requirements.Size, core.ErrAllocationFailed)
	}
	allocateInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: uint32(index),
	}
	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(d.LogicalDevice, &allocateInfo, d.context.Allocator, &memory); res != vk.Success {
		return nil, resultError("vkAllocateMemory", res)
	}
	return memory, nil
}

// VulkanBuffer keeps host resident buffers persistently mapped.
type VulkanBuffer struct {
	device *VulkanDevice
	desc   gpu.BufferDesc

	Handle vk.Buffer
	Memory vk.DeviceMemory
	mapped unsafe.Pointer
}

func (b *VulkanBuffer) Size() int64            { return b.desc.Size }
func (b *VulkanBuffer) Usage() gpu.BufferUsage { return b.desc.Usage }

func (d *VulkanDevice) CreateBuffer(desc gpu.BufferDesc) (gpu.Buffer, error) {
	if desc.Size <= 0 {
		err := fmt.Errorf("func CreateBuffer - %s has size %d: %w", desc.Name, desc.Size, core.ErrAllocationFailed)
		core.LogError(err.Error())
		return nil, err
	}
	buf := &VulkanBuffer{device: d, desc: desc}
	bufferCreateInfo := vk.BufferCreateInfo{
		SType:       vk.StructureTypeBufferCreateInfo,
		Size:        vk.DeviceSize(desc.Size),
		Usage:       toVkBufferUsage(desc.Usage),
		SharingMode: vk.SharingModeExclusive,
	}
	if res := vk.CreateBuffer(d.LogicalDevice, &bufferCreateInfo, d.context.Allocator, &buf.Handle); res != vk.Success {
		err := fmt.Errorf("func CreateBuffer - %s: %w", desc.Name, resultError("vkCreateBuffer", res))
		core.LogError(err.Error())
		return nil, err
	}

	properties := vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)
	if desc.Residency == gpu.ResidencyHost {
		properties = vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)
	}
	var requirements vk.MemoryRequirements
	vk.GetBufferMemoryRequirements(d.LogicalDevice, buf.Handle, &requirements)
	requirements.Deref()
	memory, err := d.allocate(requirements, properties)
	if err != nil {
		vk.DestroyBuffer(d.LogicalDevice, buf.Handle, d.context.Allocator)
		err = fmt.Errorf("func CreateBuffer - %s: %w", desc.Name, err)
		core.LogError(err.Error())
		return nil, err
	}
	buf.Memory = memory
	if res := vk.BindBufferMemory(d.LogicalDevice, buf.Handle, buf.Memory, 0); res != vk.Success {
		buf.Destroy()
		return nil, resultError("vkBindBufferMemory", res)
	}
	if desc.Residency == gpu.ResidencyHost {
		if res := vk.MapMemory(d.LogicalDevice, buf.Memory, 0, vk.DeviceSize(desc.Size), 0, &buf.mapped); res != vk.Success {
			buf.Destroy()
			return nil, resultError("vkMapMemory", res)
		}
	}
	return buf, nil
}

func (d *VulkanDevice) WriteBuffer(b gpu.Buffer, offset int64, data []byte) error {
	buf, ok := b.(*VulkanBuffer)
	if !ok || buf.Handle == nil {
		return core.ErrUnknownResource
	}
	if buf.mapped == nil {
		return fmt.Errorf("buffer %s is not host resident", buf.desc.Name)
	}
	if offset < 0 || offset+int64(len(data)) > buf.desc.Size {
		return fmt.Errorf("write of %d bytes at %d overflows buffer %s (%d bytes)", len(data), offset, buf.desc.Name, buf.desc.Size)
	}
	vk.Memcopy(unsafe.Add(buf.mapped, offset), data)
	return nil
}

func (b *VulkanBuffer) Destroy() {
	d := b.device
	if b.mapped != nil {
		vk.UnmapMemory(d.LogicalDevice, b.Memory)
		b.mapped = nil
	}
	if b.Handle != nil {
		vk.DestroyBuffer(d.LogicalDevice, b.Handle, d.context.Allocator)
		b.Handle = nil
	}
	if b.Memory != nil {
		vk.FreeMemory(d.LogicalDevice, b.Memory, d.context.Allocator)
		b.Memory = nil
	}
}
