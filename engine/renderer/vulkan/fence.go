package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

type VulkanFence struct {
	device     *VulkanDevice
	Handle     vk.Fence
	IsSignaled bool
}

func (d *VulkanDevice) CreateFence(signaled bool) (gpu.Fence, error) {
	fence := &VulkanFence{
		device:     d,
		IsSignaled: signaled,
	}
	fenceCreateInfo := vk.FenceCreateInfo{
		SType: vk.StructureTypeFenceCreateInfo,
	}
	if signaled {
		fenceCreateInfo.Flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	var pFence vk.Fence
	if res := vk.CreateFence(d.LogicalDevice, &fenceCreateInfo, d.context.Allocator, &pFence); res != vk.Success {
		err := fmt.Errorf("func CreateFence - %w", resultError("vkCreateFence", res))
		core.LogError(err.Error())
		return nil, err
	}
	fence.Handle = pFence
	return fence, nil
}

func (vf *VulkanFence) Wait(timeoutNs uint64) error {
	if vf.IsSignaled {
		return nil
	}
	result := vk.WaitForFences(vf.device.LogicalDevice, 1, []vk.Fence{vf.Handle}, vk.True, timeoutNs)
	switch result {
	case vk.Success:
		vf.IsSignaled = true
		return nil
	case vk.Timeout:
		core.LogWarn("vk_fence_wait - Timed out")
		return fmt.Errorf("fence wait timed out after %dns", timeoutNs)
	}
	err := resultError("vkWaitForFences", result)
	core.LogError(err.Error())
	return err
}

func (vf *VulkanFence) Reset() error {
	if !vf.IsSignaled {
		return nil
	}
	if res := vk.ResetFences(vf.device.LogicalDevice, 1, []vk.Fence{vf.Handle}); res != vk.Success {
		err := resultError("vkResetFences", res)
		core.LogError(err.Error())
		return err
	}
	vf.IsSignaled = false
	return nil
}

func (vf *VulkanFence) Signaled() bool {
	if !vf.IsSignaled && vf.Handle != nil {
		vf.IsSignaled = vk.GetFenceStatus(vf.device.LogicalDevice, vf.Handle) == vk.Success
	}
	return vf.IsSignaled
}

func (vf *VulkanFence) Destroy() {
	if vf.Handle != nil {
		vk.DestroyFence(vf.device.LogicalDevice, vf.Handle, vf.device.context.Allocator)
		vf.Handle = nil
	}
	vf.IsSignaled = false
}

type Semaphore struct {
	device *VulkanDevice
	Handle vk.Semaphore
}

func (d *VulkanDevice) CreateSemaphore() (gpu.Semaphore, error) {
	semaphoreCreateInfo := vk.SemaphoreCreateInfo{
		SType: vk.StructureTypeSemaphoreCreateInfo,
	}
	s := &Semaphore{device: d}
	if res := vk.CreateSemaphore(d.LogicalDevice, &semaphoreCreateInfo, d.context.Allocator, &s.Handle); res != vk.Success {
		err := fmt.Errorf("func CreateSemaphore - %w", resultError("vkCreateSemaphore", res))
		core.LogError(err.Error())
		return nil, err
	}
	return s, nil
}

func (s *Semaphore) Destroy() {
	if s.Handle != vk.NullSemaphore {
		vk.DestroySemaphore(s.device.LogicalDevice, s.Handle, s.device.context.Allocator)
		s.Handle = vk.NullSemaphore
	}
}
