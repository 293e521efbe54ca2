package vulkan

import (
	"fmt"
	"runtime"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

type VulkanPhysicalDeviceRequirements struct {
	Graphics             bool
	Present              bool
	DeviceExtensionNames []string
	DiscreteGPU          bool
}

type VulkanPhysicalDeviceQueueFamilyInfo struct {
	GraphicsFamilyIndex int32
	PresentFamilyIndex  int32
	// ComputeFamilyIndex is -1 unless a family without graphics support
	// exists.
	ComputeFamilyIndex int32
}

// VulkanDevice implements gpu.Device on a physical adapter that can present
// to the context's surface.
type VulkanDevice struct {
	context *VulkanContext

	PhysicalDevice vk.PhysicalDevice
	LogicalDevice  vk.Device
	Properties     vk.PhysicalDeviceProperties
	Memory         vk.PhysicalDeviceMemoryProperties

	queues VulkanPhysicalDeviceQueueFamilyInfo

	GraphicsQueue vk.Queue
	PresentQueue  vk.Queue
	ComputeQueue  vk.Queue

	GraphicsCommandPool vk.CommandPool
	ComputeCommandPool  vk.CommandPool

	locks        *VulkanLockPool
	renderpasses *renderpassCache
	framebuffers *framebufferCache
}

func NewDevice(context *VulkanContext, preferDiscrete bool) (*VulkanDevice, error) {
	d := &VulkanDevice{
		context: context,
		locks:   NewVulkanLockPool(),
	}
	requirements := VulkanPhysicalDeviceRequirements{
		Graphics:             true,
		Present:              true,
		DiscreteGPU:          preferDiscrete && runtime.GOOS != "darwin",
		DeviceExtensionNames: []string{vk.KhrSwapchainExtensionName},
	}
	if err := d.selectPhysicalDevice(&requirements); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	if err := d.createLogicalDevice(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}
	d.renderpasses = newRenderpassCache(d)
	d.framebuffers = newFramebufferCache(d)
	return d, nil
}

func (d *VulkanDevice) selectPhysicalDevice(requirements *VulkanPhysicalDeviceRequirements) error {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(d.context.Instance, &count, nil); res != vk.Success {
		return resultError("vkEnumeratePhysicalDevices", res)
	}
	if count == 0 {
		return fmt.Errorf("func NewDevice - no devices which support Vulkan were found")
	}
	devices := make([]vk.PhysicalDevice, count)
	if res := vk.EnumeratePhysicalDevices(d.context.Instance, &count, devices); res != vk.Success {
		return resultError("vkEnumeratePhysicalDevices", res)
	}

	// a discrete adapter wins; any adapter that meets the queue and
	// extension requirements is the fallback
	fallback := -1
	for i, candidate := range devices {
		properties := vk.PhysicalDeviceProperties{}
		vk.GetPhysicalDeviceProperties(candidate, &properties)
		properties.Deref()

		queues, ok := physicalDeviceMeetsRequirements(candidate, d.context.Surface, &properties, requirements)
		if !ok {
			continue
		}
		if requirements.DiscreteGPU && properties.DeviceType != vk.PhysicalDeviceTypeDiscreteGpu {
			if fallback < 0 {
				fallback = i
			}
			continue
		}
		d.adopt(candidate, properties, queues)
		return nil
	}
	if fallback >= 0 {
		properties := vk.PhysicalDeviceProperties{}
		vk.GetPhysicalDeviceProperties(devices[fallback], &properties)
		properties.Deref()
		queues, _ := physicalDeviceMeetsRequirements(devices[fallback], d.context.Surface, &properties, requirements)
		core.LogWarn("No discrete GPU found, using '%s'.", cString(properties.DeviceName[:]))
		d.adopt(devices[fallback], properties, queues)
		return nil
	}
	return fmt.Errorf("func NewDevice - no physical devices were found which meet the requirements")
}

func (d *VulkanDevice) adopt(pd vk.PhysicalDevice, properties vk.PhysicalDeviceProperties, queues VulkanPhysicalDeviceQueueFamilyInfo) {
	d.PhysicalDevice = pd
	d.Properties = properties
	d.queues = queues
	vk.GetPhysicalDeviceMemoryProperties(pd, &d.Memory)
	d.Memory.Deref()

	core.LogInfo("Selected device: '%s'.", cString(properties.DeviceName[:]))
	switch properties.DeviceType {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		core.LogInfo("GPU type is Integrated.")
	case vk.PhysicalDeviceTypeDiscreteGpu:
		core.LogInfo("GPU type is Discrete.")
	case vk.PhysicalDeviceTypeVirtualGpu:
		core.LogInfo("GPU type is Virtual.")
	case vk.PhysicalDeviceTypeCpu:
		core.LogInfo("GPU type is CPU.")
	default:
		core.LogInfo("GPU type is Unknown.")
	}
	core.LogInfo(
		"Vulkan API version: %d.%d.%d",
		vk.Version.Major(vk.Version(properties.ApiVersion)),
		vk.Version.Minor(vk.Version(properties.ApiVersion)),
		vk.Version.Patch(vk.Version(properties.ApiVersion)),
	)
	for j := 0; j < int(d.Memory.MemoryHeapCount); j++ {
		d.Memory.MemoryHeaps[j].Deref()
		sizeGib := float64(d.Memory.MemoryHeaps[j].Size) / 1024.0 / 1024.0 / 1024.0
		if vk.MemoryHeapFlagBits(d.Memory.MemoryHeaps[j].Flags)&vk.MemoryHeapDeviceLocalBit != 0 {
			core.LogInfo("Local GPU memory: %.2f GiB", sizeGib)
		} else {
			core.LogInfo("Shared System memory: %.2f GiB", sizeGib)
		}
	}
}

func physicalDeviceMeetsRequirements(device vk.PhysicalDevice, surface vk.Surface, properties *vk.PhysicalDeviceProperties, requirements *VulkanPhysicalDeviceRequirements) (VulkanPhysicalDeviceQueueFamilyInfo, bool) {
	info := VulkanPhysicalDeviceQueueFamilyInfo{GraphicsFamilyIndex: -1, PresentFamilyIndex: -1, ComputeFamilyIndex: -1}

	var familyCount uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, nil)
	families := make([]vk.QueueFamilyProperties, familyCount)
	vk.GetPhysicalDeviceQueueFamilyProperties(device, &familyCount, families)

	for i := range families {
		families[i].Deref()
		flags := vk.QueueFlagBits(families[i].QueueFlags)
		graphics := flags&vk.QueueGraphicsBit != 0
		if graphics && info.GraphicsFamilyIndex < 0 {
			info.GraphicsFamilyIndex = int32(i)
		}
		if !graphics && flags&vk.QueueComputeBit != 0 && info.ComputeFamilyIndex < 0 {
			info.ComputeFamilyIndex = int32(i)
		}
		var supportsPresent vk.Bool32 = vk.False
		if res := vk.GetPhysicalDeviceSurfaceSupport(device, uint32(i), surface, &supportsPresent); res != vk.Success {
			return info, false
		}
		if supportsPresent == vk.True && (info.PresentFamilyIndex < 0 || int32(i) == info.GraphicsFamilyIndex) {
			info.PresentFamilyIndex = int32(i)
		}
	}

	name := cString(properties.DeviceName[:])
	core.LogDebug("%s: graphics=%d present=%d compute=%d", name, info.GraphicsFamilyIndex, info.PresentFamilyIndex, info.ComputeFamilyIndex)

	if requirements.Graphics && info.GraphicsFamilyIndex < 0 {
		return info, false
	}
	if requirements.Present && info.PresentFamilyIndex < 0 {
		return info, false
	}

	var support VulkanSwapchainSupportInfo
	if err := DeviceQuerySwapchainSupport(device, surface, &support); err != nil || support.FormatCount < 1 || support.PresentModeCount < 1 {
		core.LogInfo("Required swapchain support not present, skipping %s.", name)
		return info, false
	}

	available, err := deviceExtensions(device)
	if err != nil {
		return info, false
	}
	for _, required := range requirements.DeviceExtensionNames {
		if !available[required] {
			core.LogInfo("Required extension not found: '%s', skipping %s.", required, name)
			return info, false
		}
	}
	return info, true
}

func deviceExtensions(device vk.PhysicalDevice) (map[string]bool, error) {
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, nil); res != vk.Success {
		return nil, resultError("vkEnumerateDeviceExtensionProperties", res)
	}
	props := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateDeviceExtensionProperties(device, "", &count, props); res != vk.Success {
		return nil, resultError("vkEnumerateDeviceExtensionProperties", res)
	}
	out := make(map[string]bool, count)
	for i := range props {
		props[i].Deref()
		out[cString(props[i].ExtensionName[:])] = true
	}
	return out, nil
}

func (d *VulkanDevice) createLogicalDevice() error {
	core.LogInfo("Creating logical device...")

	// one queue per distinct family
	families := []int32{d.queues.GraphicsFamilyIndex}
	if d.queues.PresentFamilyIndex != d.queues.GraphicsFamilyIndex {
		families = append(families, d.queues.PresentFamilyIndex)
	}
	if d.queues.ComputeFamilyIndex >= 0 {
		families = append(families, d.queues.ComputeFamilyIndex)
	}
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(families))
	for i, family := range families {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: uint32(family),
			QueueCount:       1,
			PQueuePriorities: []float32{1.0},
		}
		d.locks.SetQueueFamily(uint32(family))
	}

	available, err := deviceExtensions(d.PhysicalDevice)
	if err != nil {
		return err
	}
	extensionNames := []string{vk.KhrSwapchainExtensionName}
	if available["VK_KHR_portability_subset"] {
		core.LogInfo("Adding required extension 'VK_KHR_portability_subset'.")
		extensionNames = append(extensionNames, "VK_KHR_portability_subset")
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		PEnabledFeatures:        []vk.PhysicalDeviceFeatures{{}},
		EnabledExtensionCount:   uint32(len(extensionNames)),
		PpEnabledExtensionNames: VulkanSafeStrings(extensionNames),
	}
	var logical vk.Device
	if res := vk.CreateDevice(d.PhysicalDevice, &deviceCreateInfo, d.context.Allocator, &logical); res != vk.Success {
		return fmt.Errorf("func NewDevice - %w", resultError("vkCreateDevice", res))
	}
	d.LogicalDevice = logical
	core.LogInfo("Logical device created.")

	var q vk.Queue
	vk.GetDeviceQueue(d.LogicalDevice, uint32(d.queues.GraphicsFamilyIndex), 0, &q)
	d.GraphicsQueue = q
	vk.GetDeviceQueue(d.LogicalDevice, uint32(d.queues.PresentFamilyIndex), 0, &q)
	d.PresentQueue = q
	if d.queues.ComputeFamilyIndex >= 0 {
		vk.GetDeviceQueue(d.LogicalDevice, uint32(d.queues.ComputeFamilyIndex), 0, &q)
		d.ComputeQueue = q
	}
	core.LogInfo("Queues obtained.")

	if d.GraphicsCommandPool, err = d.createCommandPool(d.queues.GraphicsFamilyIndex); err != nil {
		return err
	}
	if d.queues.ComputeFamilyIndex >= 0 {
		if d.ComputeCommandPool, err = d.createCommandPool(d.queues.ComputeFamilyIndex); err != nil {
			return err
		}
	}
	return nil
}

func (d *VulkanDevice) createCommandPool(family int32) (vk.CommandPool, error) {
	poolCreateInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: uint32(family),
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vk.CommandPool
	if res := vk.CreateCommandPool(d.LogicalDevice, &poolCreateInfo, d.context.Allocator, &pool); res != vk.Success {
		return nil, resultError("vkCreateCommandPool", res)
	}
	return pool, nil
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that
// has every property flag, or -1.
func (d *VulkanDevice) FindMemoryIndex(typeFilter uint32, propertyFlags vk.MemoryPropertyFlags) int32 {
	for i := uint32(0); i < d.Memory.MemoryTypeCount; i++ {
		d.Memory.MemoryTypes[i].Deref()
		if typeFilter&(1<<i) != 0 && d.Memory.MemoryTypes[i].PropertyFlags&propertyFlags == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

func (d *VulkanDevice) queue(q gpu.Queue) (vk.Queue, uint32) {
	if q == gpu.QueueCompute && d.ComputeQueue != nil {
		return d.ComputeQueue, uint32(d.queues.ComputeFamilyIndex)
	}
	return d.GraphicsQueue, uint32(d.queues.GraphicsFamilyIndex)
}

func (d *VulkanDevice) HasQueue(q gpu.Queue) bool {
	if q == gpu.QueueCompute {
		return d.ComputeQueue != nil
	}
	return true
}

// RayTracing reports the missing capability: this backend does not load the
// KHR acceleration structure and ray tracing pipeline entry points, so the
// hybrid path refuses to start on it.
func (d *VulkanDevice) RayTracing() (gpu.RayTracing, error) {
	return nil, core.ErrRayTracingUnsupported
}

func (d *VulkanDevice) Submit(queue gpu.Queue, info gpu.SubmitInfo) error {
	handle, family := d.queue(queue)

	buffers := make([]vk.CommandBuffer, 0, len(info.Streams))
	for _, s := range info.Streams {
		stream := s.(*CommandStream)
		if stream.err != nil {
			return stream.err
		}
		buffers = append(buffers, stream.buffer.Handle)
	}
	submitInfo := vk.SubmitInfo{
		SType:              vk.StructureTypeSubmitInfo,
		CommandBufferCount: uint32(len(buffers)),
		PCommandBuffers:    buffers,
	}
	if len(info.Wait) > 0 {
		waits := make([]vk.Semaphore, len(info.Wait))
		stages := make([]vk.PipelineStageFlags, len(info.Wait))
		for i, w := range info.Wait {
			waits[i] = w.(*Semaphore).Handle
			stages[i] = vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit)
			if i < len(info.WaitStages) {
				stages[i] = toVkStages(info.WaitStages[i])
			}
		}
		submitInfo.WaitSemaphoreCount = uint32(len(waits))
		submitInfo.PWaitSemaphores = waits
		submitInfo.PWaitDstStageMask = stages
	}
	if len(info.Signal) > 0 {
		signals := make([]vk.Semaphore, len(info.Signal))
		for i, s := range info.Signal {
			signals[i] = s.(*Semaphore).Handle
		}
		submitInfo.SignalSemaphoreCount = uint32(len(signals))
		submitInfo.PSignalSemaphores = signals
	}
	fence := vk.NullFence
	if info.Fence != nil {
		f := info.Fence.(*VulkanFence)
		fence = f.Handle
		f.IsSignaled = false
	}
	return d.locks.SafeQueueCall(family, func() error {
		if res := vk.QueueSubmit(handle, 1, []vk.SubmitInfo{submitInfo}, fence); res != vk.Success {
			err := resultError("vkQueueSubmit", res)
			core.LogError(err.Error())
			return err
		}
		return nil
	})
}

func (d *VulkanDevice) WaitIdle() error {
	if res := vk.DeviceWaitIdle(d.LogicalDevice); res != vk.Success {
		return resultError("vkDeviceWaitIdle", res)
	}
	return nil
}

// Destroy releases the caches, the command pools and the logical device.
// Every object created from the device must already be destroyed.
func (d *VulkanDevice) Destroy() {
	if d.LogicalDevice == nil {
		return
	}
	vk.DeviceWaitIdle(d.LogicalDevice)
	d.framebuffers.destroyAll()
	d.renderpasses.destroyAll()

	core.LogInfo("Destroying command pools...")
	vk.DestroyCommandPool(d.LogicalDevice, d.GraphicsCommandPool, d.context.Allocator)
	if d.ComputeCommandPool != nil {
		vk.DestroyCommandPool(d.LogicalDevice, d.ComputeCommandPool, d.context.Allocator)
	}
	core.LogInfo("Destroying logical device...")
	vk.DestroyDevice(d.LogicalDevice, d.context.Allocator)
	d.LogicalDevice = nil
	d.GraphicsQueue = nil
	d.PresentQueue = nil
	d.ComputeQueue = nil
	d.PhysicalDevice = nil
}
