package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

// VulkanResultString names a result code, optionally with its description.
func VulkanResultString(result vk.Result, getExtended bool) string {
	switch result {
	case vk.Success:
		return ConditionalOperator(!getExtended, "VK_SUCCESS", "VK_SUCCESS Command successfully completed")
	case vk.NotReady:
		return ConditionalOperator(!getExtended, "VK_NOT_READY", "VK_NOT_READY A fence or query has not yet completed")
	case vk.Timeout:
		return ConditionalOperator(!getExtended, "VK_TIMEOUT", "VK_TIMEOUT A wait operation has not completed in the specified time")
	case vk.Incomplete:
		return ConditionalOperator(!getExtended, "VK_INCOMPLETE", "VK_INCOMPLETE A return array was too small for the result")
	case vk.Suboptimal:
		return ConditionalOperator(!getExtended, "VK_SUBOPTIMAL_KHR", "VK_SUBOPTIMAL_KHR A swapchain no longer matches the surface properties exactly")
	case vk.ErrorOutOfHostMemory:
		return ConditionalOperator(!getExtended, "VK_ERROR_OUT_OF_HOST_MEMORY", "VK_ERROR_OUT_OF_HOST_MEMORY A host memory allocation has failed.")
	case vk.ErrorOutOfDeviceMemory:
		return ConditionalOperator(!getExtended, "VK_ERROR_OUT_OF_DEVICE_MEMORY", "VK_ERROR_OUT_OF_DEVICE_MEMORY A device memory allocation has failed.")
	case vk.ErrorInitializationFailed:
		return ConditionalOperator(!getExtended, "VK_ERROR_INITIALIZATION_FAILED", "VK_ERROR_INITIALIZATION_FAILED Initialization of an object could not be completed.")
	case vk.ErrorDeviceLost:
		return ConditionalOperator(!getExtended, "VK_ERROR_DEVICE_LOST", "VK_ERROR_DEVICE_LOST The logical or physical device has been lost.")
	case vk.ErrorMemoryMapFailed:
		return ConditionalOperator(!getExtended, "VK_ERROR_MEMORY_MAP_FAILED", "VK_ERROR_MEMORY_MAP_FAILED Mapping of a memory object has failed.")
	case vk.ErrorLayerNotPresent:
		return ConditionalOperator(!getExtended, "VK_ERROR_LAYER_NOT_PRESENT", "VK_ERROR_LAYER_NOT_PRESENT A requested layer is not present or could not be loaded.")
	case vk.ErrorExtensionNotPresent:
		return ConditionalOperator(!getExtended, "VK_ERROR_EXTENSION_NOT_PRESENT", "VK_ERROR_EXTENSION_NOT_PRESENT A requested extension is not supported.")
	case vk.ErrorFeatureNotPresent:
		return ConditionalOperator(!getExtended, "VK_ERROR_FEATURE_NOT_PRESENT", "VK_ERROR_FEATURE_NOT_PRESENT A requested feature is not supported.")
	case vk.ErrorIncompatibleDriver:
		return ConditionalOperator(!getExtended, "VK_ERROR_INCOMPATIBLE_DRIVER", "VK_ERROR_INCOMPATIBLE_DRIVER The requested version of Vulkan is not supported by the driver.")
	case vk.ErrorFormatNotSupported:
		return ConditionalOperator(!getExtended, "VK_ERROR_FORMAT_NOT_SUPPORTED", "VK_ERROR_FORMAT_NOT_SUPPORTED A requested format is not supported on this device.")
	case vk.ErrorSurfaceLost:
		return ConditionalOperator(!getExtended, "VK_ERROR_SURFACE_LOST_KHR", "VK_ERROR_SURFACE_LOST_KHR A surface is no longer available.")
	case vk.ErrorNativeWindowInUse:
		return ConditionalOperator(!getExtended, "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR", "VK_ERROR_NATIVE_WINDOW_IN_USE_KHR The requested window is already in use.")
	case vk.ErrorOutOfDate:
		return ConditionalOperator(!getExtended, "VK_ERROR_OUT_OF_DATE_KHR", "VK_ERROR_OUT_OF_DATE_KHR A surface has changed and is no longer compatible with the swapchain.")
	case vk.ErrorUnknown:
		return ConditionalOperator(!getExtended, "VK_ERROR_UNKNOWN", "VK_ERROR_UNKNOWN An unknown error has occurred.")
	}
	return fmt.Sprintf("VkResult(%d)", int32(result))
}

// resultError maps a failed result onto the engine's error classes so the
// renderer can tell transients from fatal setup failures.
func resultError(op string, result vk.Result) error {
	switch result {
	case vk.Success:
		return nil
	case vk.ErrorOutOfDate:
		return fmt.Errorf("%s: %w", op, core.ErrSwapchainOutOfDate)
	case vk.Suboptimal:
		return fmt.Errorf("%s: %w", op, core.ErrSwapchainSuboptimal)
	case vk.ErrorOutOfHostMemory, vk.ErrorOutOfDeviceMemory, vk.ErrorMemoryMapFailed:
		return fmt.Errorf("%s: %s: %w", op, VulkanResultString(result, false), core.ErrAllocationFailed)
	}
	return fmt.Errorf("%s failed with %s", op, VulkanResultString(result, true))
}

func ConditionalOperator(condition bool, res1, res2 string) string {
	if condition {
		return res1
	}
	return res2
}

var end = "\x00"
var endChar byte = '\x00'

func VulkanSafeString(s string) string {
	if len(s) == 0 {
		return end
	}
	if s[len(s)-1] != endChar {
		return s + end
	}
	return s
}

func VulkanSafeStrings(list []string) []string {
	out := make([]string, len(list))
	for i := range list {
		out[i] = VulkanSafeString(list[i])
	}
	return out
}

// cString trims a fixed size, zero terminated name as returned by the
// enumerate calls.
func cString(arr []byte) string {
	for i, b := range arr {
		if b == 0 {
			return string(arr[:i])
		}
	}
	return string(arr)
}

func toVkFormat(f gpu.Format) vk.Format {
	switch f {
	case gpu.FormatRGBA8Unorm:
		return vk.FormatR8g8b8a8Unorm
	case gpu.FormatBGRA8Unorm:
		return vk.FormatB8g8r8a8Unorm
	case gpu.FormatRGBA16Float:
		return vk.FormatR16g16b16a16Sfloat
	case gpu.FormatRGBA32Float:
		return vk.FormatR32g32b32a32Sfloat
	case gpu.FormatRG16Float:
		return vk.FormatR16g16Sfloat
	case gpu.FormatR8Unorm:
		return vk.FormatR8Unorm
	case gpu.FormatR16Float:
		return vk.FormatR16Sfloat
	case gpu.FormatD32Float:
		return vk.FormatD32Sfloat
	}
	return vk.FormatUndefined
}

func fromVkFormat(f vk.Format) gpu.Format {
	switch f {
	case vk.FormatR8g8b8a8Unorm:
		return gpu.FormatRGBA8Unorm
	case vk.FormatB8g8r8a8Unorm:
		return gpu.FormatBGRA8Unorm
	case vk.FormatR16g16b16a16Sfloat:
		return gpu.FormatRGBA16Float
	}
	return gpu.FormatUndefined
}

func toVkLayout(l gpu.Layout) vk.ImageLayout {
	switch l {
	case gpu.LayoutColorTarget:
		return vk.ImageLayoutColorAttachmentOptimal
	case gpu.LayoutDepthTarget:
		return vk.ImageLayoutDepthStencilAttachmentOptimal
	case gpu.LayoutShaderRead:
		return vk.ImageLayoutShaderReadOnlyOptimal
	case gpu.LayoutGeneral:
		return vk.ImageLayoutGeneral
	case gpu.LayoutTransferSrc:
		return vk.ImageLayoutTransferSrcOptimal
	case gpu.LayoutTransferDst:
		return vk.ImageLayoutTransferDstOptimal
	case gpu.LayoutPresent:
		return vk.ImageLayoutPresentSrc
	}
	return vk.ImageLayoutUndefined
}

func toVkImageUsage(u gpu.ImageUsage) vk.ImageUsageFlags {
	var flags vk.ImageUsageFlagBits
	if u&gpu.ImageUsageColorTarget != 0 {
		flags |= vk.ImageUsageColorAttachmentBit
	}
	if u&gpu.ImageUsageDepthTarget != 0 {
		flags |= vk.ImageUsageDepthStencilAttachmentBit
	}
	if u&gpu.ImageUsageSampled != 0 {
		flags |= vk.ImageUsageSampledBit
	}
	if u&gpu.ImageUsageStorage != 0 {
		flags |= vk.ImageUsageStorageBit
	}
	if u&gpu.ImageUsageTransferSrc != 0 {
		flags |= vk.ImageUsageTransferSrcBit
	}
	if u&gpu.ImageUsageTransferDst != 0 {
		flags |= vk.ImageUsageTransferDstBit
	}
	return vk.ImageUsageFlags(flags)
}

func toVkBufferUsage(u gpu.BufferUsage) vk.BufferUsageFlags {
	var flags vk.BufferUsageFlagBits
	if u&gpu.BufferUsageVertex != 0 {
		flags |= vk.BufferUsageVertexBufferBit
	}
	if u&gpu.BufferUsageIndex != 0 {
		flags |= vk.BufferUsageIndexBufferBit
	}
	if u&gpu.BufferUsageUniform != 0 {
		flags |= vk.BufferUsageUniformBufferBit
	}
	// acceleration structure inputs, scratch and tables are plain storage
	// buffers on this backend
	if u&(gpu.BufferUsageStorage|gpu.BufferUsageASInput|gpu.BufferUsageASStorage|gpu.BufferUsageScratch|gpu.BufferUsageShaderTable) != 0 {
		flags |= vk.BufferUsageStorageBufferBit
	}
	if u&gpu.BufferUsageTransferSrc != 0 {
		flags |= vk.BufferUsageTransferSrcBit
	}
	if u&gpu.BufferUsageTransferDst != 0 {
		flags |= vk.BufferUsageTransferDstBit
	}
	return vk.BufferUsageFlags(flags)
}

var stageBits = []struct {
	stage gpu.Stage
	bit   vk.PipelineStageFlagBits
}{
	{gpu.StageTop, vk.PipelineStageTopOfPipeBit},
	{gpu.StageVertexInput, vk.PipelineStageVertexInputBit},
	{gpu.StageVertexShader, vk.PipelineStageVertexShaderBit},
	{gpu.StageFragmentShader, vk.PipelineStageFragmentShaderBit},
	{gpu.StageEarlyFragmentTests, vk.PipelineStageEarlyFragmentTestsBit},
	{gpu.StageLateFragmentTests, vk.PipelineStageLateFragmentTestsBit},
	{gpu.StageColorOutput, vk.PipelineStageColorAttachmentOutputBit},
	{gpu.StageComputeShader, vk.PipelineStageComputeShaderBit},
	{gpu.StageRayTracingShader, vk.PipelineStageAllCommandsBit},
	{gpu.StageASBuild, vk.PipelineStageAllCommandsBit},
	{gpu.StageTransfer, vk.PipelineStageTransferBit},
	{gpu.StageHost, vk.PipelineStageHostBit},
	{gpu.StageBottom, vk.PipelineStageBottomOfPipeBit},
}

func toVkStages(s gpu.Stage) vk.PipelineStageFlags {
	var flags vk.PipelineStageFlagBits
	for _, sb := range stageBits {
		if s&sb.stage != 0 {
			flags |= sb.bit
		}
	}
	if flags == 0 {
		flags = vk.PipelineStageTopOfPipeBit
	}
	return vk.PipelineStageFlags(flags)
}

var accessBits = []struct {
	access gpu.Access
	bit    vk.AccessFlagBits
}{
	{gpu.AccessColorWrite, vk.AccessColorAttachmentWriteBit},
	{gpu.AccessColorRead, vk.AccessColorAttachmentReadBit},
	{gpu.AccessDepthWrite, vk.AccessDepthStencilAttachmentWriteBit},
	{gpu.AccessDepthRead, vk.AccessDepthStencilAttachmentReadBit},
	{gpu.AccessShaderRead, vk.AccessShaderReadBit},
	{gpu.AccessShaderWrite, vk.AccessShaderWriteBit},
	{gpu.AccessUniformRead, vk.AccessUniformReadBit},
	{gpu.AccessVertexRead, vk.AccessVertexAttributeReadBit},
	{gpu.AccessIndexRead, vk.AccessIndexReadBit},
	{gpu.AccessASRead, vk.AccessMemoryReadBit},
	{gpu.AccessASWrite, vk.AccessMemoryWriteBit},
	{gpu.AccessTransferRead, vk.AccessTransferReadBit},
	{gpu.AccessTransferWrite, vk.AccessTransferWriteBit},
	{gpu.AccessHostWrite, vk.AccessHostWriteBit},
	{gpu.AccessMemoryRead, vk.AccessMemoryReadBit},
	{gpu.AccessMemoryWrite, vk.AccessMemoryWriteBit},
}

func toVkAccess(a gpu.Access) vk.AccessFlags {
	var flags vk.AccessFlagBits
	for _, ab := range accessBits {
		if a&ab.access != 0 {
			flags |= ab.bit
		}
	}
	return vk.AccessFlags(flags)
}

func aspectOf(f gpu.Format) vk.ImageAspectFlags {
	if f.IsDepth() {
		return vk.ImageAspectFlags(vk.ImageAspectDepthBit)
	}
	return vk.ImageAspectFlags(vk.ImageAspectColorBit)
}
