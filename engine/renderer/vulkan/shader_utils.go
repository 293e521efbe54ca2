package vulkan

import (
	"encoding/binary"
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

// VulkanShaderStage is one compiled module and the stage info pointing at it.
type VulkanShaderStage struct {
	Handle                vk.ShaderModule
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

func toVkShaderStage(kind gpu.ShaderKind) (vk.ShaderStageFlagBits, error) {
	switch kind {
	case gpu.ShaderVertex:
		return vk.ShaderStageVertexBit, nil
	case gpu.ShaderFragment:
		return vk.ShaderStageFragmentBit, nil
	case gpu.ShaderCompute:
		return vk.ShaderStageComputeBit, nil
	}
	return 0, fmt.Errorf("shader kind %d: %w", kind, gpu.ErrUnsupported)
}

// NewShaderModule creates a module from a SPIR-V blob.
func NewShaderModule(d *VulkanDevice, stage gpu.ShaderStage) (*VulkanShaderStage, error) {
	flag, err := toVkShaderStage(stage.Kind)
	if err != nil {
		return nil, err
	}
	if len(stage.Code) == 0 || len(stage.Code)%4 != 0 {
		return nil, fmt.Errorf("shader %s: %d bytes is not a SPIR-V module", stage.Name, len(stage.Code))
	}
	words := make([]uint32, len(stage.Code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(stage.Code[i*4:])
	}
	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(stage.Code)),
		PCode:    words,
	}
	out := &VulkanShaderStage{}
	if res := vk.CreateShaderModule(d.LogicalDevice, &createInfo, d.context.Allocator, &out.Handle); res != vk.Success {
		return nil, fmt.Errorf("shader %s: %w", stage.Name, resultError("vkCreateShaderModule", res))
	}
	entry := stage.Entry
	if entry == "" {
		entry = "main"
	}
	out.ShaderStageCreateInfo = vk.PipelineShaderStageCreateInfo{
		SType:  vk.StructureTypePipelineShaderStageCreateInfo,
		Stage:  flag,
		Module: out.Handle,
		PName:  VulkanSafeString(entry),
	}
	return out, nil
}

func (s *VulkanShaderStage) Destroy(d *VulkanDevice) {
	if s.Handle != nil {
		vk.DestroyShaderModule(d.LogicalDevice, s.Handle, d.context.Allocator)
		s.Handle = nil
	}
}
