package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

// VulkanPipeline holds a Vulkan pipeline and its layout.
type VulkanPipeline struct {
	device *VulkanDevice
	desc   gpu.PipelineDesc

	Handle         vk.Pipeline
	PipelineLayout vk.PipelineLayout

	bindPoint  vk.PipelineBindPoint
	pushStages vk.ShaderStageFlags
}

func (p *VulkanPipeline) Name() string           { return p.desc.Name }
func (p *VulkanPipeline) Kind() gpu.PipelineKind { return p.desc.Kind }
func (p *VulkanPipeline) GroupCount() int        { return 0 }

func (d *VulkanDevice) CreatePipeline(desc gpu.PipelineDesc) (gpu.Pipeline, error) {
	if desc.Kind == gpu.PipelineRayTracing {
		return nil, fmt.Errorf("pipeline %s: %w", desc.Name, core.ErrRayTracingUnsupported)
	}

	stages := make([]*VulkanShaderStage, 0, len(desc.Stages))
	defer func() {
		// modules are no longer needed once the pipeline exists
		for _, s := range stages {
			s.Destroy(d)
		}
	}()
	var pushStages vk.ShaderStageFlagBits
	for _, s := range desc.Stages {
		stage, err := NewShaderModule(d, s)
		if err != nil {
			err = fmt.Errorf("pipeline %s: %v: %w", desc.Name, err, core.ErrPipelineCreation)
			core.LogError(err.Error())
			return nil, err
		}
		stages = append(stages, stage)
		pushStages |= stage.ShaderStageCreateInfo.Stage
	}

	p := &VulkanPipeline{device: d, desc: desc, pushStages: vk.ShaderStageFlags(pushStages)}
	if err := p.createLayout(); err != nil {
		err = fmt.Errorf("pipeline %s: %v: %w", desc.Name, err, core.ErrPipelineCreation)
		core.LogError(err.Error())
		return nil, err
	}

	var err error
	switch desc.Kind {
	case gpu.PipelineCompute:
		err = p.createCompute(stages)
	default:
		err = p.createGraphics(stages)
	}
	if err != nil {
		p.Destroy()
		err = fmt.Errorf("pipeline %s: %v: %w", desc.Name, err, core.ErrPipelineCreation)
		core.LogError(err.Error())
		return nil, err
	}
	core.LogDebug("pipeline %s created", desc.Name)
	return p, nil
}

func (p *VulkanPipeline) createLayout() error {
	pipelineLayoutCreateInfo := vk.PipelineLayoutCreateInfo{
		SType: vk.StructureTypePipelineLayoutCreateInfo,
	}
	if p.desc.PushConstantSize > 0 {
		pipelineLayoutCreateInfo.PushConstantRangeCount = 1
		pipelineLayoutCreateInfo.PPushConstantRanges = []vk.PushConstantRange{{
			StageFlags: p.pushStages,
			Offset:     0,
			Size:       p.desc.PushConstantSize,
		}}
	}
	return p.device.locks.SafeCall(PipelineManagement, func() error {
		if res := vk.CreatePipelineLayout(p.device.LogicalDevice, &pipelineLayoutCreateInfo, p.device.context.Allocator, &p.PipelineLayout); res != vk.Success {
			return resultError("vkCreatePipelineLayout", res)
		}
		return nil
	})
}

func (p *VulkanPipeline) createCompute(stages []*VulkanShaderStage) error {
	if len(stages) != 1 {
		return fmt.Errorf("compute pipeline needs exactly one stage, got %d", len(stages))
	}
	p.bindPoint = vk.PipelineBindPointCompute
	createInfo := vk.ComputePipelineCreateInfo{
		SType:              vk.StructureTypeComputePipelineCreateInfo,
		Stage:              stages[0].ShaderStageCreateInfo,
		Layout:             p.PipelineLayout,
		BasePipelineHandle: vk.NullPipeline,
		BasePipelineIndex:  -1,
	}
	pipelines := make([]vk.Pipeline, 1)
	return p.device.locks.SafeCall(PipelineManagement, func() error {
		if res := vk.CreateComputePipelines(p.device.LogicalDevice, vk.NullPipelineCache, 1, []vk.ComputePipelineCreateInfo{createInfo}, p.device.context.Allocator, pipelines); res != vk.Success {
			return resultError("vkCreateComputePipelines", res)
		}
		p.Handle = pipelines[0]
		return nil
	})
}

func (p *VulkanPipeline) createGraphics(stages []*VulkanShaderStage) error {
	p.bindPoint = vk.PipelineBindPointGraphics
	rp, err := p.device.renderpasses.get(compatibleKey(p.desc.ColorFormats, p.desc.DepthFormat))
	if err != nil {
		return err
	}

	stageInfos := make([]vk.PipelineShaderStageCreateInfo, len(stages))
	for i, s := range stages {
		stageInfos[i] = s.ShaderStageCreateInfo
	}

	// Viewport and scissor are dynamic and set at BeginRendering.
	viewportState := vk.PipelineViewportStateCreateInfo{
		SType:         vk.StructureTypePipelineViewportStateCreateInfo,
		ViewportCount: 1,
		ScissorCount:  1,
	}
	rasterizerCreateInfo := vk.PipelineRasterizationStateCreateInfo{
		SType:       vk.StructureTypePipelineRasterizationStateCreateInfo,
		PolygonMode: vk.PolygonModeFill,
		LineWidth:   1.0,
		CullMode:    vk.CullModeFlags(vk.CullModeBackBit),
		FrontFace:   vk.FrontFaceCounterClockwise,
	}
	if p.desc.VertexStride == 0 {
		// fullscreen and overlay triangles
		rasterizerCreateInfo.CullMode = vk.CullModeFlags(vk.CullModeNone)
	}
	multisamplingCreateInfo := vk.PipelineMultisampleStateCreateInfo{
		SType:                vk.StructureTypePipelineMultisampleStateCreateInfo,
		RasterizationSamples: vk.SampleCount1Bit,
		MinSampleShading:     1.0,
	}
	depthStencil := vk.PipelineDepthStencilStateCreateInfo{
		SType: vk.StructureTypePipelineDepthStencilStateCreateInfo,
	}
	if p.desc.DepthFormat != gpu.FormatUndefined {
		depthStencil.DepthTestEnable = vk.True
		depthStencil.DepthWriteEnable = vk.True
		depthStencil.DepthCompareOp = vk.CompareOpLess
	}

	blendAttachments := make([]vk.PipelineColorBlendAttachmentState, len(p.desc.ColorFormats))
	for i, f := range p.desc.ColorFormats {
		blendAttachments[i] = vk.PipelineColorBlendAttachmentState{
			BlendEnable: vk.False,
			ColorWriteMask: vk.ColorComponentFlags(vk.ColorComponentRBit) | vk.ColorComponentFlags(vk.ColorComponentGBit) |
				vk.ColorComponentFlags(vk.ColorComponentBBit) | vk.ColorComponentFlags(vk.ColorComponentABit),
		}
		// display targets blend so overlays compose over the lit image
		if f == gpu.FormatRGBA8Unorm || f == gpu.FormatBGRA8Unorm {
			blendAttachments[i].BlendEnable = vk.True
			blendAttachments[i].SrcColorBlendFactor = vk.BlendFactorSrcAlpha
			blendAttachments[i].DstColorBlendFactor = vk.BlendFactorOneMinusSrcAlpha
			blendAttachments[i].ColorBlendOp = vk.BlendOpAdd
			blendAttachments[i].SrcAlphaBlendFactor = vk.BlendFactorSrcAlpha
			blendAttachments[i].DstAlphaBlendFactor = vk.BlendFactorOneMinusSrcAlpha
			blendAttachments[i].AlphaBlendOp = vk.BlendOpAdd
		}
	}
	colorBlendStateCreateInfo := vk.PipelineColorBlendStateCreateInfo{
		SType:           vk.StructureTypePipelineColorBlendStateCreateInfo,
		LogicOpEnable:   vk.False,
		LogicOp:         vk.LogicOpCopy,
		AttachmentCount: uint32(len(blendAttachments)),
		PAttachments:    blendAttachments,
	}

	dynamicStates := []vk.DynamicState{
		vk.DynamicStateViewport,
		vk.DynamicStateScissor,
	}
	dynamicStateCreateInfo := vk.PipelineDynamicStateCreateInfo{
		SType:             vk.StructureTypePipelineDynamicStateCreateInfo,
		DynamicStateCount: uint32(len(dynamicStates)),
		PDynamicStates:    dynamicStates,
	}

	vertexInputInfo := vk.PipelineVertexInputStateCreateInfo{
		SType: vk.StructureTypePipelineVertexInputStateCreateInfo,
	}
	if p.desc.VertexStride > 0 {
		vertexInputInfo.VertexBindingDescriptionCount = 1
		vertexInputInfo.PVertexBindingDescriptions = []vk.VertexInputBindingDescription{{
			Binding:   0,
			Stride:    p.desc.VertexStride,
			InputRate: vk.VertexInputRateVertex,
		}}
		attributes := []vk.VertexInputAttributeDescription{
			{Location: 0, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 0},
			{Location: 1, Binding: 0, Format: vk.FormatR32g32b32Sfloat, Offset: 12},
			{Location: 2, Binding: 0, Format: vk.FormatR32g32Sfloat, Offset: 24},
		}
		vertexInputInfo.VertexAttributeDescriptionCount = uint32(len(attributes))
		vertexInputInfo.PVertexAttributeDescriptions = attributes
	}

	inputAssembly := vk.PipelineInputAssemblyStateCreateInfo{
		SType:                  vk.StructureTypePipelineInputAssemblyStateCreateInfo,
		Topology:               vk.PrimitiveTopologyTriangleList,
		PrimitiveRestartEnable: vk.False,
	}

	pipelineCreateInfo := vk.GraphicsPipelineCreateInfo{
		SType:               vk.StructureTypeGraphicsPipelineCreateInfo,
		StageCount:          uint32(len(stageInfos)),
		PStages:             stageInfos,
		PVertexInputState:   &vertexInputInfo,
		PInputAssemblyState: &inputAssembly,
		PViewportState:      &viewportState,
		PRasterizationState: &rasterizerCreateInfo,
		PMultisampleState:   &multisamplingCreateInfo,
		PDepthStencilState:  &depthStencil,
		PColorBlendState:    &colorBlendStateCreateInfo,
		PDynamicState:       &dynamicStateCreateInfo,
		Layout:              p.PipelineLayout,
		RenderPass:          rp.Handle,
		Subpass:             0,
		BasePipelineHandle:  vk.NullPipeline,
		BasePipelineIndex:   -1,
	}

	pipelines := make([]vk.Pipeline, 1)
	return p.device.locks.SafeCall(PipelineManagement, func() error {
		result := vk.CreateGraphicsPipelines(
			p.device.LogicalDevice,
			vk.NullPipelineCache,
			1,
			[]vk.GraphicsPipelineCreateInfo{pipelineCreateInfo},
			p.device.context.Allocator,
			pipelines)
		if result != vk.Success {
			return resultError("vkCreateGraphicsPipelines", result)
		}
		p.Handle = pipelines[0]
		return nil
	})
}

func (p *VulkanPipeline) Destroy() {
	d := p.device
	_ = d.locks.SafeCall(PipelineManagement, func() error {
		if p.Handle != nil {
			vk.DestroyPipeline(d.LogicalDevice, p.Handle, d.context.Allocator)
			p.Handle = nil
		}
		if p.PipelineLayout != nil {
			vk.DestroyPipelineLayout(d.LogicalDevice, p.PipelineLayout, d.context.Allocator)
			p.PipelineLayout = nil
		}
		return nil
	})
}
