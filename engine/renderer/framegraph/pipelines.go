package framegraph

import (
	"fmt"

	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/math"
)

// ShaderSource hands out compiled shader blobs by name.
type ShaderSource interface {
	Load(name string) ([]byte, error)
}

type shaderRef struct {
	kind gpu.ShaderKind
	name string
}

type pipelineSpec struct {
	kind         gpu.PipelineKind
	stages       []shaderRef
	colors       []gpu.Format
	depth        gpu.Format
	vertexStride uint32
	pushConstant uint32
}

// gbuffer push constants: model matrix and material index
const gbufferPushSize = 64 + 4

// OverlayPushSize bounds the push constants an Overlay may use.
const OverlayPushSize = 32

var pipelineSpecs = map[PassID]pipelineSpec{
	PassGBuffer: {
		kind:         gpu.PipelineGraphics,
		stages:       []shaderRef{{gpu.ShaderVertex, "gbuffer.vert"}, {gpu.ShaderFragment, "gbuffer.frag"}},
		colors:       []gpu.Format{gpu.FormatRGBA32Float, gpu.FormatRGBA16Float, gpu.FormatRG16Float},
		depth:        gpu.FormatD32Float,
		vertexStride: math.VertexStride,
		pushConstant: gbufferPushSize,
	},
	PassShadow: {
		kind:   gpu.PipelineRayTracing,
		stages: []shaderRef{{gpu.ShaderRaygen, "shadow.rgen"}, {gpu.ShaderMiss, "shadow.rmiss"}},
	},
	PassAO: {
		kind:   gpu.PipelineRayTracing,
		stages: []shaderRef{{gpu.ShaderRaygen, "ao.rgen"}, {gpu.ShaderMiss, "ao.rmiss"}},
	},
	PassReflection: {
		kind: gpu.PipelineRayTracing,
		stages: []shaderRef{
			{gpu.ShaderRaygen, "reflection.rgen"},
			{gpu.ShaderMiss, "reflection.rmiss"},
			{gpu.ShaderMiss, "shadow.rmiss"},
			{gpu.ShaderClosestHit, "reflection.rchit"},
		},
	},
	PassLighting: {
		kind:   gpu.PipelineGraphics,
		stages: []shaderRef{{gpu.ShaderVertex, "lighting.vert"}, {gpu.ShaderFragment, "lighting.frag"}},
		colors: []gpu.Format{gpu.FormatRGBA8Unorm},
	},
	PassUI: {
		kind:         gpu.PipelineGraphics,
		stages:       []shaderRef{{gpu.ShaderVertex, "ui.vert"}, {gpu.ShaderFragment, "ui.frag"}},
		colors:       []gpu.Format{gpu.FormatRGBA8Unorm},
		pushConstant: OverlayPushSize,
	},
}

// ShaderNames lists every shader blob the pass sequence loads.
func ShaderNames() []string {
	seen := map[string]bool{}
	var names []string
	for _, id := range Order {
		for _, s := range pipelineSpecs[id].stages {
			if !seen[s.name] {
				seen[s.name] = true
				names = append(names, s.name)
			}
		}
	}
	return names
}

// PassesUsingShader returns the passes whose pipeline includes name.
func PassesUsingShader(name string) []PassID {
	var out []PassID
	for _, id := range Order {
		for _, s := range pipelineSpecs[id].stages {
			if s.name == name {
				out = append(out, id)
				break
			}
		}
	}
	return out
}

func (o *Orchestrator) pipelineDesc(id PassID) (gpu.PipelineDesc, error) {
	spec, ok := pipelineSpecs[id]
	if !ok {
		return gpu.PipelineDesc{}, fmt.Errorf("pass %s has no pipeline", id)
	}
	desc := gpu.PipelineDesc{
		Name:             id.String(),
		Kind:             spec.kind,
		ColorFormats:     spec.colors,
		DepthFormat:      spec.depth,
		VertexStride:     spec.vertexStride,
		PushConstantSize: spec.pushConstant,
	}
	if spec.kind == gpu.PipelineRayTracing {
		desc.MaxRecursion = 1
		if id == PassReflection {
			// reflection rays spawn shadow rays from their hit points
			desc.MaxRecursion = o.maxRecursion
		}
	}
	for _, s := range spec.stages {
		code, err := o.shaders.Load(s.name)
		if err != nil {
			return gpu.PipelineDesc{}, fmt.Errorf("pass %s: load %s: %v: %w", id, s.name, err, core.ErrPipelineCreation)
		}
		desc.Stages = append(desc.Stages, gpu.ShaderStage{Kind: s.kind, Name: s.name, Code: code, Entry: "main"})
	}
	return desc, nil
}

// createPass builds the pipeline, and for traced passes the shader binding
// table, of one pass.
func (o *Orchestrator) createPass(id PassID) (gpu.Pipeline, *ShaderBindingTable, error) {
	desc, err := o.pipelineDesc(id)
	if err != nil {
		return nil, nil, err
	}
	p, err := o.device.CreatePipeline(desc)
	if err != nil {
		return nil, nil, fmt.Errorf("pass %s: %w", id, err)
	}
	if desc.Kind != gpu.PipelineRayTracing {
		return p, nil, nil
	}
	sbt, err := newShaderBindingTable(o.device, o.rt, o.pool, p, groupKinds(desc))
	if err != nil {
		p.Destroy()
		return nil, nil, err
	}
	return p, sbt, nil
}
