package gpu

type ShaderKind int

const (
	ShaderVertex ShaderKind = iota
	ShaderFragment
	ShaderCompute
	ShaderRaygen
	ShaderMiss
	ShaderClosestHit
	ShaderAnyHit
)

type PipelineKind int

const (
	PipelineGraphics PipelineKind = iota
	PipelineCompute
	PipelineRayTracing
)

type ShaderStage struct {
	Kind  ShaderKind
	Name  string
	Code  []byte
	Entry string
}

type PipelineDesc struct {
	Name   string
	Kind   PipelineKind
	Stages []ShaderStage

	ColorFormats []Format
	DepthFormat  Format
	// VertexStride is zero for pipelines that generate their vertices.
	// Otherwise the binding holds position, normal and texcoord.
	VertexStride uint32

	// Ray tracing only.
	MaxRecursion uint32

	PushConstantSize uint32
}

type Pipeline interface {
	Name() string
	Kind() PipelineKind
	// GroupCount is the number of ray tracing shader groups, one per stage.
	GroupCount() int
	Destroy()
}
