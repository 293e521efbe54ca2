package gpu

type RayTracingProperties struct {
	ShaderGroupHandleSize      uint32
	ShaderGroupHandleAlignment uint32
	ShaderGroupBaseAlignment   uint32
	MinScratchOffsetAlignment  uint32
	MaxRecursionDepth          uint32
}

type ASLevel int

const (
	BottomLevel ASLevel = iota
	TopLevel
)

func (l ASLevel) String() string {
	if l == TopLevel {
		return "top"
	}
	return "bottom"
}

type BuildFlags uint32

const (
	BuildPreferFastTrace BuildFlags = 1 << iota
	BuildPreferFastBuild
	BuildAllowUpdate
)

type BuildMode int

const (
	BuildModeBuild BuildMode = iota
	// Update refits Src into Dst; requires BuildAllowUpdate on Src.
	BuildModeUpdate
)

type BuildSizes struct {
	StructureSize     int64
	BuildScratchSize  int64
	UpdateScratchSize int64
}

// TriangleGeometry is a region of the shared vertex/index buffers.
type TriangleGeometry struct {
	Vertices     Buffer
	VertexOffset int64
	VertexStride uint32
	VertexCount  uint32
	Indices      Buffer
	IndexOffset  int64
	IndexCount   uint32
}

func (g TriangleGeometry) PrimitiveCount() uint32 {
	return g.IndexCount / 3
}

type ASBuildInfo struct {
	Level ASLevel
	Flags BuildFlags
	Mode  BuildMode

	Triangles []TriangleGeometry

	// Top level only: InstanceCount records of InstanceSize bytes.
	Instances       Buffer
	InstancesOffset int64
	InstanceCount   uint32

	Src AccelerationStructure
	Dst AccelerationStructure

	Scratch       Buffer
	ScratchOffset int64
}

// InstanceSize is the size of one top level instance record.
const InstanceSize = 64

type AccelerationStructure interface {
	Level() ASLevel
	Buffer() Buffer
	// Address is the device address referenced from instance records.
	Address() uint64
	Destroy()
}

// StridedRegion is one shader binding table range passed to TraceRays.
type StridedRegion struct {
	Buffer  Buffer
	Address uint64
	Offset  int64
	Stride  int64
	Size    int64
}

type TraceRaysInfo struct {
	Raygen   StridedRegion
	Miss     StridedRegion
	Hit      StridedRegion
	Callable StridedRegion
	Width    uint32
	Height   uint32
}

// RayTracing is the capability table resolved once at device setup and
// handed to the acceleration structure manager and the pass orchestrator.
type RayTracing interface {
	Properties() RayTracingProperties
	BuildSizes(info ASBuildInfo) BuildSizes
	CreateAccelerationStructure(level ASLevel, backing Buffer, offset, size int64) (AccelerationStructure, error)
	BufferAddress(b Buffer) uint64
	// ShaderGroupHandles returns GroupCount handles of ShaderGroupHandleSize bytes.
	ShaderGroupHandles(p Pipeline) ([]byte, error)
}
