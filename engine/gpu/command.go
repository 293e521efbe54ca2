package gpu

type LoadOp int

const (
	LoadOpClear LoadOp = iota
	LoadOpLoad
	LoadOpDontCare
)

type Attachment struct {
	Image Image
	Load  LoadOp
	Clear [4]float32
}

type RenderingInfo struct {
	Extent Extent
	Color  []Attachment
	Depth  *Attachment
}

// Binding is one descriptor as seen by the next draw or trace. Images declare
// the layout they are expected to be in and whether the shader writes them.
type Binding struct {
	Index     uint32
	Image     Image
	Layout    Layout
	Write     bool
	Buffer    Buffer
	Structure AccelerationStructure
}

// CommandStream records work for one queue. Recording errors are sticky and
// reported by End.
type CommandStream interface {
	Queue() Queue
	Begin() error
	End() error

	Barrier(memory []MemoryBarrier, images []ImageBarrier)

	BeginRendering(info RenderingInfo)
	EndRendering()
	BindPipeline(p Pipeline)
	Bind(bindings []Binding)
	PushConstants(data []byte)
	BindVertexBuffer(b Buffer, offset int64)
	BindIndexBuffer(b Buffer, offset int64)
	Draw(vertexCount, instanceCount uint32)
	DrawIndexed(indexCount, firstIndex uint32, vertexOffset int32)

	ClearColor(img Image, value [4]float32)
	Blit(src, dst Image)
	CopyBuffer(src, dst Buffer, srcOffset, dstOffset, size int64)

	BuildAccelerationStructures(infos []ASBuildInfo)
	TraceRays(info TraceRaysInfo)
}
