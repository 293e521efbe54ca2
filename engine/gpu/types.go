// Package gpu describes the device surface the renderer records against. The
// Vulkan backend and the headless recorder both implement it.
package gpu

import "math"

// WaitForever is the timeout used for every frame fence wait.
const WaitForever uint64 = math.MaxUint64

type Format int

const (
	FormatUndefined Format = iota
	FormatRGBA8Unorm
	FormatBGRA8Unorm
	FormatRGBA16Float
	FormatRGBA32Float
	FormatRG16Float
	FormatR8Unorm
	FormatR16Float
	FormatD32Float
)

func (f Format) String() string {
	switch f {
	case FormatRGBA8Unorm:
		return "rgba8_unorm"
	case FormatBGRA8Unorm:
		return "bgra8_unorm"
	case FormatRGBA16Float:
		return "rgba16_float"
	case FormatRGBA32Float:
		return "rgba32_float"
	case FormatRG16Float:
		return "rg16_float"
	case FormatR8Unorm:
		return "r8_unorm"
	case FormatR16Float:
		return "r16_float"
	case FormatD32Float:
		return "d32_float"
	}
	return "undefined"
}

func (f Format) IsDepth() bool {
	return f == FormatD32Float
}

// BytesPerPixel of a tightly packed texel.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatRGBA8Unorm, FormatBGRA8Unorm, FormatRG16Float, FormatD32Float:
		return 4
	case FormatRGBA16Float:
		return 8
	case FormatRGBA32Float:
		return 16
	case FormatR8Unorm:
		return 1
	case FormatR16Float:
		return 2
	}
	return 0
}

type Extent struct {
	Width, Height uint32
}

// Scale returns the extent multiplied by s, never below 1x1.
func (e Extent) Scale(s float32) Extent {
	w := uint32(float32(e.Width) * s)
	h := uint32(float32(e.Height) * s)
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	return Extent{Width: w, Height: h}
}

func (e Extent) IsZero() bool {
	return e.Width == 0 || e.Height == 0
}

type ImageUsage uint32

const (
	ImageUsageColorTarget ImageUsage = 1 << iota
	ImageUsageDepthTarget
	ImageUsageSampled
	ImageUsageStorage
	ImageUsageTransferSrc
	ImageUsageTransferDst
)

type BufferUsage uint32

const (
	BufferUsageVertex BufferUsage = 1 << iota
	BufferUsageIndex
	BufferUsageUniform
	BufferUsageStorage
	BufferUsageTransferSrc
	BufferUsageTransferDst
	// Read by acceleration structure builds (vertices, indices, instances).
	BufferUsageASInput
	// Backing memory of an acceleration structure.
	BufferUsageASStorage
	BufferUsageScratch
	BufferUsageShaderTable
	BufferUsageDeviceAddress
)

// Residency is a hint for where the memory should live.
type Residency int

const (
	ResidencyDevice Residency = iota
	// Host visible and coherent, writable through Device.WriteBuffer.
	ResidencyHost
)

type Layout int

const (
	LayoutUndefined Layout = iota
	LayoutColorTarget
	LayoutDepthTarget
	LayoutShaderRead
	// Storage image access from shaders.
	LayoutGeneral
	LayoutTransferSrc
	LayoutTransferDst
	LayoutPresent
)

func (l Layout) String() string {
	switch l {
	case LayoutColorTarget:
		return "color_target"
	case LayoutDepthTarget:
		return "depth_target"
	case LayoutShaderRead:
		return "shader_read"
	case LayoutGeneral:
		return "general"
	case LayoutTransferSrc:
		return "transfer_src"
	case LayoutTransferDst:
		return "transfer_dst"
	case LayoutPresent:
		return "present"
	}
	return "undefined"
}

// Writable reports whether shaders or attachments may write the image in l.
func (l Layout) Writable() bool {
	switch l {
	case LayoutColorTarget, LayoutDepthTarget, LayoutGeneral, LayoutTransferDst:
		return true
	}
	return false
}

type Stage uint32

const (
	StageNone Stage = 0
	StageTop  Stage = 1 << iota
	StageVertexInput
	StageVertexShader
	StageFragmentShader
	StageEarlyFragmentTests
	StageLateFragmentTests
	StageColorOutput
	StageComputeShader
	StageRayTracingShader
	StageASBuild
	StageTransfer
	StageHost
	StageBottom

	StageAll Stage = StageTop | StageVertexInput | StageVertexShader | StageFragmentShader |
		StageEarlyFragmentTests | StageLateFragmentTests | StageColorOutput | StageComputeShader |
		StageRayTracingShader | StageASBuild | StageTransfer | StageHost | StageBottom
)

func (s Stage) Contains(o Stage) bool {
	return s&o == o
}

type Access uint32

const (
	AccessNone       Access = 0
	AccessColorWrite Access = 1 << iota
	AccessColorRead
	AccessDepthWrite
	AccessDepthRead
	AccessShaderRead
	AccessShaderWrite
	AccessUniformRead
	AccessVertexRead
	AccessIndexRead
	AccessASRead
	AccessASWrite
	AccessTransferRead
	AccessTransferWrite
	AccessHostWrite
	AccessMemoryRead
	AccessMemoryWrite

	accessWrites = AccessColorWrite | AccessDepthWrite | AccessShaderWrite | AccessASWrite |
		AccessTransferWrite | AccessHostWrite | AccessMemoryWrite
)

func (a Access) Contains(o Access) bool {
	return a&o == o
}

// Writes keeps only the write bits of a.
func (a Access) Writes() Access {
	return a & accessWrites
}

// MemoryBarrier orders every buffer and acceleration structure access.
type MemoryBarrier struct {
	SrcStage  Stage
	DstStage  Stage
	SrcAccess Access
	DstAccess Access
}

// ImageBarrier orders accesses to one image and moves it between layouts.
type ImageBarrier struct {
	Image     Image
	SrcStage  Stage
	DstStage  Stage
	SrcAccess Access
	DstAccess Access
	OldLayout Layout
	NewLayout Layout
}

type Queue int

const (
	QueueGraphics Queue = iota
	QueueCompute
)

func (q Queue) String() string {
	if q == QueueCompute {
		return "compute"
	}
	return "graphics"
}
