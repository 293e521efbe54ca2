package headless

import (
	"encoding/binary"
	"fmt"
	m "math"

	"golang.org/x/image/math/f32"

	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

// Instance is a decoded top level instance record.
type Instance struct {
	Transform   f32.Aff4
	CustomIndex uint32
	Mask        uint8
	SBTOffset   uint32
	Flags       uint8
	Reference   uint64
}

func decodeInstance(rec []byte) Instance {
	var inst Instance
	for i := range inst.Transform {
		inst.Transform[i] = m.Float32frombits(binary.LittleEndian.Uint32(rec[i*4:]))
	}
	w := binary.LittleEndian.Uint32(rec[48:])
	inst.CustomIndex = w & 0xFFFFFF
	inst.Mask = uint8(w >> 24)
	w = binary.LittleEndian.Uint32(rec[52:])
	inst.SBTOffset = w & 0xFFFFFF
	inst.Flags = uint8(w >> 24)
	inst.Reference = binary.LittleEndian.Uint64(rec[56:])
	return inst
}

type AccelerationStructure struct {
	id      int
	level   gpu.ASLevel
	buffer  *Buffer
	offset  int64
	size    int64
	address uint64
	hz      hazard

	built          bool
	flags          gpu.BuildFlags
	primitiveCount uint32
	instances      []Instance
	builds         int
	updates        int

	destroyed bool
}

func (a *AccelerationStructure) Level() gpu.ASLevel { return a.level }
func (a *AccelerationStructure) Buffer() gpu.Buffer { return a.buffer }
func (a *AccelerationStructure) Address() uint64    { return a.address }
func (a *AccelerationStructure) Destroy()           { a.destroyed = true }
func (a *AccelerationStructure) Destroyed() bool    { return a.destroyed }
func (a *AccelerationStructure) Built() bool        { return a.built }
func (a *AccelerationStructure) Flags() gpu.BuildFlags {
	return a.flags
}

// Builds and Updates count replayed full builds and refits.
func (a *AccelerationStructure) Builds() int  { return a.builds }
func (a *AccelerationStructure) Updates() int { return a.updates }

func (a *AccelerationStructure) PrimitiveCount() uint32 { return a.primitiveCount }

// Instances are the records read by the last top level build or refit.
func (a *AccelerationStructure) Instances() []Instance {
	return append([]Instance(nil), a.instances...)
}

func (a *AccelerationStructure) String() string {
	return fmt.Sprintf("%s-level-as#%d", a.level, a.id)
}

type rayTracing struct {
	dev *Device
}

func (r *rayTracing) Properties() gpu.RayTracingProperties {
	return r.dev.opts.Properties
}

// BuildSizes grows linearly with the primitive or instance count. Structures
// that allow updates are larger and need update scratch.
func (r *rayTracing) BuildSizes(info gpu.ASBuildInfo) gpu.BuildSizes {
	update := info.Flags&gpu.BuildAllowUpdate != 0
	var s gpu.BuildSizes
	switch info.Level {
	case gpu.BottomLevel:
		var prims int64
		for _, t := range info.Triangles {
			prims += int64(t.PrimitiveCount())
		}
		s.StructureSize = 256 + prims*64
		s.BuildScratchSize = 128 + prims*32
		if update {
			s.StructureSize += prims * 16
			s.UpdateScratchSize = 64 + prims*16
		}
	case gpu.TopLevel:
		n := int64(info.InstanceCount)
		s.StructureSize = 256 + n*128
		s.BuildScratchSize = 256 + n*64
		if update {
			s.StructureSize += n * 64
			s.BuildScratchSize += n * 32
			s.UpdateScratchSize = 128 + n*24
		}
	}
	return s
}

func (r *rayTracing) CreateAccelerationStructure(level gpu.ASLevel, backing gpu.Buffer, offset, size int64) (gpu.AccelerationStructure, error) {
	b, ok := backing.(*Buffer)
	if !ok {
		return nil, fmt.Errorf("foreign buffer %T", backing)
	}
	if b.desc.Usage&gpu.BufferUsageASStorage == 0 {
		return nil, fmt.Errorf("%s lacks acceleration structure storage usage: %w", b, core.ErrASBuildFailed)
	}
	if offset%256 != 0 || offset+size > b.desc.Size {
		return nil, fmt.Errorf("structure range [%d,%d) invalid for %s: %w", offset, offset+size, b, core.ErrASBuildFailed)
	}
	as := &AccelerationStructure{
		id:      r.dev.id(),
		level:   level,
		buffer:  b,
		offset:  offset,
		size:    size,
		address: b.address + uint64(offset),
	}
	r.dev.structures = append(r.dev.structures, as)
	return as, nil
}

func (r *rayTracing) BufferAddress(b gpu.Buffer) uint64 {
	if buf, ok := b.(*Buffer); ok {
		return buf.address
	}
	return 0
}

func (r *rayTracing) ShaderGroupHandles(p gpu.Pipeline) ([]byte, error) {
	pl, ok := p.(*Pipeline)
	if !ok || pl.desc.Kind != gpu.PipelineRayTracing {
		return nil, fmt.Errorf("pipeline %q is not a ray tracing pipeline", p.Name())
	}
	size := int(r.dev.opts.Properties.ShaderGroupHandleSize)
	out := make([]byte, size*pl.GroupCount())
	for g := 0; g < pl.GroupCount(); g++ {
		h := out[g*size : (g+1)*size]
		binary.LittleEndian.PutUint32(h, uint32(pl.id))
		binary.LittleEndian.PutUint32(h[4:], uint32(g+1))
	}
	return out, nil
}

func (d *Device) structureByAddress(addr uint64) *AccelerationStructure {
	for _, as := range d.structures {
		if as.address == addr && !as.destroyed {
			return as
		}
	}
	return nil
}
