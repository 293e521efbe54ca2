package resources

import (
	"fmt"

	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/math"
)

const (
	MinFrameSlots = 2
	MaxFrameSlots = 3
)

// FrameSlot is one copy of every per-frame mutable resource. Slots are
// rendered round-robin; a slot is only re-recorded once its fence signals.
type FrameSlot struct {
	Index int

	Position Handle
	Normal   Handle
	UV       Handle
	Depth    Handle

	Shadow     Handle
	AO         Handle
	Reflection Handle

	Composite Handle

	Uniforms Handle
	// TLAS instance records written by the host for this slot's builds.
	Instances Handle
}

// GBuffer lists the colour channels written by the rasterization pass.
func (s *FrameSlot) GBuffer() []Handle {
	return []Handle{s.Position, s.Normal, s.UV}
}

// TracedOutputs lists the images written by the ray traced passes.
func (s *FrameSlot) TracedOutputs() []Handle {
	return []Handle{s.Shadow, s.AO, s.Reflection}
}

// Images lists every surface sized image of the slot.
func (s *FrameSlot) Images() []Handle {
	return []Handle{s.Position, s.Normal, s.UV, s.Depth, s.Shadow, s.AO, s.Reflection, s.Composite}
}

type FrameSlotConfig struct {
	Count              int
	InstanceCapacity   uint32
	UniformSize        int64
	HalfResReflections bool
}

// ReflectionScale is the surface scale of the reflection output.
func ReflectionScale(halfRes bool) float32 {
	if halfRes {
		return 0.5
	}
	return 1
}

// NewFrameSlots allocates one prototype of each per-frame resource and
// duplicates it config.Count times.
func NewFrameSlots(pool *Pool, config *FrameSlotConfig) ([]*FrameSlot, error) {
	if config.Count < MinFrameSlots || config.Count > MaxFrameSlots {
		err := fmt.Errorf("func NewFrameSlots - %d frame slots requested, must be %d or %d: %w", config.Count, MinFrameSlots, MaxFrameSlots, core.ErrInvalidConfig)
		core.LogError(err.Error())
		return nil, err
	}
	colorUsage := gpu.ImageUsageColorTarget | gpu.ImageUsageSampled
	tracedUsage := gpu.ImageUsageStorage | gpu.ImageUsageSampled | gpu.ImageUsageTransferDst

	protos := []struct {
		field func(*FrameSlot) *Handle
		req   Request
	}{
		{func(s *FrameSlot) *Handle { return &s.Position }, Request{Name: "gbuffer.position", Format: gpu.FormatRGBA32Float, Scale: 1, ImageUsage: colorUsage}},
		{func(s *FrameSlot) *Handle { return &s.Normal }, Request{Name: "gbuffer.normal", Format: gpu.FormatRGBA16Float, Scale: 1, ImageUsage: colorUsage}},
		{func(s *FrameSlot) *Handle { return &s.UV }, Request{Name: "gbuffer.uv", Format: gpu.FormatRG16Float, Scale: 1, ImageUsage: colorUsage}},
		{func(s *FrameSlot) *Handle { return &s.Depth }, Request{Name: "gbuffer.depth", Format: gpu.FormatD32Float, Scale: 1, ImageUsage: gpu.ImageUsageDepthTarget | gpu.ImageUsageSampled}},
		{func(s *FrameSlot) *Handle { return &s.Shadow }, Request{Name: "shadow", Format: gpu.FormatR16Float, Scale: 1, ImageUsage: tracedUsage}},
		{func(s *FrameSlot) *Handle { return &s.AO }, Request{Name: "ao", Format: gpu.FormatR16Float, Scale: 1, ImageUsage: tracedUsage}},
		{func(s *FrameSlot) *Handle { return &s.Reflection }, Request{Name: "reflection", Format: gpu.FormatRGBA16Float, Scale: ReflectionScale(config.HalfResReflections), ImageUsage: tracedUsage}},
		{func(s *FrameSlot) *Handle { return &s.Composite }, Request{Name: "composite", Format: gpu.FormatRGBA8Unorm, Scale: 1, ImageUsage: colorUsage | gpu.ImageUsageTransferSrc}},
		{func(s *FrameSlot) *Handle { return &s.Uniforms }, Request{
			Name:        "frame.uniforms",
			Kind:        KindBuffer,
			Size:        config.UniformSize,
			BufferUsage: gpu.BufferUsageUniform,
			Residency:   gpu.ResidencyHost,
		}},
		{func(s *FrameSlot) *Handle { return &s.Instances }, Request{
			Name:        "tlas.instances",
			Kind:        KindBuffer,
			Size:        int64(math.MaxOf(config.InstanceCapacity, 1)) * gpu.InstanceSize,
			BufferUsage: gpu.BufferUsageASInput | gpu.BufferUsageDeviceAddress,
			Residency:   gpu.ResidencyHost,
		}},
	}

	slots := make([]*FrameSlot, config.Count)
	for i := range slots {
		slots[i] = &FrameSlot{Index: i}
	}
	for _, proto := range protos {
		h, err := pool.Allocate(proto.req)
		if err != nil {
			return nil, err
		}
		copies, err := pool.Duplicate(h, config.Count)
		if err != nil {
			return nil, err
		}
		for i, c := range copies {
			*proto.field(slots[i]) = c
		}
	}
	core.LogDebug("allocated %d frame slots at %dx%d", config.Count, pool.Extent().Width, pool.Extent().Height)
	return slots, nil
}
