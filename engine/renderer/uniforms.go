package renderer

import (
	"encoding/binary"
	m "math"

	"github.com/spaghettifunk/hybridrt/engine/math"
	"github.com/spaghettifunk/hybridrt/engine/renderer/framegraph"
)

// UniformSize is the std140 size of the per-frame uniform record.
const UniformSize = 4*64 + 4*16

// Feature bits of the uniform record's feature mask.
const (
	FeatureShadows uint32 = 1 << iota
	FeatureAmbientOcclusion
	FeatureReflections
	FeatureHalfResReflections
	FeatureAccumulate
	// FeatureGeometryMoved marks frames whose top level structure changed.
	FeatureGeometryMoved
)

// FrameUniforms is everything the shaders read once per frame.
type FrameUniforms struct {
	View, Projection   math.Mat4
	CameraPosition     math.Vec3
	SampleIndex        uint32
	Width, Height      uint32
	Frame              uint64
	Features           uint32
	AORadius           float32
	ShadowSamples      uint32
	AOSamples          uint32
	RoughnessThreshold float32
	LightCount         uint32
	MaterialCount      uint32
}

func FeatureMask(f framegraph.Features, accumulate bool) uint32 {
	var mask uint32
	if f.Shadows {
		mask |= FeatureShadows
	}
	if f.AmbientOcclusion {
		mask |= FeatureAmbientOcclusion
	}
	if f.Reflections {
		mask |= FeatureReflections
	}
	if f.HalfResReflections {
		mask |= FeatureHalfResReflections
	}
	if accumulate {
		mask |= FeatureAccumulate
	}
	return mask
}

type uniformWriter struct {
	buf []byte
	off int
}

func (w *uniformWriter) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[w.off:], v)
	w.off += 4
}

func (w *uniformWriter) f32(v float32) { w.u32(m.Float32bits(v)) }

func (w *uniformWriter) mat4(mt math.Mat4) {
	for _, v := range mt.Data {
		w.f32(v)
	}
}

// Encode lays the record out as the shaders declare it: view, projection
// and their inverses, then four 16 byte rows of scalars.
func (u *FrameUniforms) Encode() []byte {
	w := &uniformWriter{buf: make([]byte, UniformSize)}
	w.mat4(u.View)
	w.mat4(u.Projection)
	w.mat4(u.View.Inverse())
	w.mat4(u.Projection.Inverse())

	w.f32(u.CameraPosition.X)
	w.f32(u.CameraPosition.Y)
	w.f32(u.CameraPosition.Z)
	w.u32(u.SampleIndex)

	w.u32(u.Width)
	w.u32(u.Height)
	w.u32(uint32(u.Frame))
	w.u32(u.Features)

	w.f32(u.AORadius)
	w.u32(u.ShadowSamples)
	w.u32(u.AOSamples)
	w.f32(u.RoughnessThreshold)

	w.u32(u.LightCount)
	w.u32(u.MaterialCount)
	return w.buf
}
