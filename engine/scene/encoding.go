package scene

import (
	"encoding/binary"
	m "math"

	"github.com/spaghettifunk/hybridrt/engine/math"
)

// Record sizes of the storage buffers read by the shaders (std430).
const (
	MaterialRecordSize = 32
	LightRecordSize    = 48
)

func appendFloat(b []byte, f float32) []byte {
	return binary.LittleEndian.AppendUint32(b, m.Float32bits(f))
}

func appendVec3(b []byte, v math.Vec3) []byte {
	return appendFloat(appendFloat(appendFloat(b, v.X), v.Y), v.Z)
}

// EncodeVertices packs the vertex array in math.Vertex layout.
func (s *Scene) EncodeVertices() []byte {
	out := make([]byte, 0, len(s.Vertices)*math.VertexStride)
	for _, v := range s.Vertices {
		out = appendVec3(out, v.Position)
		out = appendVec3(out, v.Normal)
		out = appendFloat(appendFloat(out, v.Texcoord.X), v.Texcoord.Y)
	}
	return out
}

func (s *Scene) EncodeIndices() []byte {
	out := make([]byte, 0, len(s.Indices)*4)
	for _, i := range s.Indices {
		out = binary.LittleEndian.AppendUint32(out, i)
	}
	return out
}

func (s *Scene) EncodeMaterials() []byte {
	out := make([]byte, 0, len(s.Materials)*MaterialRecordSize)
	for _, mat := range s.Materials {
		out = appendVec3(out, mat.Albedo)
		out = appendFloat(out, mat.Roughness)
		out = appendVec3(out, mat.Emissive)
		out = appendFloat(out, mat.Metallic)
	}
	return out
}

func (s *Scene) EncodeLights() []byte {
	out := make([]byte, 0, len(s.Lights)*LightRecordSize)
	for _, l := range s.Lights {
		out = appendVec3(out, l.Vector)
		out = binary.LittleEndian.AppendUint32(out, uint32(l.Kind))
		out = appendVec3(out, l.Color)
		out = appendFloat(out, l.Intensity)
		out = appendFloat(out, l.Radius)
		out = append(out, make([]byte, 12)...)
	}
	return out
}
