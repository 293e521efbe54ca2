package accel

import (
	"encoding/binary"
	m "math"

	"golang.org/x/image/math/f32"

	"github.com/spaghettifunk/hybridrt/engine/gpu"
)

// Instance is one top level entry: a bottom level structure placed in the
// world by a 3x4 row-major transform.
type Instance struct {
	Transform   f32.Aff4
	CustomIndex uint32
	Mask        uint8
	// Offset into the hit group region of the shader binding table.
	HitGroup uint32
	Flags    uint8
	BLAS     *Structure
}

const (
	InstanceFlagTriangleCullDisable uint8 = 0x1
	InstanceFlagForceOpaque         uint8 = 0x4
)

// EncodeInstances lays the instances out as consecutive 64 byte device
// instance records.
func EncodeInstances(instances []Instance) []byte {
	out := make([]byte, len(instances)*gpu.InstanceSize)
	for i, inst := range instances {
		rec := out[i*gpu.InstanceSize:]
		for j, v := range inst.Transform {
			binary.LittleEndian.PutUint32(rec[j*4:], m.Float32bits(v))
		}
		binary.LittleEndian.PutUint32(rec[48:], inst.CustomIndex&0xFFFFFF|uint32(inst.Mask)<<24)
		binary.LittleEndian.PutUint32(rec[52:], inst.HitGroup&0xFFFFFF|uint32(inst.Flags)<<24)
		var ref uint64
		if inst.BLAS != nil && inst.BLAS.handle != nil {
			ref = inst.BLAS.handle.Address()
		}
		binary.LittleEndian.PutUint64(rec[56:], ref)
	}
	return out
}
