package math

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint32(64), AlignUp(uint32(33), 32))
	assert.Equal(t, uint32(64), AlignUp(uint32(64), 32))
	assert.Equal(t, int64(7), AlignUp(int64(7), 0))
	assert.Equal(t, 9, MaxOf(3, 9, 1))
	assert.Equal(t, float32(1), Clamp(float32(3), 0, 1))
}

func TestAffineMatchesRowVectorTranslation(t *testing.T) {
	mt := NewMat4Translation(NewVec3(1, 2, 3))
	a := mt.Affine()
	assert.Equal(t, float32(1), a[3])
	assert.Equal(t, float32(2), a[7])
	assert.Equal(t, float32(3), a[11])
	assert.Equal(t, float32(1), a[0])
	assert.Equal(t, float32(1), a[5])
	assert.Equal(t, float32(1), a[10])
}

func TestTransformRotationAndInverse(t *testing.T) {
	tr := NewTransform(NewVec3(0, 0, 5))
	tr.Rotate(DegToRad(90))
	local := tr.Local()

	p := local.TransformPoint(NewVec3(1, 0, 0))
	assert.True(t, p.Compare(NewVec3(0, 0, 4), 1e-5), "got %v", p)

	back := local.Inverse().TransformPoint(p)
	assert.True(t, back.Compare(NewVec3(1, 0, 0), 1e-5), "got %v", back)
}
