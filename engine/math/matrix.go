package math

import (
	m "math"

	"golang.org/x/image/math/f32"
)

func NewMat4Identity() Mat4 {
	out := Mat4{}
	out.Data[0] = 1
	out.Data[5] = 1
	out.Data[10] = 1
	out.Data[15] = 1
	return out
}

func (mt Mat4) Mul(other Mat4) Mat4 {
	out := Mat4{}
	for row := 0; row < 4; row++ {
		for col := 0; col < 4; col++ {
			var sum float32
			for i := 0; i < 4; i++ {
				sum += mt.Data[row*4+i] * other.Data[i*4+col]
			}
			out.Data[row*4+col] = sum
		}
	}
	return out
}

func NewMat4Perspective(fovRadians, aspectRatio, nearClip, farClip float32) Mat4 {
	halfTanFov := float32(m.Tan(float64(fovRadians) * 0.5))
	out := Mat4{}
	out.Data[0] = 1 / (aspectRatio * halfTanFov)
	out.Data[5] = 1 / halfTanFov
	out.Data[10] = -((farClip + nearClip) / (farClip - nearClip))
	out.Data[11] = -1
	out.Data[14] = -((2 * farClip * nearClip) / (farClip - nearClip))
	return out
}

func NewMat4LookAt(position, target, up Vec3) Mat4 {
	z := target.Sub(position).Normalized()
	x := z.Cross(up).Normalized()
	y := x.Cross(z)

	out := NewMat4Identity()
	out.Data[0], out.Data[1], out.Data[2] = x.X, y.X, -z.X
	out.Data[4], out.Data[5], out.Data[6] = x.Y, y.Y, -z.Y
	out.Data[8], out.Data[9], out.Data[10] = x.Z, y.Z, -z.Z
	out.Data[12] = -x.Dot(position)
	out.Data[13] = -y.Dot(position)
	out.Data[14] = z.Dot(position)
	return out
}

func NewMat4Translation(position Vec3) Mat4 {
	out := NewMat4Identity()
	out.Data[12] = position.X
	out.Data[13] = position.Y
	out.Data[14] = position.Z
	return out
}

func NewMat4Scale(scale Vec3) Mat4 {
	out := NewMat4Identity()
	out.Data[0] = scale.X
	out.Data[5] = scale.Y
	out.Data[10] = scale.Z
	return out
}

func NewMat4EulerY(angleRadians float32) Mat4 {
	out := NewMat4Identity()
	c := float32(m.Cos(float64(angleRadians)))
	s := float32(m.Sin(float64(angleRadians)))
	out.Data[0] = c
	out.Data[2] = -s
	out.Data[8] = s
	out.Data[10] = c
	return out
}

// Inverse uses the cofactor expansion; singular matrices produce Inf/NaN.
func (mt Mat4) Inverse() Mat4 {
	a := mt.Data
	var inv [16]float32

	inv[0] = a[5]*a[10]*a[15] - a[5]*a[11]*a[14] - a[9]*a[6]*a[15] + a[9]*a[7]*a[14] + a[13]*a[6]*a[11] - a[13]*a[7]*a[10]
	inv[4] = -a[4]*a[10]*a[15] + a[4]*a[11]*a[14] + a[8]*a[6]*a[15] - a[8]*a[7]*a[14] - a[12]*a[6]*a[11] + a[12]*a[7]*a[10]
	inv[8] = a[4]*a[9]*a[15] - a[4]*a[11]*a[13] - a[8]*a[5]*a[15] + a[8]*a[7]*a[13] + a[12]*a[5]*a[11] - a[12]*a[7]*a[9]
	inv[12] = -a[4]*a[9]*a[14] + a[4]*a[10]*a[13] + a[8]*a[5]*a[14] - a[8]*a[6]*a[13] - a[12]*a[5]*a[10] + a[12]*a[6]*a[9]
	inv[1] = -a[1]*a[10]*a[15] + a[1]*a[11]*a[14] + a[9]*a[2]*a[15] - a[9]*a[3]*a[14] - a[13]*a[2]*a[11] + a[13]*a[3]*a[10]
	inv[5] = a[0]*a[10]*a[15] - a[0]*a[11]*a[14] - a[8]*a[2]*a[15] + a[8]*a[3]*a[14] + a[12]*a[2]*a[11] - a[12]*a[3]*a[10]
	inv[9] = -a[0]*a[9]*a[15] + a[0]*a[11]*a[13] + a[8]*a[1]*a[15] - a[8]*a[3]*a[13] - a[12]*a[1]*a[11] + a[12]*a[3]*a[9]
	inv[13] = a[0]*a[9]*a[14] - a[0]*a[10]*a[13] - a[8]*a[1]*a[14] + a[8]*a[2]*a[13] + a[12]*a[1]*a[10] - a[12]*a[2]*a[9]
	inv[2] = a[1]*a[6]*a[15] - a[1]*a[7]*a[14] - a[5]*a[2]*a[15] + a[5]*a[3]*a[14] + a[13]*a[2]*a[7] - a[13]*a[3]*a[6]
	inv[6] = -a[0]*a[6]*a[15] + a[0]*a[7]*a[14] + a[4]*a[2]*a[15] - a[4]*a[3]*a[14] - a[12]*a[2]*a[7] + a[12]*a[3]*a[6]
	inv[10] = a[0]*a[5]*a[15] - a[0]*a[7]*a[13] - a[4]*a[1]*a[15] + a[4]*a[3]*a[13] + a[12]*a[1]*a[7] - a[12]*a[3]*a[5]
	inv[14] = -a[0]*a[5]*a[14] + a[0]*a[6]*a[13] + a[4]*a[1]*a[14] - a[4]*a[2]*a[13] - a[12]*a[1]*a[6] + a[12]*a[2]*a[5]
	inv[3] = -a[1]*a[6]*a[11] + a[1]*a[7]*a[10] + a[5]*a[2]*a[11] - a[5]*a[3]*a[10] - a[9]*a[2]*a[7] + a[9]*a[3]*a[6]
	inv[7] = a[0]*a[6]*a[11] - a[0]*a[7]*a[10] - a[4]*a[2]*a[11] + a[4]*a[3]*a[10] + a[8]*a[2]*a[7] - a[8]*a[3]*a[6]
	inv[11] = -a[0]*a[5]*a[11] + a[0]*a[7]*a[9] + a[4]*a[1]*a[11] - a[4]*a[3]*a[9] - a[8]*a[1]*a[7] + a[8]*a[3]*a[5]
	inv[15] = a[0]*a[5]*a[10] - a[0]*a[6]*a[9] - a[4]*a[1]*a[10] + a[4]*a[2]*a[9] + a[8]*a[1]*a[6] - a[8]*a[2]*a[5]

	det := a[0]*inv[0] + a[1]*inv[4] + a[2]*inv[8] + a[3]*inv[12]
	out := Mat4{}
	for i := range inv {
		out.Data[i] = inv[i] / det
	}
	return out
}

// Affine returns the 3x4 row-major matrix acting on column vectors, the
// layout ray tracing instance records expect.
func (mt Mat4) Affine() f32.Aff4 {
	var a f32.Aff4
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			a[row*4+col] = mt.Data[col*4+row]
		}
	}
	return a
}

// TransformPoint applies the matrix to the point (x, y, z, 1).
func (mt Mat4) TransformPoint(p Vec3) Vec3 {
	d := mt.Data
	return Vec3{
		p.X*d[0] + p.Y*d[4] + p.Z*d[8] + d[12],
		p.X*d[1] + p.Y*d[5] + p.Z*d[9] + d[13],
		p.X*d[2] + p.Y*d[6] + p.Z*d[10] + d[14],
	}
}
