package math

import m "math"

const (
	K_PI                 float32 = 3.14159265358979323846
	K_DEG2RAD_MULTIPLIER float32 = K_PI / 180.0
	K_FLOAT_EPSILON      float32 = 1.192092896e-07
)

func NewVec3(x, y, z float32) Vec3 {
	return Vec3{X: x, Y: y, Z: z}
}

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z}
}

func (v Vec3) MulScalar(s float32) Vec3 {
	return Vec3{v.X * s, v.Y * s, v.Z * s}
}

func (v Vec3) Dot(o Vec3) float32 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		v.Y*o.Z - v.Z*o.Y,
		v.Z*o.X - v.X*o.Z,
		v.X*o.Y - v.Y*o.X,
	}
}

func (v Vec3) Length() float32 {
	return float32(m.Sqrt(float64(v.Dot(v))))
}

// Normalized returns v scaled to unit length; the zero vector is returned as is.
func (v Vec3) Normalized() Vec3 {
	l := v.Length()
	if l == 0 {
		return v
	}
	return v.MulScalar(1 / l)
}

// Compare reports whether every component differs by at most tolerance.
func (v Vec3) Compare(o Vec3, tolerance float32) bool {
	return Abs(v.X-o.X) <= tolerance &&
		Abs(v.Y-o.Y) <= tolerance &&
		Abs(v.Z-o.Z) <= tolerance
}

func DegToRad(degrees float32) float32 {
	return degrees * K_DEG2RAD_MULTIPLIER
}
