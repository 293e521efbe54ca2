package math

// Vec2 represents a 2D vector
type Vec2 struct {
	X, Y float32
}

// Vec3 represents a 3D vector
type Vec3 struct {
	X, Y, Z float32
}

// Vec4 represents a 4D vector
type Vec4 struct {
	X, Y, Z, W float32
}

// Mat4 is a 4x4 matrix stored row by row and applied to row vectors, so the
// translation lives in Data[12..14].
type Mat4 struct {
	Data [16]float32
}

// Vertex is the layout shared by the rasterizer and the bottom-level
// acceleration structure builds (position first, 32 bytes).
type Vertex struct {
	Position Vec3
	Normal   Vec3
	Texcoord Vec2
}

const VertexStride = 32
