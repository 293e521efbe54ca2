package math

// Transform caches its local matrix until position, rotation or scale change.
type Transform struct {
	Position Vec3
	// Rotation around the Y axis, in radians.
	Yaw   float32
	Scale Vec3

	isDirty bool
	local   Mat4
}

func NewTransform(position Vec3) *Transform {
	return &Transform{
		Position: position,
		Scale:    Vec3{1, 1, 1},
		isDirty:  true,
	}
}

func (t *Transform) SetPosition(position Vec3) {
	t.Position = position
	t.isDirty = true
}

func (t *Transform) Rotate(yawRadians float32) {
	t.Yaw += yawRadians
	t.isDirty = true
}

func (t *Transform) SetScale(scale Vec3) {
	t.Scale = scale
	t.isDirty = true
}

// Local composes scale, then rotation, then translation.
func (t *Transform) Local() Mat4 {
	if t == nil {
		return NewMat4Identity()
	}
	if t.isDirty {
		t.local = NewMat4Scale(t.Scale).Mul(NewMat4EulerY(t.Yaw)).Mul(NewMat4Translation(t.Position))
		t.isDirty = false
	}
	return t.local
}
