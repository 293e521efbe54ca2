package scene

import (
	m "math"

	"github.com/spaghettifunk/hybridrt/engine/math"
)

const poseTolerance float32 = 1e-5

// Camera looks from Position towards Target. Use the setters so the view
// matrix is recalculated when needed.
type Camera struct {
	Position math.Vec3
	Target   math.Vec3
	Up       math.Vec3
	// Vertical field of view in radians.
	FovY      float32
	NearClip  float32
	FarClip   float32
	isDirty   bool
	view      math.Mat4
	lastPose  Pose
	firstPose bool
}

// Pose is what accumulated samples depend on.
type Pose struct {
	Position math.Vec3
	Target   math.Vec3
	FovY     float32
}

func NewCamera() *Camera {
	c := &Camera{}
	c.Reset()
	return c
}

func (c *Camera) Reset() {
	c.Position = math.NewVec3(0, 2, 6)
	c.Target = math.Vec3{}
	c.Up = math.NewVec3(0, 1, 0)
	c.FovY = math.DegToRad(60)
	c.NearClip = 0.1
	c.FarClip = 1000
	c.isDirty = true
	c.firstPose = true
}

func (c *Camera) SetPosition(position math.Vec3) {
	c.Position = position
	c.isDirty = true
}

func (c *Camera) SetTarget(target math.Vec3) {
	c.Target = target
	c.isDirty = true
}

func (c *Camera) View() math.Mat4 {
	if c.isDirty {
		c.view = math.NewMat4LookAt(c.Position, c.Target, c.Up)
		c.isDirty = false
	}
	return c.view
}

func (c *Camera) Projection(aspectRatio float32) math.Mat4 {
	return math.NewMat4Perspective(c.FovY, aspectRatio, c.NearClip, c.FarClip)
}

// Orbit rotates the camera around its target by yaw radians.
func (c *Camera) Orbit(yaw float32) {
	offset := c.Position.Sub(c.Target)
	s, co := float32(m.Sin(float64(yaw))), float32(m.Cos(float64(yaw)))
	offset = math.NewVec3(offset.X*co+offset.Z*s, offset.Y, -offset.X*s+offset.Z*co)
	c.SetPosition(c.Target.Add(offset))
}

func (c *Camera) Pose() Pose {
	return Pose{Position: c.Position, Target: c.Target, FovY: c.FovY}
}

// Changed reports whether the pose moved away from the pose recorded at the
// last reported change. The first call always reports a change.
func (c *Camera) Changed() bool {
	p := c.Pose()
	changed := c.firstPose ||
		!p.Position.Compare(c.lastPose.Position, poseTolerance) ||
		!p.Target.Compare(c.lastPose.Target, poseTolerance) ||
		math.Abs(p.FovY-c.lastPose.FovY) > poseTolerance
	if changed {
		c.lastPose = p
		c.firstPose = false
	}
	return changed
}
