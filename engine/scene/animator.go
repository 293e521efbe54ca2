package scene

import "time"

// Animator advances instance transforms between frames.
type Animator struct {
	scene  *Scene
	paused bool
}

func NewAnimator(s *Scene) *Animator {
	return &Animator{scene: s}
}

func (a *Animator) SetPaused(paused bool) {
	a.paused = paused
}

// Update spins every animated instance by dt and reports whether any world
// transform changed.
func (a *Animator) Update(dt time.Duration) bool {
	if a.paused || dt <= 0 {
		return false
	}
	moved := false
	for _, inst := range a.scene.Instances {
		if !inst.Animated() {
			continue
		}
		inst.Transform.Rotate(inst.Spin * float32(dt.Seconds()))
		moved = true
	}
	return moved
}
