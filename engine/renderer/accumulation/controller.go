// Package accumulation keeps the progressive refinement counters the ray
// traced passes use to decorrelate their samples across frames.
package accumulation

import (
	"fmt"

	"github.com/spaghettifunk/hybridrt/engine/core"
)

// Controller holds one counter per frame slot. Slots render round-robin so
// each one accumulates on its own.
type Controller struct {
	counters    []uint32
	invalidated bool
	resets      int
}

func NewController(slotCount int) (*Controller, error) {
	if slotCount <= 0 {
		return nil, fmt.Errorf("func NewController - slot count must be > 0: %w", core.ErrInvalidConfig)
	}
	return &Controller{counters: make([]uint32, slotCount)}, nil
}

// Invalidate forces a reset at the next frame start, for changes the camera
// test cannot see: resizes, resolution toggles and pipeline reloads.
func (c *Controller) Invalidate() {
	c.invalidated = true
}

// OnFrameStart returns the sample index for the frame rendered into slot.
// A camera change, disabled accumulation or a pending invalidation resets
// every slot to zero; otherwise the slot's counter advances after use.
func (c *Controller) OnFrameStart(slot int, cameraChanged, enabled bool) uint32 {
	if cameraChanged || !enabled || c.invalidated {
		for i := range c.counters {
			c.counters[i] = 0
		}
		c.invalidated = false
		c.resets++
	}
	index := c.counters[slot]
	if enabled {
		c.counters[slot]++
	}
	return index
}

// Counter is the sample index the next frame in slot would get.
func (c *Controller) Counter(slot int) uint32 {
	return c.counters[slot]
}

func (c *Controller) Resets() int {
	return c.resets
}
