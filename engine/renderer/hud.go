package renderer

import (
	"encoding/binary"
	m "math"

	"github.com/spaghettifunk/hybridrt/engine/core"
	"github.com/spaghettifunk/hybridrt/engine/gpu"
	"github.com/spaghettifunk/hybridrt/engine/math"
)

// HUD draws a frame time bar in the top left corner of the composite.
type HUD struct {
	metrics *core.Metrics
	// BudgetMS maps to a full-width bar.
	BudgetMS float64
	draws    int
}

func NewHUD(metrics *core.Metrics) *HUD {
	return &HUD{metrics: metrics, BudgetMS: 33.3}
}

func (h *HUD) Draws() int { return h.draws }

// Bar returns the bar rectangle in pixels: x, y, width, height.
func (h *HUD) Bar(extent gpu.Extent) [4]float32 {
	fill := float32(0)
	if h.metrics != nil && h.BudgetMS > 0 {
		fill = math.Clamp(float32(h.metrics.FrameTime()/h.BudgetMS), 0, 1)
	}
	maxWidth := float32(extent.Width) * 0.25
	return [4]float32{8, 8, maxWidth * fill, 6}
}

func (h *HUD) Draw(cs gpu.CommandStream, target gpu.Image, extent gpu.Extent) {
	bar := h.Bar(extent)
	if bar[2] == 0 {
		return
	}
	data := make([]byte, 24)
	for i, v := range bar {
		binary.LittleEndian.PutUint32(data[i*4:], m.Float32bits(v))
	}
	binary.LittleEndian.PutUint32(data[16:], extent.Width)
	binary.LittleEndian.PutUint32(data[20:], extent.Height)
	cs.PushConstants(data)
	cs.Draw(6, 1)
	h.draws++
}
