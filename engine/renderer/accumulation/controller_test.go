package accumulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(c *Controller, slot int, cameraChanged []bool) []uint32 {
	out := make([]uint32, len(cameraChanged))
	for i, changed := range cameraChanged {
		out[i] = c.OnFrameStart(slot, changed, true)
	}
	return out
}

func TestStaticCameraAccumulates(t *testing.T) {
	c, err := NewController(2)
	require.NoError(t, err)
	got := run(c, 0, []bool{false, false, false, false, false})
	assert.Equal(t, []uint32{0, 1, 2, 3, 4}, got)
}

func TestCameraMoveResets(t *testing.T) {
	c, err := NewController(2)
	require.NoError(t, err)
	got := run(c, 0, []bool{false, false, false, true, false})
	assert.Equal(t, []uint32{0, 1, 2, 0, 1}, got)
}

func TestSlotsAccumulateIndependently(t *testing.T) {
	c, err := NewController(3)
	require.NoError(t, err)
	var got []uint32
	for frame := 0; frame < 6; frame++ {
		got = append(got, c.OnFrameStart(frame%3, false, true))
	}
	assert.Equal(t, []uint32{0, 0, 0, 1, 1, 1}, got)

	// a camera change on one slot clears the others too
	assert.Equal(t, uint32(0), c.OnFrameStart(0, true, true))
	assert.Equal(t, uint32(0), c.Counter(1))
	assert.Equal(t, uint32(0), c.Counter(2))
}

func TestDisabledAccumulationStaysAtZero(t *testing.T) {
	c, err := NewController(2)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		assert.Equal(t, uint32(0), c.OnFrameStart(0, false, false))
	}
	assert.Equal(t, uint32(0), c.OnFrameStart(0, false, true))
	assert.Equal(t, uint32(1), c.OnFrameStart(0, false, true))
}

func TestInvalidateResetsOnce(t *testing.T) {
	c, err := NewController(2)
	require.NoError(t, err)
	run(c, 1, []bool{false, false, false})
	c.Invalidate()
	assert.Equal(t, []uint32{0, 1}, run(c, 1, []bool{false, false}))
	assert.Equal(t, 1, c.Resets())
}

func TestInvalidSlotCount(t *testing.T) {
	_, err := NewController(0)
	assert.Error(t, err)
}
