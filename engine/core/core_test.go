package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusStopsAtFirstHandler(t *testing.T) {
	bus := NewEventBus()
	var calls []string

	first, second := "first", "second"
	require.True(t, bus.Register(EVENT_CODE_RESIZED, first, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		calls = append(calls, listener.(string))
		return data.U32[0] == 0
	}))
	require.True(t, bus.Register(EVENT_CODE_RESIZED, second, func(code SystemEventCode, sender, listener interface{}, data EventContext) bool {
		calls = append(calls, listener.(string))
		return true
	}))
	assert.False(t, bus.Register(EVENT_CODE_RESIZED, first, nil))

	assert.True(t, bus.Fire(EVENT_CODE_RESIZED, nil, EventContext{U32: [4]uint32{1280, 720}}))
	assert.Equal(t, []string{"first", "second"}, calls)

	calls = nil
	assert.True(t, bus.Fire(EVENT_CODE_RESIZED, nil, EventContext{}))
	assert.Equal(t, []string{"first"}, calls)

	assert.True(t, bus.Unregister(EVENT_CODE_RESIZED, first))
	assert.False(t, bus.Unregister(EVENT_CODE_RESIZED, first))
	assert.False(t, bus.Fire(EVENT_CODE_APPLICATION_QUIT, nil, EventContext{}))
}

func TestErrorClasses(t *testing.T) {
	wrapped := fmt.Errorf("allocating shadow image: %w", ErrAllocationFailed)
	assert.True(t, IsFatal(wrapped))
	assert.True(t, IsFatal(ErrRayTracingUnsupported))
	assert.False(t, IsFatal(ErrPipelineCreation))

	assert.True(t, IsPresentationTransient(fmt.Errorf("present: %w", ErrSwapchainSuboptimal)))
	assert.False(t, IsPresentationTransient(errors.New("device lost")))
}

func TestMetricsSummary(t *testing.T) {
	m := NewMetrics()
	for i := 0; i < int(AVG_COUNT); i++ {
		m.Update(10 * time.Millisecond)
	}
	m.Update(40 * time.Millisecond)

	s := m.Summary()
	assert.Equal(t, uint64(31), s.Frames)
	assert.InDelta(t, 10.0, s.MinMS, 1e-9)
	assert.InDelta(t, 40.0, s.MaxMS, 1e-9)
	assert.InDelta(t, 10.0, m.FrameTime(), 1e-9)
	assert.InDelta(t, 340.0/31.0, s.MeanMS, 1e-9)
}

func TestSetLogLevel(t *testing.T) {
	assert.NoError(t, SetLogLevel("debug"))
	assert.Error(t, SetLogLevel("chatty"))
	assert.NoError(t, SetLogLevel("info"))
}
