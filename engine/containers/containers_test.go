package containers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingQueue(t *testing.T) {
	q := NewRingQueue[int](2)
	assert.True(t, q.IsEmpty())

	require.NoError(t, q.Enqueue(1))
	require.NoError(t, q.Enqueue(2))
	assert.ErrorIs(t, q.Enqueue(3), ErrQueueFull)

	v, err := q.Peek()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	require.NoError(t, q.Enqueue(3))

	v, _ = q.Dequeue()
	assert.Equal(t, 2, v)
	v, _ = q.Dequeue()
	assert.Equal(t, 3, v)

	_, err = q.Dequeue()
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestArenaHandlesStayStableAcrossSet(t *testing.T) {
	a := NewArena[string]()
	h1 := a.Insert("gbuffer")
	h2 := a.Insert("shadow")
	assert.NotEqual(t, InvalidHandle, h1)
	assert.Equal(t, 2, a.Len())

	prev, ok := a.Set(h1, "gbuffer-resized")
	require.True(t, ok)
	assert.Equal(t, "gbuffer", prev)

	v, ok := a.Get(h1)
	require.True(t, ok)
	assert.Equal(t, "gbuffer-resized", v)

	_, ok = a.Remove(h2)
	require.True(t, ok)
	_, ok = a.Get(h2)
	assert.False(t, ok, "removed handle must not resolve")

	h3 := a.Insert("ao")
	assert.NotEqual(t, h2, h3, "reused slot gets a new generation")
	_, ok = a.Get(h2)
	assert.False(t, ok)

	var seen []string
	a.Each(func(h Handle, v string) { seen = append(seen, v) })
	assert.Equal(t, []string{"gbuffer-resized", "ao"}, seen)
}
