package containers

// Handle identifies a live arena slot. The zero Handle is never issued.
type Handle uint64

const InvalidHandle Handle = 0

func makeHandle(index, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

func (h Handle) index() uint32 {
	return uint32(h)
}

func (h Handle) generation() uint32 {
	return uint32(h >> 32)
}

type arenaSlot[T any] struct {
	value      T
	generation uint32
	live       bool
}

// Arena stores values behind stable handles. Replacing a slot's contents with
// Set keeps every outstanding handle valid; Remove bumps the slot generation so
// stale handles stop resolving.
type Arena[T any] struct {
	slots []arenaSlot[T]
	free  []uint32
	live  int
}

func NewArena[T any]() *Arena[T] {
	return &Arena[T]{}
}

func (a *Arena[T]) Insert(value T) Handle {
	var index uint32
	if n := len(a.free); n > 0 {
		index = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, arenaSlot[T]{generation: 1})
		index = uint32(len(a.slots) - 1)
	}
	s := &a.slots[index]
	s.value = value
	s.live = true
	a.live++
	return makeHandle(index, s.generation)
}

func (a *Arena[T]) slot(h Handle) *arenaSlot[T] {
	i := h.index()
	if h == InvalidHandle || int(i) >= len(a.slots) {
		return nil
	}
	s := &a.slots[i]
	if !s.live || s.generation != h.generation() {
		return nil
	}
	return s
}

func (a *Arena[T]) Get(h Handle) (T, bool) {
	if s := a.slot(h); s != nil {
		return s.value, true
	}
	var zero T
	return zero, false
}

// Set swaps the contents of a live slot and returns the previous value.
func (a *Arena[T]) Set(h Handle, value T) (T, bool) {
	s := a.slot(h)
	if s == nil {
		var zero T
		return zero, false
	}
	prev := s.value
	s.value = value
	return prev, true
}

func (a *Arena[T]) Remove(h Handle) (T, bool) {
	s := a.slot(h)
	var zero T
	if s == nil {
		return zero, false
	}
	prev := s.value
	s.value = zero
	s.live = false
	s.generation++
	a.free = append(a.free, h.index())
	a.live--
	return prev, true
}

func (a *Arena[T]) Len() int {
	return a.live
}

// Each visits live slots in insertion index order.
func (a *Arena[T]) Each(fn func(h Handle, value T)) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.live {
			fn(makeHandle(uint32(i), s.generation), s.value)
		}
	}
}
