package math

import "golang.org/x/exp/constraints"

// Clamp returns the value `f` clamped to the range [low, high].
// It works for any numeric type (integers and floats).
func Clamp[T constraints.Ordered](f, low, high T) T {
	if f < low {
		return low
	}
	if f > high {
		return high
	}
	return f
}

func Abs[T constraints.Signed | constraints.Float](v T) T {
	if v < 0 {
		return -v
	}
	return v
}

// AlignUp rounds v up to the next multiple of alignment. An alignment of zero
// leaves v untouched.
func AlignUp[T constraints.Integer](v, alignment T) T {
	if alignment == 0 {
		return v
	}
	return (v + alignment - 1) / alignment * alignment
}

func MaxOf[T constraints.Ordered](values ...T) T {
	var out T
	for i, v := range values {
		if i == 0 || v > out {
			out = v
		}
	}
	return out
}
