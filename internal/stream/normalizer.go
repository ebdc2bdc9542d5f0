package stream

import (
	"gonum.org/v1/gonum/floats"
)

// Normalizer is a transform applied to every sample vector before dispatch.
// The only implementations are Elementwise and Vectorwise, so a source holds
// at most one of them at a time.
type Normalizer interface {
	apply(v []float64) []float64
	isNil() bool
}

// Elementwise is applied independently to each dimension of a vector.
type Elementwise func(float64) float64

func (f Elementwise) apply(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = f(x)
	}
	return out
}

func (f Elementwise) isNil() bool { return f == nil }

// Vectorwise is applied to the whole vector and may change its length.
type Vectorwise func([]float64) []float64

func (f Vectorwise) apply(v []float64) []float64 {
	in := make([]float64, len(v))
	copy(in, v)
	return f(in)
}

func (f Vectorwise) isNil() bool { return f == nil }

// Scale multiplies every dimension by k.
func Scale(k float64) Elementwise {
	return func(x float64) float64 { return x * k }
}

// MinMax maps [lo, hi] onto [0, 1], clamping values outside the range.
func MinMax(lo, hi float64) Elementwise {
	span := hi - lo
	return func(x float64) float64 {
		if span == 0 {
			return 0
		}
		y := (x - lo) / span
		switch {
		case y < 0:
			return 0
		case y > 1:
			return 1
		}
		return y
	}
}

// UnitNorm rescales each vector to unit Euclidean length. The zero vector is
// passed through unchanged.
func UnitNorm() Vectorwise {
	return func(v []float64) []float64 {
		n := floats.Norm(v, 2)
		if n == 0 {
			return v
		}
		floats.Scale(1/n, v)
		return v
	}
}
