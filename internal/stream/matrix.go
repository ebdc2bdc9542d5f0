package stream

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Row wraps a copy of v as a 1xN matrix.
func Row(v []float64) *mat.Dense {
	data := make([]float64, len(v))
	copy(data, v)
	return mat.NewDense(1, len(data), data)
}

// FromFrames stacks equally sized vectors into a matrix, one row per vector.
func FromFrames(frames [][]float64) (*mat.Dense, error) {
	if len(frames) == 0 || len(frames[0]) == 0 {
		return nil, fmt.Errorf("%w: empty block", ErrFrame)
	}
	cols := len(frames[0])
	data := make([]float64, 0, len(frames)*cols)
	for i, f := range frames {
		if len(f) != cols {
			return nil, fmt.Errorf("%w: frame %d has %d dimensions, want %d", ErrFrame, i, len(f), cols)
		}
		data = append(data, f...)
	}
	return mat.NewDense(len(frames), cols, data), nil
}

// Rows returns a copy of each row of m.
func Rows(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = make([]float64, c)
		for j := range out[i] {
			out[i][j] = m.At(i, j)
		}
	}
	return out
}
