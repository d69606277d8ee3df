package recognizer

import (
	"errors"
	"fmt"
)

// ScoreMatrix is a per-timestep symbol score matrix for a single crop.
// Data is row-major [T, N].
type ScoreMatrix struct {
	T    int
	N    int
	Data []float32
}

// NewScoreMatrix validates the data length against the given dimensions.
func NewScoreMatrix(data []float32, t, n int) (ScoreMatrix, error) {
	if t <= 0 || n <= 0 {
		return ScoreMatrix{}, fmt.Errorf("invalid score matrix dimensions: %dx%d", t, n)
	}
	if len(data) != t*n {
		return ScoreMatrix{}, fmt.Errorf("unexpected data length: got %d, want %d", len(data), t*n)
	}
	return ScoreMatrix{T: t, N: n, Data: data}, nil
}

// Step returns the scores of timestep t.
func (m ScoreMatrix) Step(t int) []float32 {
	return m.Data[t*m.N : (t+1)*m.N]
}

// Tensor3 holds recognizer output in the sequence-major [T, B, N] layout.
type Tensor3 struct {
	T, B, N int
	Data    []float32
}

// TensorFromShape builds a Tensor3 from a model output shape. Shapes of rank 3
// are accepted as-is; trailing singleton dimensions are dropped first.
func TensorFromShape(data []float32, shape []int64) (Tensor3, error) {
	dims := append([]int64(nil), shape...)
	for len(dims) > 3 && dims[len(dims)-1] == 1 {
		dims = dims[:len(dims)-1]
	}
	if len(dims) != 3 {
		return Tensor3{}, fmt.Errorf("expected rank 3 output, got shape %v", shape)
	}
	t, b, n := int(dims[0]), int(dims[1]), int(dims[2])
	if t <= 0 || b <= 0 || n <= 0 {
		return Tensor3{}, fmt.Errorf("invalid output shape %v", shape)
	}
	if len(data) != t*b*n {
		return Tensor3{}, fmt.Errorf("output length %d does not match shape %v", len(data), shape)
	}
	return Tensor3{T: t, B: b, N: n, Data: data}, nil
}

// Split returns one [T, N] matrix per batch element.
func (x Tensor3) Split() ([]ScoreMatrix, error) {
	if len(x.Data) != x.T*x.B*x.N {
		return nil, errors.New("tensor data does not match its dimensions")
	}
	out := make([]ScoreMatrix, x.B)
	for b := range x.B {
		buf := make([]float32, x.T*x.N)
		for t := range x.T {
			src := (t*x.B + b) * x.N
			copy(buf[t*x.N:(t+1)*x.N], x.Data[src:src+x.N])
		}
		out[b] = ScoreMatrix{T: x.T, N: x.N, Data: buf}
	}
	return out, nil
}
