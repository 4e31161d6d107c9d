package model

import (
	"math/rand"

	"github.com/sunilsivadas/neural-sp/internal/blas"
)

// linearLayer is an affine transform y = x*W^T + b over flat row-major
// sequences.
type linearLayer struct {
	W      []float64 // [OutDim x InDim]
	B      []float64 // [OutDim]
	InDim  int
	OutDim int
}

func newLinearLayer(inDim, outDim int, initScale float64, rng *rand.Rand) *linearLayer {
	l := &linearLayer{
		W:      make([]float64, outDim*inDim),
		B:      make([]float64, outDim),
		InDim:  inDim,
		OutDim: outDim,
	}
	uniformInit(l.W, initScale, rng)
	return l
}

// uniformInit fills w uniformly from [-scale, scale].
func uniformInit(w []float64, scale float64, rng *rand.Rand) {
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * scale
	}
}

// forward computes y[T x OutDim] = x[T x InDim] * W^T + B.
func (l *linearLayer) forward(x []float64, T int, y []float64) {
	blas.Dgemm(false, true, T, l.OutDim, l.InDim,
		1.0, x, l.InDim, l.W, l.InDim, 0.0, y, l.OutDim)
	for t := 0; t < T; t++ {
		row := y[t*l.OutDim : (t+1)*l.OutDim]
		for j, b := range l.B {
			row[j] += b
		}
	}
}

// backward accumulates gW += dy^T @ x and gB += colsum(dy), and returns
// dx = dy @ W when propagate is true.
func (l *linearLayer) backward(x []float64, T int, dy []float64, gW, gB []float64, propagate bool) []float64 {
	blas.Dgemm(true, false, l.OutDim, l.InDim, T,
		1.0, dy, l.OutDim, x, l.InDim, 1.0, gW, l.InDim)
	for t := 0; t < T; t++ {
		row := dy[t*l.OutDim : (t+1)*l.OutDim]
		for j, v := range row {
			gB[j] += v
		}
	}
	if !propagate {
		return nil
	}
	dx := make([]float64, T*l.InDim)
	blas.Dgemm(false, false, T, l.InDim, l.OutDim,
		1.0, dy, l.OutDim, l.W, l.InDim, 0.0, dx, l.InDim)
	return dx
}
