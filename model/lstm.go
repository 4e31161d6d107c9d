package model

import (
	"math"
	"math/rand"

	"github.com/sunilsivadas/neural-sp/internal/blas"
)

// lstmDir is one direction of a recurrent layer with fused gate
// weights. Gate rows are ordered input, forget, cell, output along the
// 4H axis.
type lstmDir struct {
	Wx    []float64 // [4H x InDim]
	Wh    []float64 // [4H x H]
	B     []float64 // [4H]
	InDim int
	H     int
}

func newLSTMDir(inDim, h int, initScale float64, rng *rand.Rand) *lstmDir {
	d := &lstmDir{
		Wx:    make([]float64, 4*h*inDim),
		Wh:    make([]float64, 4*h*h),
		B:     make([]float64, 4*h),
		InDim: inDim,
		H:     h,
	}
	uniformInit(d.Wx, initScale, rng)
	uniformInit(d.Wh, initScale, rng)
	// Forget gate bias starts at one so early updates keep the cell
	// state alive.
	for j := h; j < 2*h; j++ {
		d.B[j] = 1.0
	}
	return d
}

// lstmCache keeps the activations one direction needs for
// backpropagation through time.
type lstmCache struct {
	x     []float64 // layer input [T x InDim]
	gates []float64 // post-activation gates [T x 4H]
	c     []float64 // cell states [T x H]
	tanhC []float64 // [T x H]
	h     []float64 // step outputs [T x H]
	T     int
}

// forward runs the direction over a whole utterance. The input
// contribution for every step is a single matrix product, only the
// recurrent term walks the sequence.
func (d *lstmDir) forward(x []float64, T int) *lstmCache {
	H := d.H
	cc := &lstmCache{
		x:     x,
		gates: make([]float64, T*4*H),
		c:     make([]float64, T*H),
		tanhC: make([]float64, T*H),
		h:     make([]float64, T*H),
		T:     T,
	}
	blas.Dgemm(false, true, T, 4*H, d.InDim,
		1.0, x, d.InDim, d.Wx, d.InDim, 0.0, cc.gates, 4*H)

	for t := 0; t < T; t++ {
		pre := cc.gates[t*4*H : (t+1)*4*H]
		for j, b := range d.B {
			pre[j] += b
		}
		var cPrev []float64
		if t > 0 {
			hPrev := cc.h[(t-1)*H : t*H]
			blas.Dgemm(false, true, 1, 4*H, H,
				1.0, hPrev, H, d.Wh, H, 1.0, pre, 4*H)
			cPrev = cc.c[(t-1)*H : t*H]
		}
		ct := cc.c[t*H : (t+1)*H]
		tc := cc.tanhC[t*H : (t+1)*H]
		ht := cc.h[t*H : (t+1)*H]
		for j := 0; j < H; j++ {
			ig := sigmoid(pre[j])
			fg := sigmoid(pre[H+j])
			gg := math.Tanh(pre[2*H+j])
			og := sigmoid(pre[3*H+j])
			pre[j], pre[H+j], pre[2*H+j], pre[3*H+j] = ig, fg, gg, og
			c := ig * gg
			if cPrev != nil {
				c += fg * cPrev[j]
			}
			ct[j] = c
			tc[j] = math.Tanh(c)
			ht[j] = og * tc[j]
		}
	}
	return cc
}

// backward propagates dh, the gradient on every step output, through
// the recurrence and accumulates into the weight gradients. The
// gradient on the layer input is returned when propagate is set.
func (d *lstmDir) backward(cc *lstmCache, dh []float64, gWx, gWh, gB []float64, propagate bool) []float64 {
	H := d.H
	T := cc.T
	dPre := make([]float64, T*4*H)
	dcNext := make([]float64, H)
	dhStep := make([]float64, H)
	dhRec := make([]float64, H)

	for t := T - 1; t >= 0; t-- {
		copy(dhStep, dh[t*H:(t+1)*H])
		if t < T-1 {
			addSlice(dhStep, dhRec)
		}
		gates := cc.gates[t*4*H : (t+1)*4*H]
		tc := cc.tanhC[t*H : (t+1)*H]
		dp := dPre[t*4*H : (t+1)*4*H]
		var cPrev []float64
		if t > 0 {
			cPrev = cc.c[(t-1)*H : t*H]
		}
		for j := 0; j < H; j++ {
			ig := gates[j]
			fg := gates[H+j]
			gg := gates[2*H+j]
			og := gates[3*H+j]
			do := dhStep[j] * tc[j]
			dc := dhStep[j]*og*(1-tc[j]*tc[j]) + dcNext[j]
			df := 0.0
			if cPrev != nil {
				df = dc * cPrev[j]
			}
			dcNext[j] = dc * fg
			dp[j] = dc * gg * ig * (1 - ig)
			dp[H+j] = df * fg * (1 - fg)
			dp[2*H+j] = dc * ig * (1 - gg*gg)
			dp[3*H+j] = do * og * (1 - og)
		}
		if t > 0 {
			blas.Dgemm(false, false, 1, H, 4*H,
				1.0, dp, 4*H, d.Wh, H, 0.0, dhRec, H)
		}
	}

	// Weight gradients batched over all steps.
	blas.Dgemm(true, false, 4*H, d.InDim, T,
		1.0, dPre, 4*H, cc.x, d.InDim, 1.0, gWx, d.InDim)
	hPrev := make([]float64, T*H)
	copy(hPrev[H:], cc.h[:(T-1)*H])
	blas.Dgemm(true, false, 4*H, H, T,
		1.0, dPre, 4*H, hPrev, H, 1.0, gWh, H)
	for t := 0; t < T; t++ {
		row := dPre[t*4*H : (t+1)*4*H]
		for j, v := range row {
			gB[j] += v
		}
	}
	if !propagate {
		return nil
	}
	dx := make([]float64, T*d.InDim)
	blas.Dgemm(false, false, T, d.InDim, 4*H,
		1.0, dPre, 4*H, d.Wx, d.InDim, 0.0, dx, d.InDim)
	return dx
}

// encLayer is one recurrent layer of the encoder, with an optional
// backward direction and an optional tanh projection after the
// direction outputs are concatenated.
type encLayer struct {
	fwd  *lstmDir
	bwd  *lstmDir     // nil when unidirectional
	proj *linearLayer // nil without num_proj
}

func (l *encLayer) outDim() int {
	if l.proj != nil {
		return l.proj.OutDim
	}
	if l.bwd != nil {
		return 2 * l.fwd.H
	}
	return l.fwd.H
}

type encLayerCache struct {
	fwdCC   *lstmCache
	bwdCC   *lstmCache // runs over the time-reversed input
	concat  []float64  // [T x dirDim], input to the projection
	projOut []float64  // [T x P] after tanh
	mask    []float64  // hidden dropout mask, nil outside training
	out     []float64  // layer output fed upward
	T       int
}

// forward runs the layer over one utterance. A nil rng selects
// evaluation mode with dropout disabled.
func (l *encLayer) forward(x []float64, T int, dropout float64, rng *rand.Rand) *encLayerCache {
	cc := &encLayerCache{T: T}
	H := l.fwd.H
	cc.fwdCC = l.fwd.forward(x, T)
	if l.bwd != nil {
		xr := make([]float64, len(x))
		reverseRows(xr, x, T, l.fwd.InDim)
		cc.bwdCC = l.bwd.forward(xr, T)
		cc.concat = make([]float64, T*2*H)
		for t := 0; t < T; t++ {
			row := cc.concat[t*2*H : (t+1)*2*H]
			copy(row[:H], cc.fwdCC.h[t*H:(t+1)*H])
			copy(row[H:], cc.bwdCC.h[(T-1-t)*H:(T-t)*H])
		}
	} else {
		cc.concat = cc.fwdCC.h
	}

	out := cc.concat
	if l.proj != nil {
		cc.projOut = make([]float64, T*l.proj.OutDim)
		l.proj.forward(cc.concat, T, cc.projOut)
		for i, v := range cc.projOut {
			cc.projOut[i] = math.Tanh(v)
		}
		out = cc.projOut
	}
	if rng != nil && dropout > 0 {
		cc.mask = dropoutMask(len(out), dropout, rng)
		dropped := make([]float64, len(out))
		for i, v := range out {
			dropped[i] = v * cc.mask[i]
		}
		out = dropped
	}
	cc.out = out
	return cc
}

// backward consumes dOut, the gradient on the layer output, and
// returns the gradient on the layer input when propagate is set.
// dOut is scratched in place.
func (l *encLayer) backward(cc *encLayerCache, dOut []float64, g *encLayerGrads, propagate bool) []float64 {
	T := cc.T
	H := l.fwd.H
	if cc.mask != nil {
		for i := range dOut {
			dOut[i] *= cc.mask[i]
		}
	}
	dConcat := dOut
	if l.proj != nil {
		for i, v := range cc.projOut {
			dOut[i] *= 1 - v*v
		}
		dConcat = l.proj.backward(cc.concat, T, dOut, g.projW, g.projB, true)
	}

	if l.bwd == nil {
		return l.fwd.backward(cc.fwdCC, dConcat, g.fwd.wx, g.fwd.wh, g.fwd.b, propagate)
	}

	dhF := make([]float64, T*H)
	dhB := make([]float64, T*H)
	for t := 0; t < T; t++ {
		row := dConcat[t*2*H : (t+1)*2*H]
		copy(dhF[t*H:(t+1)*H], row[:H])
		copy(dhB[(T-1-t)*H:(T-t)*H], row[H:])
	}
	dx := l.fwd.backward(cc.fwdCC, dhF, g.fwd.wx, g.fwd.wh, g.fwd.b, propagate)
	dxr := l.bwd.backward(cc.bwdCC, dhB, g.bwd.wx, g.bwd.wh, g.bwd.b, propagate)
	if !propagate {
		return nil
	}
	dim := l.fwd.InDim
	for t := 0; t < T; t++ {
		src := dxr[(T-1-t)*dim : (T-t)*dim]
		dst := dx[t*dim : (t+1)*dim]
		for j, v := range src {
			dst[j] += v
		}
	}
	return dx
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// reverseRows copies src into dst with the row order flipped.
func reverseRows(dst, src []float64, T, dim int) {
	for t := 0; t < T; t++ {
		copy(dst[t*dim:(t+1)*dim], src[(T-1-t)*dim:(T-t)*dim])
	}
}

// dropoutMask draws an inverted dropout mask, zero with probability p
// and 1/(1-p) otherwise, so evaluation needs no rescaling.
func dropoutMask(n int, p float64, rng *rand.Rand) []float64 {
	mask := make([]float64, n)
	keep := 1.0 / (1.0 - p)
	for i := range mask {
		if rng.Float64() >= p {
			mask[i] = keep
		}
	}
	return mask
}
