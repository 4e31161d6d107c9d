package feature

import (
	"math"
	"math/cmplx"
)

// FFT computes the radix-2 Cooley-Tukey FFT of x, whose length must be
// a power of 2.
func FFT(x []complex128) []complex128 {
	n := len(x)
	out := make([]complex128, n)
	copy(out, x)
	if n <= 1 {
		return out
	}

	bitReversePermute(out)

	for span := 1; span < n; span <<= 1 {
		root := cmplx.Exp(complex(0, -math.Pi/float64(span)))
		for block := 0; block < n; block += 2 * span {
			w := complex(1, 0)
			for k := block; k < block+span; k++ {
				even := out[k]
				odd := w * out[k+span]
				out[k] = even + odd
				out[k+span] = even - odd
				w *= root
			}
		}
	}
	return out
}

// bitReversePermute reorders x in place so the in-place butterfly
// stages read their inputs sequentially. j tracks the bit-reversed
// counterpart of i across iterations.
func bitReversePermute(x []complex128) {
	n := len(x)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j |= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}
}

// PowerSpectrum computes |FFT(frame)|^2 / fftSize after zero-padding
// the frame, returning the fftSize/2+1 non-negative frequency bins.
func PowerSpectrum(frame []float64, fftSize int) []float64 {
	x := make([]complex128, fftSize)
	for i := 0; i < len(frame) && i < fftSize; i++ {
		x[i] = complex(frame[i], 0)
	}
	spec := FFT(x)

	power := make([]float64, fftSize/2+1)
	scale := 1 / float64(fftSize)
	for i := range power {
		re, im := real(spec[i]), imag(spec[i])
		power[i] = (re*re + im*im) * scale
	}
	return power
}

// fftWorkspace reuses buffers and twiddle tables across frames. Real
// and imaginary parts live in separate slices so the butterfly kernel
// runs on contiguous float64 data.
type fftWorkspace struct {
	re, im []float64
	power  []float64
	swaps  [][2]int
	stages []twiddleStage
}

type twiddleStage struct {
	re, im []float64
}

func newFFTWorkspace(fftSize int) *fftWorkspace {
	ws := &fftWorkspace{
		re:    make([]float64, fftSize),
		im:    make([]float64, fftSize),
		power: make([]float64, fftSize/2+1),
	}

	// Record only the index pairs the permutation actually exchanges.
	for i, j := 1, 0; i < fftSize; i++ {
		bit := fftSize >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j |= bit
		if i < j {
			ws.swaps = append(ws.swaps, [2]int{i, j})
		}
	}

	for span := 1; span < fftSize; span <<= 1 {
		st := twiddleStage{
			re: make([]float64, span),
			im: make([]float64, span),
		}
		root := cmplx.Exp(complex(0, -math.Pi/float64(span)))
		w := complex(1, 0)
		for k := 0; k < span; k++ {
			st.re[k] = real(w)
			st.im[k] = imag(w)
			w *= root
		}
		ws.stages = append(ws.stages, st)
	}
	return ws
}

// computePowerSpectrum windows and zero-pads the frame, runs the FFT in
// place on the split buffers and fills ws.power, all without
// allocating. A nil window loads the frame as is.
func (ws *fftWorkspace) computePowerSpectrum(frame, window []float64) {
	n := len(ws.re)

	if window != nil {
		for i, s := range frame {
			ws.re[i] = s * window[i]
		}
	} else {
		copy(ws.re, frame)
	}
	for i := len(frame); i < n; i++ {
		ws.re[i] = 0
	}
	clear(ws.im)

	for _, sw := range ws.swaps {
		i, j := sw[0], sw[1]
		ws.re[i], ws.re[j] = ws.re[j], ws.re[i]
		ws.im[i], ws.im[j] = ws.im[j], ws.im[i]
	}

	for s, st := range ws.stages {
		span := 1 << s
		for block := 0; block < n; block += 2 * span {
			butterflySpan(
				ws.re[block:block+span], ws.im[block:block+span],
				ws.re[block+span:block+2*span], ws.im[block+span:block+2*span],
				st.re, st.im)
		}
	}

	scale := 1 / float64(n)
	for i := range ws.power {
		ws.power[i] = (ws.re[i]*ws.re[i] + ws.im[i]*ws.im[i]) * scale
	}
}

// butterflySpan runs one stage over paired half-blocks in split layout:
// a' = a + w*b, b' = a - w*b.
func butterflySpan(aRe, aIm, bRe, bIm, wRe, wIm []float64) {
	for k := range aRe {
		tr := wRe[k]*bRe[k] - wIm[k]*bIm[k]
		ti := wRe[k]*bIm[k] + wIm[k]*bRe[k]
		aRe[k], aIm[k] = aRe[k]+tr, aIm[k]+ti
		bRe[k], bIm[k] = bRe[k]-tr, bIm[k]-ti
	}
}
