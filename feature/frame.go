package feature

import "math"

// PreEmphasize applies the first-order high-pass filter
// y[n] = x[n] - alpha*x[n-1], boosting the high end that speech
// spectra roll off.
func PreEmphasize(samples []float64, alpha float64) []float64 {
	if len(samples) == 0 {
		return nil
	}
	out := make([]float64, len(samples))
	out[0] = samples[0]
	prev := samples[0]
	for i, s := range samples[1:] {
		out[i+1] = s - alpha*prev
		prev = s
	}
	return out
}

// Frame cuts samples into overlapping windows of frameLen samples every
// frameShift samples. Frames share one backing array but never overlap
// in it, so windowing a frame in place is safe. Returns nil when the
// signal is shorter than a single frame.
func Frame(samples []float64, frameLen, frameShift int) [][]float64 {
	if len(samples) < frameLen {
		return nil
	}
	count := (len(samples)-frameLen)/frameShift + 1
	backing := make([]float64, count*frameLen)
	frames := make([][]float64, count)
	for i := range frames {
		row := backing[i*frameLen : (i+1)*frameLen]
		copy(row, samples[i*frameShift:])
		frames[i] = row
	}
	return frames
}

// HammingWindow tapers a frame in place.
func HammingWindow(frame []float64) {
	if len(frame) < 2 {
		return
	}
	step := 2 * math.Pi / float64(len(frame)-1)
	for i := range frame {
		frame[i] *= 0.54 - 0.46*math.Cos(step*float64(i))
	}
}
