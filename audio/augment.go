package audio

// SpeedPerturb resamples audio to play at the given speed factor with the
// sample rate unchanged, so 1.1 shortens the signal and raises the pitch
// while 0.9 stretches it. The output has int(len(samples)/factor) samples,
// each linearly interpolated from the two nearest source positions.
// Nil is returned when the input is empty or the factor unusable.
func SpeedPerturb(samples []float64, factor float64) []float64 {
	if len(samples) == 0 || factor <= 0 {
		return nil
	}
	n := int(float64(len(samples)) / factor)
	if n == 0 {
		return nil
	}

	out := make([]float64, n)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * factor
		lo := int(pos)
		if lo >= last {
			if lo <= last {
				out[i] = samples[lo]
			}
			continue
		}
		frac := pos - float64(lo)
		out[i] = (1-frac)*samples[lo] + frac*samples[lo+1]
	}
	return out
}
