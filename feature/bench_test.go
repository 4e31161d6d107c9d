package feature

import (
	"fmt"
	"math"
	"testing"
)

func BenchmarkFFT(b *testing.B) {
	x := make([]complex128, 512)
	for i := range x {
		x[i] = complex(math.Cos(2*math.Pi*7*float64(i)/512), 0)
	}
	b.ResetTimer()
	for b.Loop() {
		FFT(x)
	}
}

func BenchmarkPowerSpectrum(b *testing.B) {
	frame := sineSamples(400)
	b.ResetTimer()
	for b.Loop() {
		PowerSpectrum(frame, 512)
	}
}

func BenchmarkMelApply(b *testing.B) {
	fb := NewMelFilterbank(40, 512, 16000, 0, 8000)
	ps := make([]float64, 257)
	for i := range ps {
		ps[i] = 1 / float64(i+1)
	}
	b.ResetTimer()
	for b.Loop() {
		fb.Apply(ps)
	}
}

func BenchmarkExtract(b *testing.B) {
	for _, seconds := range []int{1, 5, 30} {
		samples := sineSamples(seconds * 16000)
		for _, typ := range []string{"fbank", "mfcc"} {
			cfg := DefaultConfig()
			cfg.Type = typ
			b.Run(fmt.Sprintf("%s/%ds", typ, seconds), func(b *testing.B) {
				for b.Loop() {
					Extract(samples, cfg)
				}
			})
		}
	}
}
