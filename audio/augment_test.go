package audio

import (
	"math"
	"testing"
)

func TestSpeedPerturbLengths(t *testing.T) {
	sig := make([]float64, 4800)
	for i := range sig {
		sig[i] = math.Sin(2 * math.Pi * 220 * float64(i) / 16000)
	}

	for _, factor := range []float64{0.9, 0.95, 1.0, 1.05, 1.1} {
		out := SpeedPerturb(sig, factor)
		want := int(float64(len(sig)) / factor)
		if len(out) != want {
			t.Errorf("factor %.2f: len = %d, want %d", factor, len(out), want)
		}
		for i, v := range out {
			if math.Abs(v) > 1.01 {
				t.Errorf("factor %.2f: out[%d] = %f exceeds signal range", factor, i, v)
				break
			}
		}
	}
}

func TestSpeedPerturbIdentity(t *testing.T) {
	sig := []float64{0.1, -0.2, 0.3, -0.4, 0.5, -0.6}
	out := SpeedPerturb(sig, 1.0)
	if len(out) != len(sig) {
		t.Fatalf("len = %d, want %d", len(out), len(sig))
	}
	for i := range sig {
		if math.Abs(out[i]-sig[i]) > 1e-12 {
			t.Errorf("out[%d] = %f, want %f", i, out[i], sig[i])
		}
	}
}

func TestSpeedPerturbInterpolates(t *testing.T) {
	// On a linear ramp every interpolated value lies on the ramp, so
	// out[i] must equal the fractional source position i*factor.
	ramp := []float64{0, 1, 2, 3, 4, 5, 6, 7}
	factor := 0.5
	out := SpeedPerturb(ramp, factor)
	if len(out) != 16 {
		t.Fatalf("len = %d, want 16", len(out))
	}
	for i, v := range out {
		pos := float64(i) * factor
		if pos > 7 {
			break
		}
		if math.Abs(v-pos) > 1e-12 {
			t.Errorf("out[%d] = %f, want %f", i, v, pos)
		}
	}
}

func TestSpeedPerturbDegenerate(t *testing.T) {
	if out := SpeedPerturb(nil, 1.0); out != nil {
		t.Errorf("nil input: got %v", out)
	}
	if out := SpeedPerturb([]float64{0.5}, 0); out != nil {
		t.Errorf("zero factor: got %v", out)
	}
	if out := SpeedPerturb([]float64{0.5}, -2); out != nil {
		t.Errorf("negative factor: got %v", out)
	}
	// A factor larger than the input length collapses to zero samples.
	if out := SpeedPerturb([]float64{0.5, 0.5}, 4); out != nil {
		t.Errorf("oversized factor: got %v", out)
	}
}
