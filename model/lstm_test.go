package model

import (
	"math"
	"math/rand"
	"testing"
)

func TestLSTMDirForward_Dimensions(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	d := newLSTMDir(3, 4, 0.1, rng)
	T := 5
	x := make([]float64, T*3)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	cc := d.forward(x, T)
	if len(cc.h) != T*4 || len(cc.c) != T*4 || len(cc.gates) != T*16 {
		t.Fatalf("unexpected cache sizes: h=%d c=%d gates=%d", len(cc.h), len(cc.c), len(cc.gates))
	}
	// h = o*tanh(c) stays strictly inside (-1, 1)
	for _, v := range cc.h {
		if math.IsNaN(v) || math.Abs(v) >= 1 {
			t.Fatalf("output out of range: %v", v)
		}
	}
}

func TestLSTMDirInit_ForgetBias(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	d := newLSTMDir(3, 4, 0.1, rng)
	for j := 0; j < 4; j++ {
		if d.B[4+j] != 1.0 {
			t.Errorf("forget bias B[%d] = %v, want 1.0", 4+j, d.B[4+j])
		}
		if math.Abs(d.B[j]) > 0.1 || math.Abs(d.B[8+j]) > 0.1 || math.Abs(d.B[12+j]) > 0.1 {
			t.Errorf("non-forget bias outside init range")
		}
	}
}

func TestLSTMDir_GradientCheck(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	inDim, H, T := 3, 4, 5
	d := newLSTMDir(inDim, H, 0.3, rng)
	x := make([]float64, T*inDim)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	// Scalar objective: fixed random projection of every step output.
	r := make([]float64, T*H)
	for i := range r {
		r[i] = rng.NormFloat64()
	}
	loss := func() float64 {
		cc := d.forward(x, T)
		s := 0.0
		for i, v := range cc.h {
			s += r[i] * v
		}
		return s
	}

	cc := d.forward(x, T)
	gWx := make([]float64, len(d.Wx))
	gWh := make([]float64, len(d.Wh))
	gB := make([]float64, len(d.B))
	dx := d.backward(cc, r, gWx, gWh, gB, true)

	eps := 1e-5
	check := func(name string, w, g []float64) {
		t.Helper()
		maxRelErr := 0.0
		for i := range w {
			orig := w[i]
			w[i] = orig + eps
			plus := loss()
			w[i] = orig - eps
			minus := loss()
			w[i] = orig
			num := (plus - minus) / (2 * eps)
			diff := math.Abs(num - g[i])
			denom := math.Max(math.Abs(num)+math.Abs(g[i]), 1e-8)
			if rel := diff / denom; rel > maxRelErr {
				maxRelErr = rel
			}
		}
		if maxRelErr > 0.01 {
			t.Errorf("%s gradient check failed: max relative error = %e", name, maxRelErr)
		}
	}
	check("Wx", d.Wx, gWx)
	check("Wh", d.Wh, gWh)
	check("B", d.B, gB)
	check("x", x, dx)
}

func TestEncLayerBidirectional_TimeSymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	fwd := newLSTMDir(3, 4, 0.2, rng)
	bwd := &lstmDir{
		Wx:    append([]float64(nil), fwd.Wx...),
		Wh:    append([]float64(nil), fwd.Wh...),
		B:     append([]float64(nil), fwd.B...),
		InDim: fwd.InDim,
		H:     fwd.H,
	}
	l := &encLayer{fwd: fwd, bwd: bwd}

	T := 6
	x := make([]float64, T*3)
	for i := range x {
		x[i] = rng.NormFloat64()
	}
	xr := make([]float64, len(x))
	reverseRows(xr, x, T, 3)

	a := l.forward(x, T, 0, nil)
	b := l.forward(xr, T, 0, nil)

	// With identical direction weights, reversing the input reverses
	// time and swaps the two halves of each output row.
	H := 4
	for tt := 0; tt < T; tt++ {
		ra := a.out[tt*2*H : (tt+1)*2*H]
		rb := b.out[(T-1-tt)*2*H : (T-tt)*2*H]
		for j := 0; j < H; j++ {
			if math.Abs(ra[j]-rb[H+j]) > 1e-12 || math.Abs(ra[H+j]-rb[j]) > 1e-12 {
				t.Fatalf("row %d halves do not mirror", tt)
			}
		}
	}
}

func TestReverseRows(t *testing.T) {
	src := []float64{1, 2, 3, 4, 5, 6}
	dst := make([]float64, 6)
	reverseRows(dst, src, 3, 2)
	want := []float64{5, 6, 3, 4, 1, 2}
	for i := range want {
		if dst[i] != want[i] {
			t.Fatalf("reverseRows = %v, want %v", dst, want)
		}
	}
}

func TestDropoutMask(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	p := 0.25
	mask := dropoutMask(10000, p, rng)
	keep := 1.0 / (1 - p)
	zeros := 0
	for _, v := range mask {
		if v == 0 {
			zeros++
		} else if math.Abs(v-keep) > 1e-12 {
			t.Fatalf("mask value %v, want 0 or %v", v, keep)
		}
	}
	frac := float64(zeros) / float64(len(mask))
	if math.Abs(frac-p) > 0.02 {
		t.Fatalf("dropped fraction %.3f, want about %.2f", frac, p)
	}
}
