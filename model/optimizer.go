package model

import (
	"encoding/gob"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Adam moment decay and damping constants.
const (
	adamBeta1 = 0.9
	adamBeta2 = 0.999
	adamEps   = 1e-8

	sgdMomentum = 0.9
)

// Grads holds one gradient slice per model parameter, aligned with the
// Params order.
type Grads struct {
	G [][]float64
}

func (g *Grads) Zero() {
	for _, s := range g.G {
		clearSlice(s)
	}
}

func (g *Grads) Add(other *Grads) {
	for i, s := range g.G {
		addSlice(s, other.G[i])
	}
}

// Optimizer updates model weights from accumulated gradients. Adam
// keeps first and second moment estimates, momentum a velocity buffer,
// plain SGD no state at all.
type Optimizer struct {
	Name        string
	LR          float64
	WeightDecay float64

	t int
	m [][]float64
	v [][]float64
}

func NewOptimizer(name string, lr, weightDecay float64, params []Param) (*Optimizer, error) {
	o := &Optimizer{Name: name, LR: lr, WeightDecay: weightDecay}
	switch name {
	case "adam":
		o.m = newStateLike(params)
		o.v = newStateLike(params)
	case "momentum":
		o.m = newStateLike(params)
	case "sgd":
	default:
		return nil, fmt.Errorf("model: unknown optimizer %q", name)
	}
	return o, nil
}

func newStateLike(params []Param) [][]float64 {
	s := make([][]float64, len(params))
	for i, p := range params {
		s[i] = make([]float64, len(p.W))
	}
	return s
}

// Step applies one update. The gradients are consumed: they are scaled
// by gradScale, clipped to clipNorm when positive, and augmented with
// the weight decay term in place before the parameter update.
func (o *Optimizer) Step(params []Param, grads *Grads, gradScale, clipNorm float64) {
	scale := gradScale
	if clipNorm > 0 {
		norm := 0.0
		for _, g := range grads.G {
			for _, v := range g {
				sv := v * gradScale
				norm += sv * sv
			}
		}
		norm = math.Sqrt(norm)
		if norm > clipNorm {
			scale *= clipNorm / norm
		}
	}
	for i, p := range params {
		g := grads.G[i]
		if scale != 1 {
			floats.Scale(scale, g)
		}
		if o.WeightDecay > 0 {
			floats.AddScaled(g, o.WeightDecay, p.W)
		}
	}

	o.t++
	switch o.Name {
	case "adam":
		for i, p := range params {
			adamUpdate(p.W, grads.G[i], o.m[i], o.v[i], o.LR, adamBeta1, adamBeta2, adamEps, o.t, 1.0)
		}
	case "momentum":
		for i, p := range params {
			buf := o.m[i]
			for j, g := range grads.G[i] {
				buf[j] = sgdMomentum*buf[j] + g
			}
			floats.AddScaled(p.W, -o.LR, buf)
		}
	default:
		for i, p := range params {
			floats.AddScaled(p.W, -o.LR, grads.G[i])
		}
	}
}

// ConvertToSGD switches to plain SGD at the given learning rate,
// discarding any adaptive state.
func (o *Optimizer) ConvertToSGD(lr float64) {
	o.Name = "sgd"
	o.LR = lr
	o.t = 0
	o.m = nil
	o.v = nil
}

func adamUpdate(params, grad, m, v []float64, lr, beta1, beta2, eps float64, t int, gradScale float64) {
	bc1 := 1.0 - math.Pow(beta1, float64(t))
	bc2 := 1.0 - math.Pow(beta2, float64(t))
	for i := range params {
		g := grad[i] * gradScale
		m[i] = beta1*m[i] + (1-beta1)*g
		v[i] = beta2*v[i] + (1-beta2)*g*g
		mHat := m[i] / bc1
		vHat := v[i] / bc2
		params[i] -= lr * mHat / (math.Sqrt(vHat) + eps)
	}
}

type serializedOptimV1 struct {
	Version     int // = 1
	Name        string
	LR          float64
	WeightDecay float64
	T           int
	M           [][]float64
	V           [][]float64
}

// Save serializes the optimizer state to a writer using gob encoding.
func (o *Optimizer) Save(w io.Writer) error {
	sd := serializedOptimV1{
		Version:     1,
		Name:        o.Name,
		LR:          o.LR,
		WeightDecay: o.WeightDecay,
		T:           o.t,
		M:           o.m,
		V:           o.v,
	}
	return gob.NewEncoder(w).Encode(sd)
}

// LoadOptimizer deserializes optimizer state written by Save.
func LoadOptimizer(r io.Reader) (*Optimizer, error) {
	var sd serializedOptimV1
	if err := gob.NewDecoder(r).Decode(&sd); err != nil {
		return nil, err
	}
	if sd.Version != 1 {
		return nil, fmt.Errorf("model: unsupported optimizer format version %d", sd.Version)
	}
	switch sd.Name {
	case "adam", "momentum", "sgd":
	default:
		return nil, fmt.Errorf("model: unknown optimizer %q", sd.Name)
	}
	return &Optimizer{
		Name:        sd.Name,
		LR:          sd.LR,
		WeightDecay: sd.WeightDecay,
		t:           sd.T,
		m:           sd.M,
		v:           sd.V,
	}, nil
}

func clearSlice(s []float64) {
	for i := range s {
		s[i] = 0
	}
}

func addSlice(dst, src []float64) {
	for i := range dst {
		dst[i] += src[i]
	}
}
