package model

import (
	"encoding/gob"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sync"

	"github.com/sunilsivadas/neural-sp/config"
)

// Param is one named weight tensor. The slice aliases the live model
// weights, so optimizer updates apply in place.
type Param struct {
	Name string
	W    []float64
}

// Model is a deep (B)LSTM encoder with a linear output layer, trained
// with the connectionist temporal classification loss. Class 0 is the
// blank.
type Model struct {
	inputDim       int
	numClasses     int
	numUnits       int
	numLayers      int
	numProj        int
	bidirectional  bool
	dropoutInput   float64
	dropoutHidden  float64
	labelSmoothing float64
	seed           int64

	layers []*encLayer
	out    *linearLayer
	params []Param

	noiseStd    float64
	noiseRNG    *rand.Rand
	noiseBackup [][]float64
}

// New builds a randomly initialized model for the architecture the
// config describes. numClasses counts the blank.
func New(cfg *config.Config, numClasses int, seed int64) (*Model, error) {
	if numClasses < 2 {
		return nil, fmt.Errorf("model: need at least one class besides the blank, got %d", numClasses)
	}
	m := &Model{
		inputDim:       cfg.InputDim(),
		numClasses:     numClasses,
		numUnits:       cfg.NumUnits,
		numLayers:      cfg.NumLayers,
		numProj:        cfg.NumProj,
		bidirectional:  cfg.ModelType == "blstm_ctc",
		dropoutInput:   cfg.DropoutInput,
		dropoutHidden:  cfg.DropoutHidden,
		labelSmoothing: cfg.LabelSmoothing,
		seed:           seed,
	}
	m.build(cfg.ParameterInit, rand.New(rand.NewSource(seed)))
	return m, nil
}

func (m *Model) build(initScale float64, rng *rand.Rand) {
	inDim := m.inputDim
	m.layers = make([]*encLayer, m.numLayers)
	for l := range m.layers {
		layer := &encLayer{fwd: newLSTMDir(inDim, m.numUnits, initScale, rng)}
		if m.bidirectional {
			layer.bwd = newLSTMDir(inDim, m.numUnits, initScale, rng)
		}
		if m.numProj > 0 {
			dirDim := m.numUnits
			if m.bidirectional {
				dirDim = 2 * m.numUnits
			}
			layer.proj = newLinearLayer(dirDim, m.numProj, initScale, rng)
		}
		m.layers[l] = layer
		inDim = layer.outDim()
	}
	m.out = newLinearLayer(inDim, m.numClasses, initScale, rng)
	m.buildParams()
}

func (m *Model) buildParams() {
	var ps []Param
	for l, layer := range m.layers {
		prefix := fmt.Sprintf("enc.l%d", l)
		ps = append(ps,
			Param{prefix + ".fwd.wx", layer.fwd.Wx},
			Param{prefix + ".fwd.wh", layer.fwd.Wh},
			Param{prefix + ".fwd.b", layer.fwd.B},
		)
		if layer.bwd != nil {
			ps = append(ps,
				Param{prefix + ".bwd.wx", layer.bwd.Wx},
				Param{prefix + ".bwd.wh", layer.bwd.Wh},
				Param{prefix + ".bwd.b", layer.bwd.B},
			)
		}
		if layer.proj != nil {
			ps = append(ps,
				Param{prefix + ".proj.w", layer.proj.W},
				Param{prefix + ".proj.b", layer.proj.B},
			)
		}
	}
	ps = append(ps, Param{"out.w", m.out.W}, Param{"out.b", m.out.B})
	m.params = ps
}

// Params returns the named weight tensors in a stable order. The
// slices alias the live weights.
func (m *Model) Params() []Param { return m.params }

// NumParams returns the total number of trainable weights.
func (m *Model) NumParams() int {
	n := 0
	for _, p := range m.params {
		n += len(p.W)
	}
	return n
}

func (m *Model) InputDim() int   { return m.inputDim }
func (m *Model) NumClasses() int { return m.numClasses }

// Name returns the architecture tag used in save paths, for example
// "blstm320H5L_ctc".
func (m *Model) Name() string {
	prefix := "lstm"
	if m.bidirectional {
		prefix = "blstm"
	}
	if m.numProj > 0 {
		return fmt.Sprintf("%s%dH%dP%dL_ctc", prefix, m.numUnits, m.numProj, m.numLayers)
	}
	return fmt.Sprintf("%s%dH%dL_ctc", prefix, m.numUnits, m.numLayers)
}

// NewGrads allocates a gradient buffer shaped like the parameters.
func (m *Model) NewGrads() *Grads {
	g := &Grads{G: make([][]float64, len(m.params))}
	for i, p := range m.params {
		g.G[i] = make([]float64, len(p.W))
	}
	return g
}

type dirGrads struct {
	wx, wh, b []float64
}

type encLayerGrads struct {
	fwd   dirGrads
	bwd   dirGrads
	projW []float64
	projB []float64
}

// gradViews splits a flat gradient buffer into per-layer views in the
// same order buildParams emits the parameters.
func (m *Model) gradViews(g *Grads) ([]encLayerGrads, []float64, []float64) {
	views := make([]encLayerGrads, len(m.layers))
	i := 0
	next := func() []float64 {
		s := g.G[i]
		i++
		return s
	}
	for l, layer := range m.layers {
		views[l].fwd = dirGrads{next(), next(), next()}
		if layer.bwd != nil {
			views[l].bwd = dirGrads{next(), next(), next()}
		}
		if layer.proj != nil {
			views[l].projW = next()
			views[l].projB = next()
		}
	}
	return views, next(), next()
}

type fwdCache struct {
	inMask []float64
	layers []*encLayerCache
	logits []float64 // [T x K]
	T      int
}

// forward runs the whole network over one utterance. A nil rng selects
// evaluation mode with dropout disabled.
func (m *Model) forward(x []float64, T int, rng *rand.Rand) *fwdCache {
	cc := &fwdCache{T: T, layers: make([]*encLayerCache, len(m.layers))}
	cur := x
	if rng != nil && m.dropoutInput > 0 {
		cc.inMask = dropoutMask(len(x), m.dropoutInput, rng)
		dropped := make([]float64, len(x))
		for i, v := range x {
			dropped[i] = v * cc.inMask[i]
		}
		cur = dropped
	}
	for l, layer := range m.layers {
		lc := layer.forward(cur, T, m.dropoutHidden, rng)
		cc.layers[l] = lc
		cur = lc.out
	}
	cc.logits = make([]float64, T*m.numClasses)
	m.out.forward(cur, T, cc.logits)
	return cc
}

func (m *Model) backward(cc *fwdCache, dLogits []float64, views []encLayerGrads, gOutW, gOutB []float64) {
	topOut := cc.layers[len(m.layers)-1].out
	d := m.out.backward(topOut, cc.T, dLogits, gOutW, gOutB, true)
	for l := len(m.layers) - 1; l >= 0; l-- {
		d = m.layers[l].backward(cc.layers[l], d, &views[l], l > 0)
	}
}

// trainUtt runs one utterance forward and backward, accumulating into
// the worker's gradient views. ok is false when the alignment is
// infeasible and the utterance was skipped.
func (m *Model) trainUtt(x []float64, T int, y []int, rng *rand.Rand, views []encLayerGrads, gOutW, gOutB []float64) (float64, bool) {
	cc := m.forward(x, T, rng)
	dLogits := make([]float64, len(cc.logits))
	loss, ok := ctcLoss(cc.logits, T, m.numClasses, y, m.labelSmoothing, dLogits)
	if !ok {
		return 0, false
	}
	m.backward(cc, dLogits, views, gOutW, gOutB)
	return loss, true
}

// TrainBatch runs forward and backward over one minibatch, spreading
// utterances across workers, and accumulates gradients into grads
// after zeroing it. It returns the mean loss over the utterances that
// admitted an alignment and the number skipped.
func (m *Model) TrainBatch(xs [][][]float64, ys [][]int, grads *Grads, workers, step int) (float64, int) {
	n := len(xs)
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	grads.Zero()

	if m.noiseStd > 0 {
		m.applyWeightNoise()
		defer m.restoreWeights()
	}

	workerGrads := make([]*Grads, workers)
	losses := make([]float64, workers)
	skips := make([]int, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			g := m.NewGrads()
			workerGrads[w] = g
			views, gOutW, gOutB := m.gradViews(g)
			rng := rand.New(rand.NewSource(m.seed + int64(step)*int64(workers) + int64(w)))
			for i := w; i < n; i += workers {
				x, T := flatten(xs[i])
				if T == 0 {
					skips[w]++
					continue
				}
				loss, ok := m.trainUtt(x, T, ys[i], rng, views, gOutW, gOutB)
				if !ok {
					skips[w]++
					continue
				}
				losses[w] += loss
			}
		}(w)
	}
	wg.Wait()

	loss := 0.0
	skipped := 0
	for w := 0; w < workers; w++ {
		grads.Add(workerGrads[w])
		loss += losses[w]
		skipped += skips[w]
	}
	if n > skipped {
		loss /= float64(n - skipped)
	}
	return loss, skipped
}

// EvalBatch computes the mean loss over one minibatch without dropout,
// weight noise, or gradient computation.
func (m *Model) EvalBatch(xs [][][]float64, ys [][]int, workers int) (float64, int) {
	n := len(xs)
	if workers < 1 {
		workers = 1
	}
	if workers > n {
		workers = n
	}
	losses := make([]float64, workers)
	skips := make([]int, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < n; i += workers {
				x, T := flatten(xs[i])
				if T == 0 {
					skips[w]++
					continue
				}
				cc := m.forward(x, T, nil)
				loss, ok := ctcLoss(cc.logits, T, m.numClasses, ys[i], m.labelSmoothing, nil)
				if !ok {
					skips[w]++
					continue
				}
				losses[w] += loss
			}
		}(w)
	}
	wg.Wait()

	loss := 0.0
	skipped := 0
	for w := 0; w < workers; w++ {
		loss += losses[w]
		skipped += skips[w]
	}
	if n > skipped {
		loss /= float64(n - skipped)
	}
	return loss, skipped
}

// LogProbs runs the encoder over one utterance and returns per-frame
// log posteriors for decoding.
func (m *Model) LogProbs(x [][]float64) [][]float64 {
	flat, T := flatten(x)
	if T == 0 {
		return nil
	}
	cc := m.forward(flat, T, nil)
	K := m.numClasses
	out := make([][]float64, T)
	for t := 0; t < T; t++ {
		lp := make([]float64, K)
		copy(lp, cc.logits[t*K:(t+1)*K])
		logSoftmaxRow(lp)
		out[t] = lp
	}
	return out
}

// EnableWeightNoise turns on Gaussian weight noise for subsequent
// training batches. A non-positive std disables it again.
func (m *Model) EnableWeightNoise(std float64) {
	m.noiseStd = std
}

func (m *Model) applyWeightNoise() {
	if m.noiseRNG == nil {
		m.noiseRNG = rand.New(rand.NewSource(m.seed + 1))
	}
	if m.noiseBackup == nil {
		m.noiseBackup = make([][]float64, len(m.params))
		for i, p := range m.params {
			m.noiseBackup[i] = make([]float64, len(p.W))
		}
	}
	for i, p := range m.params {
		copy(m.noiseBackup[i], p.W)
		for j := range p.W {
			p.W[j] += m.noiseRNG.NormFloat64() * m.noiseStd
		}
	}
}

func (m *Model) restoreWeights() {
	for i, p := range m.params {
		copy(p.W, m.noiseBackup[i])
	}
}

// flatten packs a frame-major feature sequence into one row-major
// slice.
func flatten(x [][]float64) ([]float64, int) {
	T := len(x)
	if T == 0 {
		return nil, 0
	}
	dim := len(x[0])
	flat := make([]float64, T*dim)
	for t, row := range x {
		copy(flat[t*dim:(t+1)*dim], row)
	}
	return flat, T
}

// --- Serialization ---

type serializedModelV1 struct {
	Version        int // = 1
	InputDim       int
	NumClasses     int
	NumUnits       int
	NumLayers      int
	NumProj        int
	Bidirectional  bool
	DropoutInput   float64
	DropoutHidden  float64
	LabelSmoothing float64
	Seed           int64
	Weights        [][]float64 // Params order
}

// Save serializes the model to a writer using gob encoding.
func (m *Model) Save(w io.Writer) error {
	weights := make([][]float64, len(m.params))
	for i, p := range m.params {
		weights[i] = p.W
	}
	sd := serializedModelV1{
		Version:        1,
		InputDim:       m.inputDim,
		NumClasses:     m.numClasses,
		NumUnits:       m.numUnits,
		NumLayers:      m.numLayers,
		NumProj:        m.numProj,
		Bidirectional:  m.bidirectional,
		DropoutInput:   m.dropoutInput,
		DropoutHidden:  m.dropoutHidden,
		LabelSmoothing: m.labelSmoothing,
		Seed:           m.seed,
		Weights:        weights,
	}
	return gob.NewEncoder(w).Encode(sd)
}

// Load deserializes a model written by Save.
func Load(r io.Reader) (*Model, error) {
	var sd serializedModelV1
	if err := gob.NewDecoder(r).Decode(&sd); err != nil {
		return nil, err
	}
	if sd.Version != 1 {
		return nil, fmt.Errorf("model: unsupported model format version %d", sd.Version)
	}
	m := &Model{
		inputDim:       sd.InputDim,
		numClasses:     sd.NumClasses,
		numUnits:       sd.NumUnits,
		numLayers:      sd.NumLayers,
		numProj:        sd.NumProj,
		bidirectional:  sd.Bidirectional,
		dropoutInput:   sd.DropoutInput,
		dropoutHidden:  sd.DropoutHidden,
		labelSmoothing: sd.LabelSmoothing,
		seed:           sd.Seed,
	}
	m.build(0, rand.New(rand.NewSource(sd.Seed)))
	if len(sd.Weights) != len(m.params) {
		return nil, fmt.Errorf("model: weight count %d does not match architecture (want %d)",
			len(sd.Weights), len(m.params))
	}
	for i, w := range sd.Weights {
		if len(w) != len(m.params[i].W) {
			return nil, fmt.Errorf("model: weight %s has %d values, want %d",
				m.params[i].Name, len(w), len(m.params[i].W))
		}
		copy(m.params[i].W, w)
	}
	return m, nil
}

// LoadFile reads a serialized model from disk.
func LoadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}
