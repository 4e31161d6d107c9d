package feature

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/floats"
)

// ApplyCMN subtracts the utterance-level mean from each feature dimension (Cepstral Mean Normalization).
// This removes channel and speaker-dependent spectral bias.
func ApplyCMN(features [][]float64) {
	T := len(features)
	if T == 0 {
		return
	}
	dim := len(features[0])
	mean := make([]float64, dim)
	for t := 0; t < T; t++ {
		floats.Add(mean, features[t])
	}
	floats.Scale(1.0/float64(T), mean)
	for t := 0; t < T; t++ {
		floats.Sub(features[t], mean)
	}
}

// CMVN accumulates corpus-level mean and variance statistics so every
// split can be normalized with the training set's statistics.
type CMVN struct {
	count int
	sum   []float64
	sumSq []float64
	mean  []float64
	std   []float64
}

// varianceFloor keeps near-constant dimensions from exploding.
const varianceFloor = 1e-10

// NewCMVN creates an accumulator for the given feature dimension.
func NewCMVN(dim int) *CMVN {
	return &CMVN{
		sum:   make([]float64, dim),
		sumSq: make([]float64, dim),
	}
}

// Dim returns the feature dimension the statistics cover.
func (c *CMVN) Dim() int { return len(c.sum) }

// Frames returns the number of accumulated frames.
func (c *CMVN) Frames() int { return c.count }

// Accumulate folds an utterance into the running statistics.
func (c *CMVN) Accumulate(features [][]float64) error {
	for _, frame := range features {
		if len(frame) != len(c.sum) {
			return fmt.Errorf("cmvn: frame dim %d, want %d", len(frame), len(c.sum))
		}
		floats.Add(c.sum, frame)
		for d, v := range frame {
			c.sumSq[d] += v * v
		}
		c.count++
	}
	c.mean = nil
	c.std = nil
	return nil
}

// finalize computes mean and standard deviation from the sums.
func (c *CMVN) finalize() error {
	if c.count == 0 {
		return fmt.Errorf("cmvn: no frames accumulated")
	}
	n := float64(c.count)
	c.mean = make([]float64, len(c.sum))
	c.std = make([]float64, len(c.sum))
	for d := range c.sum {
		m := c.sum[d] / n
		v := c.sumSq[d]/n - m*m
		if v < varianceFloor {
			v = varianceFloor
		}
		c.mean[d] = m
		c.std[d] = math.Sqrt(v)
	}
	return nil
}

// Normalize applies (x - mean) / std in place using the accumulated
// statistics.
func (c *CMVN) Normalize(features [][]float64) error {
	if c.mean == nil {
		if err := c.finalize(); err != nil {
			return err
		}
	}
	for _, frame := range features {
		if len(frame) != len(c.mean) {
			return fmt.Errorf("cmvn: frame dim %d, want %d", len(frame), len(c.mean))
		}
		floats.Sub(frame, c.mean)
		floats.Div(frame, c.std)
	}
	return nil
}

type serializedCMVNV1 struct {
	Version int
	Count   int
	Sum     []float64
	SumSq   []float64
}

// Save writes the accumulated statistics to path.
func (c *CMVN) Save(path string) error {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(serializedCMVNV1{Version: 1, Count: c.count, Sum: c.sum, SumSq: c.sumSq}); err != nil {
		return fmt.Errorf("cmvn: encoding: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("cmvn: %w", err)
	}
	return nil
}

// LoadCMVN reads statistics written by Save.
func LoadCMVN(path string) (*CMVN, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cmvn: %w", err)
	}
	var s serializedCMVNV1
	dec := gob.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("cmvn: decoding %s: %w", path, err)
	}
	if s.Version != 1 {
		return nil, fmt.Errorf("cmvn: unsupported version %d", s.Version)
	}
	if len(s.Sum) != len(s.SumSq) {
		return nil, fmt.Errorf("cmvn: corrupt statistics in %s", path)
	}
	return &CMVN{count: s.Count, sum: s.Sum, sumSq: s.SumSq}, nil
}
