// Package neuralsp turns speech into text with connectionist temporal
// classification models trained by cmd/train.
package neuralsp

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sunilsivadas/neural-sp/audio"
	"github.com/sunilsivadas/neural-sp/config"
	"github.com/sunilsivadas/neural-sp/corpus"
	"github.com/sunilsivadas/neural-sp/decoder"
	"github.com/sunilsivadas/neural-sp/feature"
	"github.com/sunilsivadas/neural-sp/language"
	"github.com/sunilsivadas/neural-sp/model"
	"github.com/sunilsivadas/neural-sp/trainer"
	"github.com/sunilsivadas/neural-sp/vocab"
)

// Recognizer bundles a trained model with the feature front-end and
// decoding setup needed to go from raw audio to text.
type Recognizer struct {
	Model   *model.Model
	Voc     *vocab.Vocab
	LM      *language.NGramModel
	CMVN    *feature.CMVN
	Cfg     *config.Config
	FeatCfg feature.Config
	DecCfg  decoder.Config
}

// Option configures a Recognizer.
type Option func(*Recognizer)

// WithFeatureConfig overrides the extraction parameters derived from
// the experiment config.
func WithFeatureConfig(cfg feature.Config) Option {
	return func(r *Recognizer) {
		r.FeatCfg = cfg
	}
}

// WithDecoderConfig sets custom decoding parameters.
func WithDecoderConfig(cfg decoder.Config) Option {
	return func(r *Recognizer) {
		r.DecCfg = cfg
	}
}

// WithLM enables shallow fusion with an n-gram language model.
func WithLM(lm *language.NGramModel) Option {
	return func(r *Recognizer) {
		r.LM = lm
	}
}

// Open loads a model directory written by cmd/train: config.yml, the
// latest checkpoint, the vocabulary and, when present, the global CMVN
// statistics of the training corpus. Without the statistics, decoding
// falls back to per-utterance mean normalization.
func Open(modelDir string, opts ...Option) (*Recognizer, error) {
	cfg, err := config.Load(filepath.Join(modelDir, "config.yml"))
	if err != nil {
		return nil, err
	}
	m, _, _, err := trainer.LoadCheckpoint(modelDir, -1)
	if err != nil {
		return nil, err
	}
	voc, err := vocab.Load(filepath.Join(modelDir, "vocab.txt"))
	if err != nil {
		return nil, err
	}
	if voc.NumClasses() != m.NumClasses() {
		return nil, fmt.Errorf("neuralsp: vocabulary has %d classes, model has %d",
			voc.NumClasses(), m.NumClasses())
	}

	r := New(cfg, m, voc, opts...)

	cmvnPath := filepath.Join(modelDir, "cmvn.gob")
	if _, err := os.Stat(cmvnPath); err == nil {
		cm, err := feature.LoadCMVN(cmvnPath)
		if err != nil {
			return nil, err
		}
		r.CMVN = cm
	}
	return r, nil
}

// New builds a Recognizer from pre-loaded pieces, deriving the feature
// and decoder setup from the experiment config.
func New(cfg *config.Config, m *model.Model, voc *vocab.Vocab, opts ...Option) *Recognizer {
	featCfg := feature.DefaultConfig()
	featCfg.NumMelFilters = cfg.InputChannel
	featCfg.UseDelta = cfg.UseDelta
	featCfg.UseDeltaDelta = cfg.UseDoubleDelta
	featCfg.UseCMN = false

	maxLen := trainer.MaxDecodeLenChar
	if cfg.WordLevel() {
		maxLen = trainer.MaxDecodeLenWord
	}
	r := &Recognizer{
		Model:   m,
		Voc:     voc,
		Cfg:     cfg,
		FeatCfg: featCfg,
		DecCfg: decoder.Config{
			BeamWidth:    cfg.BeamWidth,
			MaxDecodeLen: maxLen,
			LMWeight:     cfg.LMWeight,
			WordLevel:    cfg.WordLevel(),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RecognizeFile runs recognition on a WAV file and returns the result.
func (r *Recognizer) RecognizeFile(wavPath string) (*decoder.Result, error) {
	samples, _, err := audio.ReadWAVFile(wavPath)
	if err != nil {
		return nil, fmt.Errorf("read WAV: %w", err)
	}
	return r.RecognizeSamples(samples)
}

// RecognizeSamples runs recognition on raw 16 kHz mono samples.
func (r *Recognizer) RecognizeSamples(samples []float64) (*decoder.Result, error) {
	feats, err := feature.Extract(samples, r.FeatCfg)
	if err != nil {
		return nil, fmt.Errorf("extract features: %w", err)
	}
	if len(feats) == 0 {
		return nil, fmt.Errorf("neuralsp: audio too short for one frame")
	}
	if r.CMVN != nil {
		if err := r.CMVN.Normalize(feats); err != nil {
			return nil, err
		}
	} else {
		feature.ApplyCMN(feats)
	}

	x := corpus.Preprocess(feats, r.Cfg)
	if len(x[0]) != r.Model.InputDim() {
		return nil, fmt.Errorf("neuralsp: frame dim %d, model wants %d (check input_channel and delta settings)",
			len(x[0]), r.Model.InputDim())
	}
	return decoder.Decode(r.Model.LogProbs(x), r.LM, r.Voc, r.DecCfg), nil
}
