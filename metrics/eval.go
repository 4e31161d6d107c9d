package metrics

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sunilsivadas/neural-sp/corpus"
	"github.com/sunilsivadas/neural-sp/decoder"
	"github.com/sunilsivadas/neural-sp/language"
	"github.com/sunilsivadas/neural-sp/model"
)

// Config holds the settings for one evaluation pass.
type Config struct {
	Beam decoder.Config

	// LM enables shallow fusion during decoding when non-nil.
	LM *language.NGramModel

	// MaxEval caps the number of utterances scored. Zero scores the
	// whole set.
	MaxEval int

	// Workers bounds the number of utterances decoded concurrently.
	Workers int
}

// Report aggregates recognition errors over one dataset.
type Report struct {
	Split string
	N     int
	Chars EditStats
	Words EditStats
}

// CER returns the corpus-level character error rate.
func (r *Report) CER() float64 { return r.Chars.Rate() }

// WER returns the corpus-level word error rate.
func (r *Report) WER() float64 { return r.Words.Rate() }

// Metric returns the headline rate: WER for word-level labels, CER
// otherwise.
func (r *Report) Metric(wordLevel bool) float64 {
	if wordLevel {
		return r.WER()
	}
	return r.CER()
}

type uttScore struct {
	chars EditStats
	words EditStats
}

// Evaluate decodes one pass over the dataset and scores the hypotheses
// against the reference transcripts. Utterances within a batch decode
// in parallel; aggregation follows dataset order so repeated runs
// produce identical reports.
func Evaluate(ctx context.Context, m *model.Model, ds *corpus.Dataset, cfg Config) (*Report, error) {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	voc := ds.Vocab()
	rep := &Report{Split: ds.Split()}

	done := false
	for !done {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := ds.Next()
		if err != nil {
			return nil, err
		}

		n := len(b.Xs)
		if cfg.MaxEval > 0 && rep.N+n >= cfg.MaxEval {
			n = cfg.MaxEval - rep.N
			done = true
		}
		scores := make([]uttScore, n)

		var g errgroup.Group
		g.SetLimit(workers)
		for i := 0; i < n; i++ {
			g.Go(func() error {
				logProbs := m.LogProbs(b.Xs[i])
				res := decoder.Decode(logProbs, cfg.LM, voc, cfg.Beam)
				scores[i] = uttScore{
					chars: AlignStats(charTokens(b.Texts[i]), charTokens(res.Text)),
					words: AlignStats(strings.Fields(b.Texts[i]), strings.Fields(res.Text)),
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for _, s := range scores {
			rep.Chars.add(s.chars)
			rep.Words.add(s.words)
		}
		rep.N += n

		if b.IsNewEpoch {
			break
		}
	}
	if done {
		// Capped mid-epoch. Rewind so the next pass starts clean.
		ds.SetEpoch(ds.Epoch())
	}
	return rep, nil
}
