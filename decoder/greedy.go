package decoder

import (
	"github.com/sunilsivadas/neural-sp/vocab"
)

// Greedy picks the best class per frame and collapses the path,
// merging repeats and dropping blanks. It returns the label ids and
// the log probability of the best path.
func Greedy(logProbs [][]float64) ([]int, float64) {
	var ids []int
	score := 0.0
	prev := -1
	for _, row := range logProbs {
		best := 0
		for k := 1; k < len(row); k++ {
			if row[k] > row[best] {
				best = k
			}
		}
		score += row[best]
		if best != prev && best != vocab.BlankID {
			ids = append(ids, best)
		}
		prev = best
	}
	return ids, score
}

func greedyResult(logProbs [][]float64, voc *vocab.Vocab, cfg Config) *Result {
	ids, score := Greedy(logProbs)
	if cfg.MaxDecodeLen > 0 && len(ids) > cfg.MaxDecodeLen {
		ids = ids[:cfg.MaxDecodeLen]
	}
	tokens := voc.Decode(ids)
	return &Result{
		Text:     vocab.JoinTokens(tokens, cfg.WordLevel),
		Tokens:   tokens,
		TokenIDs: ids,
		LogScore: score,
	}
}
