package decoder

import (
	"sort"

	"github.com/sunilsivadas/neural-sp/internal/mathutil"
	"github.com/sunilsivadas/neural-sp/language"
	"github.com/sunilsivadas/neural-sp/vocab"
)

const (
	// Classes this far below the best one in a frame are not worth
	// extending a prefix with.
	candLogBeam = 20.0

	// Score floor for words the language model has never seen, so a
	// single unknown token does not erase a whole beam.
	lmFloor = -23.0

	sentenceStart = "<s>"
	sentenceEnd   = "</s>"
)

// Config holds the decoding settings.
type Config struct {
	// BeamWidth is the number of prefixes kept per frame. Width 1
	// without a language model reduces to greedy decoding.
	BeamWidth int

	// MaxDecodeLen caps the number of output labels per utterance.
	MaxDecodeLen int

	// LMWeight scales language model scores during shallow fusion.
	// Ignored when no model is given.
	LMWeight float64

	// WordLevel controls how tokens are joined into the final text.
	WordLevel bool
}

// DefaultConfig returns the settings used for evaluation.
func DefaultConfig() Config {
	return Config{
		BeamWidth:    4,
		MaxDecodeLen: 150,
		LMWeight:     0.3,
	}
}

// prefixNode interns label prefixes so that paths reaching the same
// sequence share one identity and their scores merge.
type prefixNode struct {
	id       int
	prev     *prefixNode
	length   int
	children map[int]*prefixNode
}

func (n *prefixNode) child(k int) *prefixNode {
	if n.children == nil {
		n.children = make(map[int]*prefixNode)
	}
	if c, ok := n.children[k]; ok {
		return c
	}
	c := &prefixNode{id: k, prev: n, length: n.length + 1}
	n.children[k] = c
	return c
}

func (n *prefixNode) ids() []int {
	if n.length == 0 {
		return nil
	}
	out := make([]int, n.length)
	for i := n.length - 1; i >= 0; i-- {
		out[i] = n.id
		n = n.prev
	}
	return out
}

// beamState scores one prefix, split by whether the path ends in a
// blank. The split keeps a repeated label distinct from a doubled one.
type beamState struct {
	node *prefixNode
	pb   float64
	pnb  float64
}

func (s *beamState) total() float64 {
	return mathutil.LogAdd(s.pb, s.pnb)
}

// Decode runs a prefix beam search over per-frame log probabilities,
// optionally fusing an n-gram language model into label extensions.
func Decode(logProbs [][]float64, lm *language.NGramModel, voc *vocab.Vocab, cfg Config) *Result {
	if cfg.BeamWidth <= 1 && lm == nil {
		return greedyResult(logProbs, voc, cfg)
	}
	if cfg.BeamWidth < 1 {
		cfg.BeamWidth = 1
	}

	root := &prefixNode{id: -1}
	beams := []*beamState{{node: root, pb: 0, pnb: mathutil.LogZero}}
	next := make(map[*prefixNode]*beamState)

	for _, row := range logProbs {
		rowMax := row[0]
		for _, p := range row {
			if p > rowMax {
				rowMax = p
			}
		}

		for _, s := range beams {
			total := s.total()

			// Stay on the same prefix through a blank.
			ns := nextState(next, s.node)
			ns.pb = mathutil.LogAdd(ns.pb, total+row[vocab.BlankID])

			// Repeat the last label without emitting a new one.
			if s.node.length > 0 && s.pnb > mathutil.LogZero+1 {
				ns.pnb = mathutil.LogAdd(ns.pnb, s.pnb+row[s.node.id])
			}

			if cfg.MaxDecodeLen > 0 && s.node.length >= cfg.MaxDecodeLen {
				continue
			}
			for k := 1; k < len(row); k++ {
				if row[k] < rowMax-candLogBeam {
					continue
				}
				src := total
				if k == s.node.id {
					// Emitting the same label twice needs a blank in
					// between, so only the blank-ending mass carries.
					src = s.pb
				}
				if src <= mathutil.LogZero+1 {
					continue
				}
				score := src + row[k]
				if lm != nil {
					score += cfg.LMWeight * lmScore(lm, voc, s.node, voc.Token(k))
				}
				es := nextState(next, s.node.child(k))
				es.pnb = mathutil.LogAdd(es.pnb, score)
			}
		}

		beams = pruneBeams(next, beams[:0], cfg.BeamWidth)
		for n := range next {
			delete(next, n)
		}
	}

	if lm != nil {
		for _, s := range beams {
			end := cfg.LMWeight * lmScore(lm, voc, s.node, sentenceEnd)
			s.pb += end
			s.pnb += end
		}
		sort.Slice(beams, func(i, j int) bool {
			return beams[i].total() > beams[j].total()
		})
	}

	res := stateResult(beams[0], voc, cfg)
	if len(beams) > 1 {
		res.NBest = make([]*Result, len(beams))
		for i, s := range beams {
			res.NBest[i] = stateResult(s, voc, cfg)
		}
	}
	return res
}

func stateResult(s *beamState, voc *vocab.Vocab, cfg Config) *Result {
	ids := s.node.ids()
	tokens := voc.Decode(ids)
	return &Result{
		Text:     vocab.JoinTokens(tokens, cfg.WordLevel),
		Tokens:   tokens,
		TokenIDs: ids,
		LogScore: s.total(),
	}
}

func nextState(m map[*prefixNode]*beamState, node *prefixNode) *beamState {
	if s, ok := m[node]; ok {
		return s
	}
	s := &beamState{node: node, pb: mathutil.LogZero, pnb: mathutil.LogZero}
	m[node] = s
	return s
}

func pruneBeams(m map[*prefixNode]*beamState, dst []*beamState, width int) []*beamState {
	for _, s := range m {
		dst = append(dst, s)
	}
	sort.Slice(dst, func(i, j int) bool {
		return dst[i].total() > dst[j].total()
	})
	if len(dst) > width {
		dst = dst[:width]
	}
	return dst
}

func lmScore(lm *language.NGramModel, voc *vocab.Vocab, node *prefixNode, word string) float64 {
	p := lm.LogProb(lmHistory(voc, node), word)
	if p < lmFloor {
		p = lmFloor
	}
	return p
}

func lmHistory(voc *vocab.Vocab, node *prefixNode) []string {
	switch node.length {
	case 0:
		return []string{sentenceStart}
	case 1:
		return []string{sentenceStart, voc.Token(node.id)}
	}
	return []string{voc.Token(node.prev.id), voc.Token(node.id)}
}
