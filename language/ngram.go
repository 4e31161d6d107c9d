// Package language provides N-gram language models for shallow fusion
// during decoding: an ARPA reader, a Witten-Bell builder and backoff
// scoring over unigrams, bigrams and trigrams.
package language

import "github.com/sunilsivadas/neural-sp/internal/mathutil"

const (
	bosToken = "<s>"
	eosToken = "</s>"
)

// gram holds one entry's natural-log probability and backoff weight.
type gram struct {
	Prob    float64
	Backoff float64
}

// NGramModel scores words given their history with Katz-style backoff.
type NGramModel struct {
	Order    int
	Unigrams map[string]gram
	Bigrams  map[[2]string]gram
	Trigrams map[[3]string]gram
}

func newNGramModel(order int) *NGramModel {
	return &NGramModel{
		Order:    order,
		Unigrams: make(map[string]gram),
		Bigrams:  make(map[[2]string]gram),
		Trigrams: make(map[[3]string]gram),
	}
}

// LogProb returns the natural-log probability of word after history,
// backing off to shorter contexts when the full N-gram is unseen.
func (m *NGramModel) LogProb(history []string, word string) float64 {
	if m.Order >= 3 && len(history) >= 2 {
		h1, h2 := history[len(history)-2], history[len(history)-1]
		if g, ok := m.Trigrams[[3]string{h1, h2, word}]; ok {
			return g.Prob
		}
		if g, ok := m.Bigrams[[2]string{h1, h2}]; ok {
			return g.Backoff + m.bigramProb(h2, word)
		}
	}
	if m.Order >= 2 && len(history) >= 1 {
		return m.bigramProb(history[len(history)-1], word)
	}
	return m.unigramProb(word)
}

func (m *NGramModel) bigramProb(prev, word string) float64 {
	if g, ok := m.Bigrams[[2]string{prev, word}]; ok {
		return g.Prob
	}
	if g, ok := m.Unigrams[prev]; ok {
		return g.Backoff + m.unigramProb(word)
	}
	return m.unigramProb(word)
}

func (m *NGramModel) unigramProb(word string) float64 {
	if g, ok := m.Unigrams[word]; ok {
		return g.Prob
	}
	return mathutil.LogZero
}

// SentenceLogProb scores a whole sentence, wrapping it in the sentence
// start and end markers.
func (m *NGramModel) SentenceLogProb(words []string) float64 {
	history := make([]string, 1, len(words)+1)
	history[0] = bosToken

	total := 0.0
	for _, w := range words {
		total += m.LogProb(history, w)
		history = append(history, w)
	}
	return total + m.LogProb(history, eosToken)
}

// Vocab lists every word with a unigram entry.
func (m *NGramModel) Vocab() []string {
	words := make([]string, 0, len(m.Unigrams))
	for w := range m.Unigrams {
		words = append(words, w)
	}
	return words
}
