package language

import (
	"fmt"
	"io"
	"math"
	"sort"
)

// Builder counts N-grams from tokenized sentences and writes an ARPA
// model with Witten-Bell smoothing. Orders 2 and 3 are supported.
type Builder struct {
	order    int
	uniCount map[string]int
	biCount  map[[2]string]int
	triCount map[[3]string]int
}

// NewBuilder returns a builder for the given order, clamped to [2, 3].
func NewBuilder(order int) *Builder {
	if order < 2 {
		order = 2
	} else if order > 3 {
		order = 3
	}
	return &Builder{
		order:    order,
		uniCount: make(map[string]int),
		biCount:  make(map[[2]string]int),
		triCount: make(map[[3]string]int),
	}
}

// AddSentence counts the N-grams of one tokenized sentence wrapped in
// sentence start and end markers. Empty sentences are ignored.
func (b *Builder) AddSentence(words []string) {
	if len(words) == 0 {
		return
	}
	seq := make([]string, 0, len(words)+2)
	seq = append(seq, bosToken)
	seq = append(seq, words...)
	seq = append(seq, eosToken)

	for i, w := range seq {
		b.uniCount[w]++
		if i >= 1 {
			b.biCount[[2]string{seq[i-1], w}]++
		}
		if b.order >= 3 && i >= 2 {
			b.triCount[[3]string{seq[i-2], seq[i-1], w}]++
		}
	}
}

// follower is one observed continuation of a context.
type follower struct {
	word  string
	count int
}

// byContext groups N-gram counts under their history so backoff masses
// come from one pass instead of rescanning the full table per context.
type byContext[K comparable] struct {
	next  map[K][]follower
	total map[K]int
}

func groupBigrams(counts map[[2]string]int) byContext[string] {
	g := byContext[string]{next: make(map[string][]follower), total: make(map[string]int)}
	for key, c := range counts {
		g.next[key[0]] = append(g.next[key[0]], follower{key[1], c})
		g.total[key[0]] += c
	}
	return g
}

func groupTrigrams(counts map[[3]string]int) byContext[[2]string] {
	g := byContext[[2]string]{next: make(map[[2]string][]follower), total: make(map[[2]string]int)}
	for key, c := range counts {
		ctx := [2]string{key[0], key[1]}
		g.next[ctx] = append(g.next[ctx], follower{key[2], c})
		g.total[ctx] += c
	}
	return g
}

// wittenBell is the smoothed conditional C(h,w) / (N(h) + T(h)), where
// T counts the distinct continuations of h.
func wittenBell(count, contextTotal, contextTypes int) float64 {
	return float64(count) / float64(contextTotal+contextTypes)
}

// WriteARPA writes the accumulated counts as an ARPA model with
// Witten-Bell smoothed probabilities in log10, ready for LoadARPA.
func (b *Builder) WriteARPA(w io.Writer) error {
	uniTotal := 0
	for _, c := range b.uniCount {
		uniTotal += c
	}
	bi := groupBigrams(b.biCount)
	tri := groupTrigrams(b.triCount)

	uniProb := func(word string) float64 {
		return float64(b.uniCount[word]) / float64(uniTotal)
	}

	type entry struct {
		words   []string
		prob    float64
		backoff float64
	}

	// Unigrams: MLE probability plus the leftover-mass backoff weight
	// toward the bigrams that extend each word.
	unis := make([]entry, 0, len(b.uniCount))
	for word, count := range b.uniCount {
		e := entry{words: []string{word}, prob: math.Log10(float64(count) / float64(uniTotal))}
		if followers, ok := bi.next[word]; ok {
			n, t := bi.total[word], len(followers)
			seenSmoothed, seenRaw := 0.0, 0.0
			for _, f := range followers {
				seenSmoothed += wittenBell(f.count, n, t)
				seenRaw += uniProb(f.word)
			}
			if seenRaw < 1 {
				e.backoff = math.Log10((1 - seenSmoothed) / (1 - seenRaw))
			}
		}
		unis = append(unis, e)
	}

	// Bigrams, with backoff weights toward trigrams when order allows.
	bis := make([]entry, 0, len(b.biCount))
	for key, count := range b.biCount {
		h := key[0]
		e := entry{
			words: []string{key[0], key[1]},
			prob:  math.Log10(wittenBell(count, bi.total[h], len(bi.next[h]))),
		}
		if b.order >= 3 {
			ctx := key
			if followers, ok := tri.next[ctx]; ok {
				n, t := tri.total[ctx], len(followers)
				seenSmoothed, seenLower := 0.0, 0.0
				for _, f := range followers {
					seenSmoothed += wittenBell(f.count, n, t)
					lower := [2]string{ctx[1], f.word}
					if bc, ok := b.biCount[lower]; ok {
						seenLower += wittenBell(bc, bi.total[ctx[1]], len(bi.next[ctx[1]]))
					} else {
						seenLower += uniProb(f.word)
					}
				}
				if seenLower < 1 {
					e.backoff = math.Log10((1 - seenSmoothed) / (1 - seenLower))
				}
			}
		}
		bis = append(bis, e)
	}

	var tris []entry
	if b.order >= 3 {
		tris = make([]entry, 0, len(b.triCount))
		for key, count := range b.triCount {
			ctx := [2]string{key[0], key[1]}
			tris = append(tris, entry{
				words: []string{key[0], key[1], key[2]},
				prob:  math.Log10(wittenBell(count, tri.total[ctx], len(tri.next[ctx]))),
			})
		}
	}

	lexical := func(entries []entry) {
		sort.Slice(entries, func(i, j int) bool {
			a, b := entries[i].words, entries[j].words
			for k := range a {
				if a[k] != b[k] {
					return a[k] < b[k]
				}
			}
			return false
		})
	}
	lexical(unis)
	lexical(bis)
	lexical(tris)

	fmt.Fprintln(w, `\data\`)
	fmt.Fprintf(w, "ngram 1=%d\n", len(unis))
	fmt.Fprintf(w, "ngram 2=%d\n", len(bis))
	if len(tris) > 0 {
		fmt.Fprintf(w, "ngram 3=%d\n", len(tris))
	}
	fmt.Fprintln(w)

	writeSection := func(order int, entries []entry, withBackoff bool) {
		fmt.Fprintf(w, "\\%d-grams:\n", order)
		for _, e := range entries {
			fmt.Fprintf(w, "%.6f\t%s", e.prob, e.words[0])
			for _, word := range e.words[1:] {
				fmt.Fprintf(w, " %s", word)
			}
			if withBackoff && e.backoff != 0 {
				fmt.Fprintf(w, "\t%.6f", e.backoff)
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}
	writeSection(1, unis, true)
	writeSection(2, bis, b.order >= 3)
	if len(tris) > 0 {
		writeSection(3, tris, false)
	}

	fmt.Fprintln(w, `\end\`)
	return nil
}
