package metrics

import (
	"strings"

	"github.com/sunilsivadas/neural-sp/vocab"
)

// EditDistance computes the Levenshtein edit distance between two
// token sequences.
func EditDistance(a, b []string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	// Use single-row DP to save memory.
	prev := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}

	for i := 1; i <= la; i++ {
		cur := make([]int, lb+1)
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			cur[j] = m
		}
		prev = cur
	}
	return prev[lb]
}

// EditStats breaks an alignment into error types against a reference.
type EditStats struct {
	Sub    int
	Ins    int
	Del    int
	RefLen int
}

// Errors returns the total error count.
func (e EditStats) Errors() int { return e.Sub + e.Ins + e.Del }

// Rate returns the error rate relative to the reference length.
func (e EditStats) Rate() float64 {
	if e.RefLen == 0 {
		return float64(e.Errors())
	}
	return float64(e.Errors()) / float64(e.RefLen)
}

func (e *EditStats) add(o EditStats) {
	e.Sub += o.Sub
	e.Ins += o.Ins
	e.Del += o.Del
	e.RefLen += o.RefLen
}

// AlignStats aligns hyp against ref and counts substitutions,
// insertions, and deletions. The backtrace prefers matches, then
// substitutions, then deletions, so the breakdown is deterministic.
func AlignStats(ref, hyp []string) EditStats {
	la, lb := len(ref), len(hyp)
	w := lb + 1
	dp := make([]int, (la+1)*w)
	for j := 0; j <= lb; j++ {
		dp[j] = j
	}
	for i := 1; i <= la; i++ {
		dp[i*w] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ref[i-1] == hyp[j-1] {
				cost = 0
			}
			del := dp[(i-1)*w+j] + 1
			ins := dp[i*w+j-1] + 1
			sub := dp[(i-1)*w+j-1] + cost
			m := sub
			if del < m {
				m = del
			}
			if ins < m {
				m = ins
			}
			dp[i*w+j] = m
		}
	}

	st := EditStats{RefLen: la}
	i, j := la, lb
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && dp[i*w+j] == dp[(i-1)*w+j-1] && ref[i-1] == hyp[j-1]:
			i--
			j--
		case i > 0 && j > 0 && dp[i*w+j] == dp[(i-1)*w+j-1]+1:
			st.Sub++
			i--
			j--
		case i > 0 && dp[i*w+j] == dp[(i-1)*w+j]+1:
			st.Del++
			i--
		default:
			st.Ins++
			j--
		}
	}
	return st
}

// CER returns the character error rate between reference and
// hypothesis text. Both sides are kana-normalized with whitespace
// dropped, so word and character level transcripts compare equal.
func CER(ref, hyp string) float64 {
	return AlignStats(charTokens(ref), charTokens(hyp)).Rate()
}

// WER returns the word error rate over whitespace-separated fields.
func WER(ref, hyp string) float64 {
	return AlignStats(strings.Fields(ref), strings.Fields(hyp)).Rate()
}

func charTokens(s string) []string {
	return vocab.SplitKana(vocab.NormalizeKana(s))
}
