package model

import (
	"math"

	"github.com/sunilsivadas/neural-sp/internal/mathutil"
	"github.com/sunilsivadas/neural-sp/vocab"
)

// ctcLoss computes the negative log likelihood of the label sequence
// under the per-frame logits, plus an optional uniform label-smoothing
// term. When dLogits is non-nil it is filled with the gradient with
// respect to the logits. The second return is false when the utterance
// is too short to admit any alignment.
func ctcLoss(logits []float64, T, K int, labels []int, smoothing float64, dLogits []float64) (float64, bool) {
	L := len(labels)
	repeats := 0
	for i := 1; i < L; i++ {
		if labels[i] == labels[i-1] {
			repeats++
		}
	}
	if T < L+repeats {
		return 0, false
	}

	lp := make([]float64, T*K)
	copy(lp, logits)
	for t := 0; t < T; t++ {
		logSoftmaxRow(lp[t*K : (t+1)*K])
	}

	// Blank-extended label sequence, blanks interleaved around every
	// label.
	S := 2*L + 1
	ext := make([]int, S)
	for i := range ext {
		ext[i] = vocab.BlankID
	}
	for i, lab := range labels {
		ext[2*i+1] = lab
	}

	alpha := mathutil.NewMatFill(T, S, mathutil.LogZero)
	alpha[0][0] = lp[ext[0]]
	if S > 1 {
		alpha[0][1] = lp[ext[1]]
	}
	for t := 1; t < T; t++ {
		lpRow := lp[t*K : (t+1)*K]
		sLow, sHigh := stateBand(t, T, S)
		for s := sLow; s <= sHigh; s++ {
			sum := alpha[t-1][s]
			if s > 0 {
				sum = mathutil.LogAdd(sum, alpha[t-1][s-1])
			}
			if s > 1 && ext[s] != vocab.BlankID && ext[s] != ext[s-2] {
				sum = mathutil.LogAdd(sum, alpha[t-1][s-2])
			}
			if sum > mathutil.LogZero+1 {
				alpha[t][s] = sum + lpRow[ext[s]]
			}
		}
	}

	logP := alpha[T-1][S-1]
	if S > 1 {
		logP = mathutil.LogAdd(logP, alpha[T-1][S-2])
	}
	if logP <= mathutil.LogZero+1 {
		return 0, false
	}
	loss := -logP

	if dLogits != nil {
		// beta includes the emission at t, so alpha+beta double counts
		// it and the posterior divides it back out.
		beta := mathutil.NewMatFill(T, S, mathutil.LogZero)
		beta[T-1][S-1] = lp[(T-1)*K+ext[S-1]]
		if S > 1 {
			beta[T-1][S-2] = lp[(T-1)*K+ext[S-2]]
		}
		for t := T - 2; t >= 0; t-- {
			lpRow := lp[t*K : (t+1)*K]
			sLow, sHigh := stateBand(t, T, S)
			for s := sLow; s <= sHigh; s++ {
				sum := beta[t+1][s]
				if s < S-1 {
					sum = mathutil.LogAdd(sum, beta[t+1][s+1])
				}
				if s < S-2 && ext[s+2] != vocab.BlankID && ext[s+2] != ext[s] {
					sum = mathutil.LogAdd(sum, beta[t+1][s+2])
				}
				if sum > mathutil.LogZero+1 {
					beta[t][s] = sum + lpRow[ext[s]]
				}
			}
		}

		for t := 0; t < T; t++ {
			lpRow := lp[t*K : (t+1)*K]
			dRow := dLogits[t*K : (t+1)*K]
			for k := 0; k < K; k++ {
				dRow[k] = math.Exp(lpRow[k])
			}
			for s := 0; s < S; s++ {
				if alpha[t][s] <= mathutil.LogZero+1 || beta[t][s] <= mathutil.LogZero+1 {
					continue
				}
				dRow[ext[s]] -= math.Exp(alpha[t][s] + beta[t][s] - lpRow[ext[s]] - logP)
			}
		}
	}

	if smoothing > 0 {
		uni := 0.0
		for t := 0; t < T; t++ {
			rowSum := 0.0
			for _, v := range lp[t*K : (t+1)*K] {
				rowSum += v
			}
			uni -= rowSum / float64(K)
		}
		loss = (1-smoothing)*loss + smoothing*uni
		if dLogits != nil {
			invK := 1.0 / float64(K)
			for t := 0; t < T; t++ {
				lpRow := lp[t*K : (t+1)*K]
				dRow := dLogits[t*K : (t+1)*K]
				for k := range dRow {
					dRow[k] = (1-smoothing)*dRow[k] + smoothing*(math.Exp(lpRow[k])-invK)
				}
			}
		}
	}
	return loss, true
}

// stateBand returns the inclusive range of lattice states reachable at
// time t that can still reach a final state by T-1.
func stateBand(t, T, S int) (int, int) {
	low := S - 2*(T-t)
	if low < 0 {
		low = 0
	}
	high := 2*t + 1
	if high > S-1 {
		high = S - 1
	}
	return low, high
}

// logSoftmaxRow converts one row of logits to log probabilities in
// place.
func logSoftmaxRow(row []float64) {
	max := row[0]
	for _, v := range row[1:] {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	for _, v := range row {
		sum += math.Exp(v - max)
	}
	lse := max + math.Log(sum)
	for i := range row {
		row[i] -= lse
	}
}
