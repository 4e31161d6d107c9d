package model

import (
	"math"
	"math/rand"
	"testing"

	"github.com/sunilsivadas/neural-sp/internal/mathutil"
	"github.com/sunilsivadas/neural-sp/vocab"
)

func randLogits(T, K int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	logits := make([]float64, T*K)
	for i := range logits {
		logits[i] = rng.NormFloat64()
	}
	return logits
}

func logProbRows(logits []float64, T, K int) [][]float64 {
	lp := make([][]float64, T)
	for t := range lp {
		row := make([]float64, K)
		copy(row, logits[t*K:(t+1)*K])
		logSoftmaxRow(row)
		lp[t] = row
	}
	return lp
}

// collapsePath merges repeated symbols and then removes blanks.
func collapsePath(path []int) []int {
	var out []int
	prev := -1
	for _, p := range path {
		if p != prev && p != vocab.BlankID {
			out = append(out, p)
		}
		prev = p
	}
	return out
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// bruteForceCTC sums the probability of every frame path that
// collapses to the label sequence.
func bruteForceCTC(lp [][]float64, labels []int) float64 {
	T := len(lp)
	K := len(lp[0])
	total := mathutil.LogZero
	path := make([]int, T)
	var walk func(t int, acc float64)
	walk = func(t int, acc float64) {
		if t == T {
			if equalInts(collapsePath(path), labels) {
				total = mathutil.LogAdd(total, acc)
			}
			return
		}
		for k := 0; k < K; k++ {
			path[t] = k
			walk(t+1, acc+lp[t][k])
		}
	}
	walk(0, 0)
	return -total
}

func TestCTCLoss_SingleFrame(t *testing.T) {
	K := 3
	logits := randLogits(1, K, 11)
	lp := logProbRows(logits, 1, K)

	dLogits := make([]float64, K)
	loss, ok := ctcLoss(logits, 1, K, []int{1}, 0, dLogits)
	if !ok {
		t.Fatal("single frame with one label should be feasible")
	}
	if math.Abs(loss-(-lp[0][1])) > 1e-12 {
		t.Errorf("loss = %v, want %v", loss, -lp[0][1])
	}
	// Gradient reduces to softmax minus the one-hot label.
	for k := 0; k < K; k++ {
		want := math.Exp(lp[0][k])
		if k == 1 {
			want -= 1
		}
		if math.Abs(dLogits[k]-want) > 1e-12 {
			t.Errorf("dLogits[%d] = %v, want %v", k, dLogits[k], want)
		}
	}
}

func TestCTCLoss_MatchesBruteForce(t *testing.T) {
	tests := []struct {
		name   string
		T      int
		labels []int
	}{
		{"one label", 4, []int{1}},
		{"two labels", 4, []int{1, 2}},
		{"three labels", 4, []int{2, 1, 2}},
		{"repeated label", 4, []int{1, 1}},
		{"tight fit", 3, []int{1, 1}},
	}
	K := 3
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logits := randLogits(tt.T, K, 17)
			loss, ok := ctcLoss(logits, tt.T, K, tt.labels, 0, nil)
			if !ok {
				t.Fatal("expected feasible alignment")
			}
			want := bruteForceCTC(logProbRows(logits, tt.T, K), tt.labels)
			if math.Abs(loss-want) > 1e-10 {
				t.Errorf("loss = %v, brute force = %v", loss, want)
			}
		})
	}
}

func TestCTCLoss_Infeasible(t *testing.T) {
	K := 3
	logits := randLogits(2, K, 23)
	if _, ok := ctcLoss(logits, 1, K, []int{1, 2}, 0, nil); ok {
		t.Error("one frame cannot carry two labels")
	}
	if _, ok := ctcLoss(logits, 2, K, []int{1, 1}, 0, nil); ok {
		t.Error("repeated label needs a separating blank frame")
	}
	if _, ok := ctcLoss(logits, 2, K, []int{1, 2}, 0, nil); !ok {
		t.Error("two frames for two distinct labels should be feasible")
	}
}

func ctcGradientCheck(t *testing.T, T, K int, labels []int, smoothing float64) {
	t.Helper()
	logits := randLogits(T, K, 31)
	dLogits := make([]float64, T*K)
	if _, ok := ctcLoss(logits, T, K, labels, smoothing, dLogits); !ok {
		t.Fatal("expected feasible alignment")
	}

	eps := 1e-5
	maxRelErr := 0.0
	for i := range logits {
		orig := logits[i]
		logits[i] = orig + eps
		plus, _ := ctcLoss(logits, T, K, labels, smoothing, nil)
		logits[i] = orig - eps
		minus, _ := ctcLoss(logits, T, K, labels, smoothing, nil)
		logits[i] = orig
		num := (plus - minus) / (2 * eps)
		diff := math.Abs(num - dLogits[i])
		denom := math.Max(math.Abs(num)+math.Abs(dLogits[i]), 1e-8)
		if rel := diff / denom; rel > maxRelErr {
			maxRelErr = rel
		}
	}
	if maxRelErr > 0.01 {
		t.Errorf("gradient check failed: max relative error = %e", maxRelErr)
	}
}

func TestCTCLoss_GradientCheck(t *testing.T) {
	ctcGradientCheck(t, 5, 3, []int{1, 2}, 0)
}

func TestCTCLoss_GradientCheck_Smoothing(t *testing.T) {
	ctcGradientCheck(t, 5, 3, []int{1, 2}, 0.1)
}

func TestLogSoftmaxRow(t *testing.T) {
	row := []float64{1, 2, 3, 400}
	logSoftmaxRow(row)
	sum := 0.0
	for _, v := range row {
		sum += math.Exp(v)
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Errorf("probabilities sum to %v, want 1", sum)
	}
	if row[3] > 0 || row[3] < -1e-6 {
		t.Errorf("dominant logit log prob = %v, want about 0", row[3])
	}
}
