// Package mathutil has the log-domain arithmetic and lattice helpers
// shared by the model and decoder packages.
package mathutil

import "math"

// LogZero stands in for log(0) in log-domain sums.
const LogZero = -1e30

// logAddCutoff is where exp(d) drops below float64 resolution, so the
// smaller addend can no longer move the result.
const logAddCutoff = -36.0

// LogAdd returns log(exp(a)+exp(b)) without leaving the log domain.
func LogAdd(a, b float64) float64 {
	if a < b {
		a, b = b, a
	}
	if b == LogZero {
		return a
	}
	if d := b - a; d >= logAddCutoff {
		return a + math.Log1p(math.Exp(d))
	}
	return a
}
