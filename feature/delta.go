package feature

const deltaWindow = 2

// Delta computes regression coefficients over a +-N frame window,
// d[t] = sum_n n*(c[t+n]-c[t-n]) / (2*sum_n n^2), clamping at the
// edges so the first and last frames reuse their nearest neighbor.
func Delta(features [][]float64, N int) [][]float64 {
	T := len(features)
	if T == 0 {
		return nil
	}
	dim := len(features[0])

	norm := 0.0
	for n := 1; n <= N; n++ {
		norm += float64(2 * n * n)
	}

	backing := make([]float64, T*dim)
	out := make([][]float64, T)
	for t := range out {
		row := backing[t*dim : (t+1)*dim]
		for n := 1; n <= N; n++ {
			hi, lo := t+n, t-n
			if hi > T-1 {
				hi = T - 1
			}
			if lo < 0 {
				lo = 0
			}
			ahead, behind := features[hi], features[lo]
			w := float64(n)
			for d := 0; d < dim; d++ {
				row[d] += w * (ahead[d] - behind[d])
			}
		}
		for d := 0; d < dim; d++ {
			row[d] /= norm
		}
		out[t] = row
	}
	return out
}

// AppendDeltas widens [T][D] frames to [T][3*D] by appending delta and
// delta-delta columns.
func AppendDeltas(features [][]float64) [][]float64 {
	d1 := Delta(features, deltaWindow)
	d2 := Delta(d1, deltaWindow)

	T := len(features)
	dim := len(features[0])
	backing := make([]float64, T*3*dim)
	out := make([][]float64, T)
	for t := range out {
		row := backing[t*3*dim : (t+1)*3*dim]
		copy(row, features[t])
		copy(row[dim:], d1[t])
		copy(row[2*dim:], d2[t])
		out[t] = row
	}
	return out
}
