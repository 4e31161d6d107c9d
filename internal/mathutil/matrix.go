package mathutil

// NewMat allocates a rows x cols zero matrix over one contiguous
// backing slice.
func NewMat(rows, cols int) [][]float64 {
	backing := make([]float64, rows*cols)
	m := make([][]float64, rows)
	for i := range m {
		m[i] = backing[i*cols : (i+1)*cols]
	}
	return m
}

// NewMatFill allocates a rows x cols matrix with every cell set to val.
func NewMatFill(rows, cols int, val float64) [][]float64 {
	backing := make([]float64, rows*cols)
	for i := range backing {
		backing[i] = val
	}
	m := make([][]float64, rows)
	for i := range m {
		m[i] = backing[i*cols : (i+1)*cols]
	}
	return m
}
