//go:build !darwin || !cgo

package blas

import (
	"runtime"
	"sync"

	"github.com/klauspost/cpuid/v2"
)

// blockK is the k-dimension tile size. A blockK-row panel of B must stay
// resident in L1d across one row block of A, so the tile is sized from the
// detected cache and clamped to sane bounds when detection fails.
var blockK = 256

// parallelFlops is the m*n*k product above which Dgemm splits row blocks
// across goroutines. Below it the goroutine overhead dominates.
const parallelFlops = 1 << 18

func init() {
	if l1 := cpuid.CPU.Cache.L1D; l1 > 0 {
		bk := l1 / (2 * 8 * 32)
		if bk < 64 {
			bk = 64
		}
		if bk > 1024 {
			bk = 1024
		}
		blockK = bk
	}
}

// Dgemm performs C = alpha*op(A)*op(B) + beta*C in pure Go.
// All matrices are row-major. op(X) = X if trans=false, X^T if trans=true.
// Large products are tiled over k and split by row block across goroutines.
func Dgemm(transA, transB bool, m, n, k int,
	alpha float64, a []float64, lda int,
	b []float64, ldb int,
	beta float64, c []float64, ldc int) {

	if m <= 0 || n <= 0 {
		return
	}

	// Apply beta up front so the kernels only accumulate.
	if beta == 0 {
		for i := 0; i < m; i++ {
			row := c[i*ldc : i*ldc+n]
			for j := range row {
				row[j] = 0
			}
		}
	} else if beta != 1 {
		for i := 0; i < m; i++ {
			row := c[i*ldc : i*ldc+n]
			for j := range row {
				row[j] *= beta
			}
		}
	}
	if k <= 0 || alpha == 0 {
		return
	}

	workers := 1
	if m*n*k >= parallelFlops {
		workers = runtime.GOMAXPROCS(0)
		if workers > m {
			workers = m
		}
	}
	if workers <= 1 {
		dgemmRows(transA, transB, 0, m, n, k, alpha, a, lda, b, ldb, c, ldc)
		return
	}

	var wg sync.WaitGroup
	chunk := (m + workers - 1) / workers
	for i0 := 0; i0 < m; i0 += chunk {
		i1 := i0 + chunk
		if i1 > m {
			i1 = m
		}
		wg.Add(1)
		go func(i0, i1 int) {
			defer wg.Done()
			dgemmRows(transA, transB, i0, i1, n, k, alpha, a, lda, b, ldb, c, ldc)
		}(i0, i1)
	}
	wg.Wait()
}

// dgemmRows accumulates alpha*op(A)*op(B) into rows [i0,i1) of C.
func dgemmRows(transA, transB bool, i0, i1, n, k int,
	alpha float64, a []float64, lda int,
	b []float64, ldb int,
	c []float64, ldc int) {

	for p0 := 0; p0 < k; p0 += blockK {
		p1 := p0 + blockK
		if p1 > k {
			p1 = k
		}
		switch {
		case !transA && !transB:
			kernelNN(i0, i1, n, p0, p1, alpha, a, lda, b, ldb, c, ldc)
		case !transA && transB:
			kernelNT(i0, i1, n, p0, p1, alpha, a, lda, b, ldb, c, ldc)
		case transA && !transB:
			kernelTN(i0, i1, n, p0, p1, alpha, a, lda, b, ldb, c, ldc)
		default:
			kernelTT(i0, i1, n, p0, p1, alpha, a, lda, b, ldb, c, ldc)
		}
	}
}

// kernelNN: C[i][j] += alpha * A[i][p] * B[p][j]. Row-major streaming over
// B rows with the A element hoisted.
func kernelNN(i0, i1, n, p0, p1 int, alpha float64, a []float64, lda int, b []float64, ldb int, c []float64, ldc int) {
	for i := i0; i < i1; i++ {
		ci := c[i*ldc : i*ldc+n]
		for p := p0; p < p1; p++ {
			aip := alpha * a[i*lda+p]
			if aip == 0 {
				continue
			}
			bp := b[p*ldb : p*ldb+n]
			for j, bv := range bp {
				ci[j] += aip * bv
			}
		}
	}
}

// kernelNT: C[i][j] += alpha * A[i][p] * B[j][p]. Both operands are read
// along contiguous rows, so this reduces to row dot products.
func kernelNT(i0, i1, n, p0, p1 int, alpha float64, a []float64, lda int, b []float64, ldb int, c []float64, ldc int) {
	for i := i0; i < i1; i++ {
		ai := a[i*lda+p0 : i*lda+p1]
		ci := c[i*ldc : i*ldc+n]
		for j := 0; j < n; j++ {
			bj := b[j*ldb+p0 : j*ldb+p1]
			sum := 0.0
			for p, av := range ai {
				sum += av * bj[p]
			}
			ci[j] += alpha * sum
		}
	}
}

// kernelTN: C[i][j] += alpha * A[p][i] * B[p][j]. Iterates p outermost so
// both A and B are walked row by row; each worker touches only its C rows.
func kernelTN(i0, i1, n, p0, p1 int, alpha float64, a []float64, lda int, b []float64, ldb int, c []float64, ldc int) {
	for p := p0; p < p1; p++ {
		ap := a[p*lda:]
		bp := b[p*ldb : p*ldb+n]
		for i := i0; i < i1; i++ {
			aip := alpha * ap[i]
			if aip == 0 {
				continue
			}
			ci := c[i*ldc : i*ldc+n]
			for j, bv := range bp {
				ci[j] += aip * bv
			}
		}
	}
}

// kernelTT: C[i][j] += alpha * A[p][i] * B[j][p]. Rare combination, plain
// loop nest.
func kernelTT(i0, i1, n, p0, p1 int, alpha float64, a []float64, lda int, b []float64, ldb int, c []float64, ldc int) {
	for i := i0; i < i1; i++ {
		ci := c[i*ldc : i*ldc+n]
		for j := 0; j < n; j++ {
			bj := b[j*ldb:]
			sum := 0.0
			for p := p0; p < p1; p++ {
				sum += a[p*lda+i] * bj[p]
			}
			ci[j] += alpha * sum
		}
	}
}
