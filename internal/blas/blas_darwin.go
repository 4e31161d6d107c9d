//go:build darwin && cgo

package blas

/*
#cgo CFLAGS: -DACCELERATE_NEW_LAPACK
#cgo LDFLAGS: -framework Accelerate
#include <Accelerate/Accelerate.h>
*/
import "C"
import "unsafe"

func cblasOp(transpose bool) C.enum_CBLAS_TRANSPOSE {
	if transpose {
		return C.CblasTrans
	}
	return C.CblasNoTrans
}

// Dgemm computes C = alpha*op(A)*op(B) + beta*C through Apple's
// Accelerate framework. Matrices are row-major with leading dimensions
// lda, ldb, ldc; op(X) transposes X when the corresponding trans flag
// is set, so A is m x k (or k x m transposed) and B is k x n (or n x k).
func Dgemm(transA, transB bool, m, n, k int,
	alpha float64, a []float64, lda int,
	b []float64, ldb int,
	beta float64, c []float64, ldc int) {

	C.cblas_dgemm(C.CblasRowMajor, cblasOp(transA), cblasOp(transB),
		C.int(m), C.int(n), C.int(k),
		C.double(alpha),
		(*C.double)(unsafe.Pointer(&a[0])), C.int(lda),
		(*C.double)(unsafe.Pointer(&b[0])), C.int(ldb),
		C.double(beta),
		(*C.double)(unsafe.Pointer(&c[0])), C.int(ldc))
}
