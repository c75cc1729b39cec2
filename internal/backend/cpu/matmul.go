package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/gonum/blas/blas64"

	"github.com/born-ml/keypoints/internal/tensor"
)

// MatMul performs matrix multiplication: (M, K) @ (K, N) -> (M, N).
func (cpu *CPUBackend) MatMul(a, b *tensor.RawTensor) *tensor.RawTensor {
	m, k, kAlt, n := matDims("matmul", a, b)
	if k != kAlt {
		tensor.Mismatch("matmul", "[%d,%d] @ [%d,%d]", m, k, kAlt, n)
	}
	return cpu.gemmRaw("matmul", a, b, false, m, n, k)
}

// MatMulTransB multiplies a by the transpose of b: (M, K) @ (N, K)ᵀ -> (M, N).
// This is the layout of a Linear layer's [out, in] weight.
func (cpu *CPUBackend) MatMulTransB(a, b *tensor.RawTensor) *tensor.RawTensor {
	m, k, n, kAlt := matDims("matmul_transb", a, b)
	if k != kAlt {
		tensor.Mismatch("matmul_transb", "[%d,%d] @ [%d,%d]ᵀ", m, k, n, kAlt)
	}
	return cpu.gemmRaw("matmul_transb", a, b, true, m, n, k)
}

func matDims(op string, a, b *tensor.RawTensor) (int, int, int, int) {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || len(bShape) != 2 {
		tensor.Mismatch(op, "only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape))
	}
	checkDType(op, a, b)
	return aShape[0], aShape[1], bShape[0], bShape[1]
}

func (cpu *CPUBackend) gemmRaw(op string, a, b *tensor.RawTensor, transB bool, m, n, k int) *tensor.RawTensor {
	result := tensor.MustRaw(op, tensor.Shape{m, n}, a.DType(), cpu.device)
	ldb := n
	if transB {
		ldb = k
	}
	switch a.DType() {
	case tensor.Float32:
		gemm(false, transB, m, n, k, 1, a.AsFloat32(), k, b.AsFloat32(), ldb, 0, result.AsFloat32(), n)
	case tensor.Float64:
		gemm(false, transB, m, n, k, 1, a.AsFloat64(), k, b.AsFloat64(), ldb, 0, result.AsFloat64(), n)
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", op, a.DType()))
	}
	return result
}

// gemm computes c = alpha*op(a)*op(b) + beta*c on row-major buffers, where
// op(a) is m×k and op(b) is k×n.
func gemm[F float32 | float64](
	transA, transB bool, m, n, k int,
	alpha F, a []F, lda int, b []F, ldb int,
	beta F, c []F, ldc int,
) {
	tA, tB := blas.NoTrans, blas.NoTrans
	if transA {
		tA = blas.Trans
	}
	if transB {
		tB = blas.Trans
	}
	switch a := any(a).(type) {
	case []float32:
		blas32.Implementation().Sgemm(tA, tB, m, n, k,
			float32(alpha), a, lda, any(b).([]float32), ldb,
			float32(beta), any(c).([]float32), ldc)
	case []float64:
		blas64.Implementation().Dgemm(tA, tB, m, n, k,
			float64(alpha), a, lda, any(b).([]float64), ldb,
			float64(beta), any(c).([]float64), ldc)
	}
}
