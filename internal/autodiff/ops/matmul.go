package ops

import "github.com/born-ml/keypoints/internal/tensor"

// MatMulOp represents a matrix multiplication: output = a @ b.
//
// Backward pass:
//   - grad_a = outputGrad @ bᵀ
//   - grad_b = aᵀ @ outputGrad
type MatMulOp struct {
	binary
}

// NewMatMulOp creates a new MatMulOp.
func NewMatMulOp(a, b, output *tensor.RawTensor) *MatMulOp {
	return &MatMulOp{binary{a: a, b: b, output: output}}
}

// Backward computes input gradients for matrix multiplication.
func (op *MatMulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	gradA := backend.MatMulTransB(outputGrad, op.b)
	gradB := backend.MatMul(backend.Transpose(op.a, 1, 0), outputGrad)
	return []*tensor.RawTensor{gradA, gradB}
}

// MatMulTransBOp represents output = a @ bᵀ, the Linear layer product with
// a [out, in] weight.
//
// Backward pass:
//   - grad_a = outputGrad @ b
//   - grad_b = outputGradᵀ @ a
type MatMulTransBOp struct {
	binary
}

// NewMatMulTransBOp creates a new MatMulTransBOp.
func NewMatMulTransBOp(a, b, output *tensor.RawTensor) *MatMulTransBOp {
	return &MatMulTransBOp{binary{a: a, b: b, output: output}}
}

// Backward computes input gradients for a @ bᵀ.
func (op *MatMulTransBOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	gradA := backend.MatMul(outputGrad, op.b)
	gradB := backend.MatMul(backend.Transpose(outputGrad, 1, 0), op.a)
	return []*tensor.RawTensor{gradA, gradB}
}
