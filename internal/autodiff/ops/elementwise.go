package ops

import "github.com/born-ml/keypoints/internal/tensor"

// AddOp represents an element-wise addition: output = a + b.
//
// Backward pass:
//   - grad_a = outputGrad
//   - grad_b = outputGrad
//
// Gradients of broadcast inputs (a conv bias of shape [1, C, 1, 1], say) are
// summed over the broadcast dimensions.
type AddOp struct {
	binary
}

// NewAddOp creates a new AddOp.
func NewAddOp(a, b, output *tensor.RawTensor) *AddOp {
	return &AddOp{binary{a: a, b: b, output: output}}
}

// Backward computes input gradients for addition.
func (op *AddOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		reduceBroadcast(outputGrad, op.a.Shape()),
		reduceBroadcast(outputGrad, op.b.Shape()),
	}
}

// MulOp represents an element-wise multiplication: output = a * b.
//
// Backward pass:
//   - grad_a = outputGrad * b
//   - grad_b = outputGrad * a
type MulOp struct {
	binary
}

// NewMulOp creates a new MulOp.
func NewMulOp(a, b, output *tensor.RawTensor) *MulOp {
	return &MulOp{binary{a: a, b: b, output: output}}
}

// Backward computes input gradients for multiplication.
func (op *MulOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	gradA := reduceBroadcast(backend.Mul(outputGrad, op.b), op.a.Shape())
	gradB := reduceBroadcast(backend.Mul(outputGrad, op.a), op.b.Shape())
	return []*tensor.RawTensor{gradA, gradB}
}
