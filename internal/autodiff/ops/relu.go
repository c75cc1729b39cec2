package ops

import "github.com/born-ml/keypoints/internal/tensor"

// ReLUOp represents output = max(0, x).
//
// Backward pass: grad_x = outputGrad where x > 0, else 0.
type ReLUOp struct {
	unary
}

// NewReLUOp creates a new ReLUOp.
func NewReLUOp(input, output *tensor.RawTensor) *ReLUOp {
	return &ReLUOp{unary{input: input, output: output}}
}

// Backward computes the input gradient for ReLU.
func (op *ReLUOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.ReLUBackward(op.input, outputGrad)}
}
