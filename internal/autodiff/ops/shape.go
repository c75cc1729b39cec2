package ops

import "github.com/born-ml/keypoints/internal/tensor"

// ReshapeOp records a reshape. Its gradient is the output gradient viewed
// in the input's shape.
type ReshapeOp struct {
	unary
}

// NewReshapeOp creates a new ReshapeOp.
func NewReshapeOp(input, output *tensor.RawTensor) *ReshapeOp {
	return &ReshapeOp{unary{input: input, output: output}}
}

// Backward reshapes outputGrad back to the input shape.
func (op *ReshapeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Reshape(outputGrad, op.input.Shape())}
}

// TransposeOp records a permutation of dimensions. Its gradient is the
// output gradient permuted by the inverse axes.
type TransposeOp struct {
	unary
	axes []int
}

// NewTransposeOp creates a new TransposeOp. axes must be the full
// permutation used in the forward pass.
func NewTransposeOp(input, output *tensor.RawTensor, axes []int) *TransposeOp {
	return &TransposeOp{unary: unary{input: input, output: output}, axes: append([]int(nil), axes...)}
}

// Backward computes the input gradient for transpose.
func (op *TransposeOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inverse := make([]int, len(op.axes))
	for i, ax := range op.axes {
		inverse[ax] = i
	}
	return []*tensor.RawTensor{backend.Transpose(outputGrad, inverse...)}
}
