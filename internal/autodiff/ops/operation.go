// Package ops defines the differentiable operations recorded on a gradient
// tape.
//
// Each operation keeps the raw tensors it needs for its backward pass and
// computes input gradients from the output gradient:
//   - AddOp, MulOp: element-wise with broadcasting
//   - MatMulOp, MatMulTransBOp: 2D matrix products
//   - ReshapeOp, TransposeOp: layout changes
//   - Conv2DOp, MaxPool2DOp, ReLUOp: the CNN layers
package ops

import "github.com/born-ml/keypoints/internal/tensor"

// Operation represents a differentiable operation in the computation graph.
type Operation interface {
	// Backward returns one gradient per input, in Inputs order. A nil entry
	// means no gradient flows to that input.
	Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.RawTensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.RawTensor
}

// unary holds the bookkeeping shared by single-input operations.
type unary struct {
	input  *tensor.RawTensor
	output *tensor.RawTensor
}

// Inputs returns the input tensor.
func (u unary) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{u.input}
}

// Output returns the output tensor.
func (u unary) Output() *tensor.RawTensor {
	return u.output
}

// binary holds the bookkeeping shared by two-input operations.
type binary struct {
	a, b   *tensor.RawTensor
	output *tensor.RawTensor
}

// Inputs returns the input tensors [a, b].
func (o binary) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{o.a, o.b}
}

// Output returns the output tensor.
func (o binary) Output() *tensor.RawTensor {
	return o.output
}
