package ops

import "github.com/born-ml/keypoints/internal/tensor"

// Conv2DOp records a 2D convolution for autodiff.
//
// Forward: output = Conv2D(input, kernel, stride, padding)
//
// Backward:
//   - d_input:  transposed convolution of d_output with kernel
//   - d_kernel: correlation of input with d_output
//
// References:
//   - "A guide to convolution arithmetic for deep learning" (Dumoulin & Visin, 2016)
//   - Burn framework: crates/burn-autodiff/src/ops/module.rs (conv2d backward)
type Conv2DOp struct {
	binary
	stride  int
	padding int
}

// NewConv2DOp creates a new Conv2D operation.
func NewConv2DOp(input, kernel, output *tensor.RawTensor, stride, padding int) *Conv2DOp {
	return &Conv2DOp{
		binary:  binary{a: input, b: kernel, output: output},
		stride:  stride,
		padding: padding,
	}
}

// Backward delegates both gradients to the backend kernels.
func (op *Conv2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inputGrad := backend.Conv2DInputBackward(op.a, op.b, outputGrad, op.stride, op.padding)
	kernelGrad := backend.Conv2DKernelBackward(op.a, op.b, outputGrad, op.stride, op.padding)
	return []*tensor.RawTensor{inputGrad, kernelGrad}
}
