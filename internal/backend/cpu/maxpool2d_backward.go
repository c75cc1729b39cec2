package cpu

import (
	"fmt"

	"github.com/born-ml/keypoints/internal/tensor"
)

// MaxPool2DBackward computes gradient w.r.t. input for MaxPool2D.
//
// Gradients flow only to the positions that held the window maximum in the
// forward pass; every other input position receives zero.
//
//	Input:  [[1, 2],  Output: [4]  Input Grad: [[0, 0],
//	         [3, 4]]                             [0, grad]]
//
// References:
//   - Burn framework: crates/burn-autodiff/src/ops/module.rs (max_pool2d_backward)
//   - CS231n: Backprop for pooling layers
func (cpu *CPUBackend) MaxPool2DBackward(input, grad *tensor.RawTensor, maxIndices []int, _, _ int) *tensor.RawTensor {
	if len(maxIndices) != grad.NumElements() {
		tensor.Mismatch("maxpool2d_backward", "maxIndices length %d != gradient elements %d",
			len(maxIndices), grad.NumElements())
	}

	inputGrad := tensor.MustRaw("maxpool2d_backward", input.Shape(), grad.DType(), cpu.device)

	switch grad.DType() {
	case tensor.Float32:
		scatterAdd(inputGrad.AsFloat32(), grad.AsFloat32(), maxIndices)
	case tensor.Float64:
		scatterAdd(inputGrad.AsFloat64(), grad.AsFloat64(), maxIndices)
	default:
		panic(fmt.Sprintf("maxpool2d_backward: unsupported dtype %s", grad.DType()))
	}

	return inputGrad
}

// scatterAdd accumulates so overlapping windows (stride < kernel) that share
// a maximum both contribute.
func scatterAdd[F float32 | float64](dst, src []F, indices []int) {
	for i, idx := range indices {
		dst[idx] += src[i]
	}
}
