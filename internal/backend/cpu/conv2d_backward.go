package cpu

import (
	"fmt"
	"sync"

	"github.com/born-ml/keypoints/internal/parallel"
	"github.com/born-ml/keypoints/internal/tensor"
)

// Conv2DInputBackward computes the gradient w.r.t. the convolution input.
//
// Per sample: dcol = kernelᵀ @ grad, then col2im scatters dcol back onto the
// input positions each column was read from.
//
// References:
//   - Burn framework: crates/burn-autodiff/src/ops/module.rs (conv2d_x_backward)
//   - "A guide to convolution arithmetic for deep learning" (Dumoulin & Visin, 2016)
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeom(input, kernel, stride, padding)
	checkConvGrad("conv2d_input_backward", grad, g)

	inputGrad := tensor.MustRaw("conv2d_input_backward", input.Shape(), grad.DType(), cpu.device)

	switch grad.DType() {
	case tensor.Float32:
		conv2dInputBackward(inputGrad.AsFloat32(), kernel.AsFloat32(), grad.AsFloat32(), g, cpu.par)
	case tensor.Float64:
		conv2dInputBackward(inputGrad.AsFloat64(), kernel.AsFloat64(), grad.AsFloat64(), g, cpu.par)
	default:
		panic(fmt.Sprintf("conv2d_input_backward: unsupported dtype %s", grad.DType()))
	}
	return inputGrad
}

// Conv2DKernelBackward computes the gradient w.r.t. the convolution kernel:
// the sum over samples of grad @ colᵀ.
func (cpu *CPUBackend) Conv2DKernelBackward(input, kernel, grad *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeom(input, kernel, stride, padding)
	checkConvGrad("conv2d_kernel_backward", grad, g)

	kernelGrad := tensor.MustRaw("conv2d_kernel_backward", kernel.Shape(), grad.DType(), cpu.device)

	switch grad.DType() {
	case tensor.Float32:
		conv2dKernelBackward(kernelGrad.AsFloat32(), input.AsFloat32(), grad.AsFloat32(), g, cpu.par)
	case tensor.Float64:
		conv2dKernelBackward(kernelGrad.AsFloat64(), input.AsFloat64(), grad.AsFloat64(), g, cpu.par)
	default:
		panic(fmt.Sprintf("conv2d_kernel_backward: unsupported dtype %s", grad.DType()))
	}
	return kernelGrad
}

func checkConvGrad(op string, grad *tensor.RawTensor, g convGeom) {
	want := tensor.Shape{g.N, g.COut, g.HOut, g.WOut}
	if !grad.Shape().Equal(want) {
		tensor.Mismatch(op, "gradient shape %v, expected %v", grad.Shape(), want)
	}
}

func conv2dInputBackward[F float32 | float64](inGrad, kernel, grad []F, g convGeom, par parallel.Config) {
	inSize := g.CIn * g.H * g.W
	outSize := g.COut * g.positions()
	k, hw := g.patch(), g.positions()

	parallel.Range(g.N, func(start, end int) {
		dcol := make([]F, k*hw)
		for n := start; n < end; n++ {
			// dcol[k, hw] = kernelᵀ[k, COut] @ grad[COut, hw]
			gemm(true, false, k, hw, g.COut,
				1, kernel, k, grad[n*outSize:(n+1)*outSize], hw,
				0, dcol, hw)
			col2im(inGrad[n*inSize:(n+1)*inSize], dcol, g)
		}
	}, par.Coarse())
}

func conv2dKernelBackward[F float32 | float64](kGrad, in, grad []F, g convGeom, par parallel.Config) {
	inSize := g.CIn * g.H * g.W
	outSize := g.COut * g.positions()
	k, hw := g.patch(), g.positions()

	var mu sync.Mutex
	parallel.Range(g.N, func(start, end int) {
		col := make([]F, k*hw)
		partial := make([]F, len(kGrad))
		for n := start; n < end; n++ {
			im2col(col, in[n*inSize:(n+1)*inSize], g)
			// partial[COut, k] += grad[COut, hw] @ colᵀ[hw, k]
			gemm(false, true, g.COut, k, hw,
				1, grad[n*outSize:(n+1)*outSize], hw, col, hw,
				1, partial, k)
		}
		mu.Lock()
		for i, v := range partial {
			kGrad[i] += v
		}
		mu.Unlock()
	}, par.Coarse())
}
