package cpu

import (
	"fmt"

	"github.com/born-ml/keypoints/internal/parallel"
	"github.com/born-ml/keypoints/internal/tensor"
)

// convGeom holds the dimensions of one Conv2D call.
type convGeom struct {
	N, CIn, H, W    int
	COut, KH, KW    int
	HOut, WOut      int
	stride, padding int
}

// patch is the number of input values feeding one output element.
func (g convGeom) patch() int { return g.CIn * g.KH * g.KW }

// positions is the number of output positions per channel.
func (g convGeom) positions() int { return g.HOut * g.WOut }

func newConvGeom(input, kernel *tensor.RawTensor, stride, padding int) convGeom {
	inputShape := input.Shape()
	kernelShape := kernel.Shape()

	if len(inputShape) != 4 {
		tensor.Mismatch("conv2d", "input must be 4D [N,C,H,W], got %dD %v", len(inputShape), inputShape)
	}
	if len(kernelShape) != 4 {
		tensor.Mismatch("conv2d", "kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", len(kernelShape))
	}
	if stride <= 0 || padding < 0 {
		tensor.Mismatch("conv2d", "invalid stride %d or padding %d", stride, padding)
	}
	checkDType("conv2d", input, kernel)

	g := convGeom{
		N: inputShape[0], CIn: inputShape[1], H: inputShape[2], W: inputShape[3],
		COut: kernelShape[0], KH: kernelShape[2], KW: kernelShape[3],
		stride: stride, padding: padding,
	}
	if g.CIn != kernelShape[1] {
		tensor.Mismatch("conv2d", "input channels %d != kernel channels %d", g.CIn, kernelShape[1])
	}

	g.HOut = (g.H+2*padding-g.KH)/stride + 1
	g.WOut = (g.W+2*padding-g.KW)/stride + 1
	if g.H+2*padding < g.KH || g.W+2*padding < g.KW {
		tensor.Mismatch("conv2d", "kernel %dx%d larger than padded input %dx%d",
			g.KH, g.KW, g.H+2*padding, g.W+2*padding)
	}
	return g
}

// Conv2D performs 2D convolution using the im2col algorithm.
//
// Input shape: [batch, in_channels, height, width]
// Kernel shape: [out_channels, in_channels, kernel_h, kernel_w]
// Output shape: [batch, out_channels, out_h, out_w]
//
// For each sample the input patches are unrolled into a
// [C_in*K_h*K_w, H_out*W_out] column matrix, and the output plane is the
// single GEMM kernel[C_out, C_in*K_h*K_w] @ col. Samples run in parallel.
//
// Reference: "High Performance Convolutional Neural Networks for Document Processing"
// (Chellapilla et al., 2006).
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.RawTensor, stride, padding int) *tensor.RawTensor {
	g := newConvGeom(input, kernel, stride, padding)

	output := tensor.MustRaw("conv2d", tensor.Shape{g.N, g.COut, g.HOut, g.WOut}, input.DType(), cpu.device)

	switch input.DType() {
	case tensor.Float32:
		conv2d(output.AsFloat32(), input.AsFloat32(), kernel.AsFloat32(), g, cpu.par)
	case tensor.Float64:
		conv2d(output.AsFloat64(), input.AsFloat64(), kernel.AsFloat64(), g, cpu.par)
	default:
		panic(fmt.Sprintf("conv2d: unsupported dtype %s", input.DType()))
	}

	return output
}

func conv2d[F float32 | float64](out, in, kernel []F, g convGeom, par parallel.Config) {
	inSize := g.CIn * g.H * g.W
	outSize := g.COut * g.positions()
	k, hw := g.patch(), g.positions()

	parallel.Range(g.N, func(start, end int) {
		col := make([]F, k*hw)
		for n := start; n < end; n++ {
			im2col(col, in[n*inSize:(n+1)*inSize], g)
			gemm(false, false, g.COut, hw, k,
				1, kernel, k, col, hw,
				0, out[n*outSize:(n+1)*outSize], hw)
		}
	}, par.Coarse())
}

// im2col unrolls one sample [C, H, W] into col [C*K_h*K_w, H_out*W_out].
// Row r = (c, kh, kw) holds the input value under that kernel tap for every
// output position; out-of-bounds taps read as zero padding.
func im2col[F float32 | float64](col, in []F, g convGeom) {
	hw := g.positions()
	row := 0
	for c := 0; c < g.CIn; c++ {
		plane := in[c*g.H*g.W : (c+1)*g.H*g.W]
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				dst := col[row*hw : (row+1)*hw]
				i := 0
				for oh := 0; oh < g.HOut; oh++ {
					h := oh*g.stride - g.padding + kh
					for ow := 0; ow < g.WOut; ow++ {
						w := ow*g.stride - g.padding + kw
						if h >= 0 && h < g.H && w >= 0 && w < g.W {
							dst[i] = plane[h*g.W+w]
						} else {
							dst[i] = 0
						}
						i++
					}
				}
				row++
			}
		}
	}
}

// col2im is the adjoint of im2col: it accumulates col back into one sample.
func col2im[F float32 | float64](in, col []F, g convGeom) {
	hw := g.positions()
	row := 0
	for c := 0; c < g.CIn; c++ {
		plane := in[c*g.H*g.W : (c+1)*g.H*g.W]
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				src := col[row*hw : (row+1)*hw]
				i := 0
				for oh := 0; oh < g.HOut; oh++ {
					h := oh*g.stride - g.padding + kh
					for ow := 0; ow < g.WOut; ow++ {
						w := ow*g.stride - g.padding + kw
						if h >= 0 && h < g.H && w >= 0 && w < g.W {
							plane[h*g.W+w] += src[i]
						}
						i++
					}
				}
				row++
			}
		}
	}
}
