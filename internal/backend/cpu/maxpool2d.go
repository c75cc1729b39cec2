package cpu

import (
	"fmt"

	"github.com/born-ml/keypoints/internal/parallel"
	"github.com/born-ml/keypoints/internal/tensor"
)

// MaxPool2D performs 2D max pooling without padding.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, out_height, out_width]
//
// Where:
//
//	out_height = (height - kernelSize) / stride + 1
//	out_width = (width - kernelSize) / stride + 1
//
// Trailing rows or columns that do not fill a window are dropped.
//
// Example (2x2 pool, stride=2):
//
//	Input: [[1,2,3,4],    Output: [[6,8],
//	        [5,6,7,8],             [14,16]]
//	        [9,10,11,12],
//	        [13,14,15,16]]
func (cpu *CPUBackend) MaxPool2D(input *tensor.RawTensor, kernelSize, stride int) *tensor.RawTensor {
	N, C, H, W, HOut, WOut := poolDims(input, kernelSize, stride)

	output := tensor.MustRaw("maxpool2d", tensor.Shape{N, C, HOut, WOut}, input.DType(), cpu.device)

	switch input.DType() {
	case tensor.Float32:
		maxpool2d(output.AsFloat32(), input.AsFloat32(), N*C, H, W, HOut, WOut, kernelSize, stride, cpu.par)
	case tensor.Float64:
		maxpool2d(output.AsFloat64(), input.AsFloat64(), N*C, H, W, HOut, WOut, kernelSize, stride, cpu.par)
	default:
		panic(fmt.Sprintf("maxpool2d: unsupported dtype %v", input.DType()))
	}

	return output
}

func poolDims(input *tensor.RawTensor, kernelSize, stride int) (N, C, H, W, HOut, WOut int) {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		tensor.Mismatch("maxpool2d", "expected 4D input [N,C,H,W], got %dD %v", len(inputShape), inputShape)
	}
	if kernelSize <= 0 || stride <= 0 {
		tensor.Mismatch("maxpool2d", "invalid kernel size %d or stride %d", kernelSize, stride)
	}

	N, C, H, W = inputShape[0], inputShape[1], inputShape[2], inputShape[3]
	if kernelSize > H || kernelSize > W {
		tensor.Mismatch("maxpool2d", "kernel size %d too large for input %dx%d", kernelSize, H, W)
	}
	HOut = (H-kernelSize)/stride + 1
	WOut = (W-kernelSize)/stride + 1
	return N, C, H, W, HOut, WOut
}

// maxpool2d pools planes = N*C channel planes.
func maxpool2d[F float32 | float64](out, in []F, planes, H, W, HOut, WOut, kernelSize, stride int, par parallel.Config) {
	parallel.Range(planes, func(start, end int) {
		for p := start; p < end; p++ {
			planeOff := p * H * W
			plane := in[planeOff : planeOff+H*W]
			o := p * HOut * WOut
			for outH := 0; outH < HOut; outH++ {
				hStart := outH * stride
				for outW := 0; outW < WOut; outW++ {
					wStart := outW * stride

					maxVal := plane[hStart*W+wStart]
					for kh := 0; kh < kernelSize; kh++ {
						row := plane[(hStart+kh)*W : (hStart+kh+1)*W]
						for kw := 0; kw < kernelSize; kw++ {
							if v := row[wStart+kw]; v > maxVal {
								maxVal = v
							}
						}
					}
					out[o] = maxVal
					o++
				}
			}
		}
	}, par.Coarse())
}
