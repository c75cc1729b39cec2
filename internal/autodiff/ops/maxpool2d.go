package ops

import (
	"fmt"

	"github.com/born-ml/keypoints/internal/tensor"
)

// MaxPool2DOp records a max pooling operation for autodiff.
//
// The gradient of each output element flows to the single input position
// that held the window maximum; the rest of the window gets zero.
type MaxPool2DOp struct {
	unary
	maxIndices []int // flat input index of each output's maximum
	kernelSize int
	stride     int
}

// NewMaxPool2DOp creates a new MaxPool2D operation, locating the window
// maxima now while the input is known to be unchanged.
func NewMaxPool2DOp(input, output *tensor.RawTensor, kernelSize, stride int) *MaxPool2DOp {
	return &MaxPool2DOp{
		unary:      unary{input: input, output: output},
		maxIndices: computeMaxIndices(input, output.Shape(), kernelSize, stride),
		kernelSize: kernelSize,
		stride:     stride,
	}
}

// Backward routes outputGrad to the recorded maxima.
func (op *MaxPool2DOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{
		backend.MaxPool2DBackward(op.input, outputGrad, op.maxIndices, op.kernelSize, op.stride),
	}
}

func computeMaxIndices(input *tensor.RawTensor, outShape tensor.Shape, kernelSize, stride int) []int {
	switch input.DType() {
	case tensor.Float32:
		return argmaxWindows(input.AsFloat32(), input.Shape(), outShape, kernelSize, stride)
	case tensor.Float64:
		return argmaxWindows(input.AsFloat64(), input.Shape(), outShape, kernelSize, stride)
	default:
		panic(fmt.Sprintf("maxpool2d: unsupported dtype %s", input.DType()))
	}
}

// argmaxWindows returns the flat input index of every pooling window's
// maximum, keeping the first on ties.
func argmaxWindows[F float32 | float64](data []F, inShape, outShape tensor.Shape, kernelSize, stride int) []int {
	H, W := inShape[2], inShape[3]
	HOut, WOut := outShape[2], outShape[3]
	planes := inShape[0] * inShape[1]

	indices := make([]int, planes*HOut*WOut)
	o := 0
	for p := 0; p < planes; p++ {
		base := p * H * W
		for oh := 0; oh < HOut; oh++ {
			for ow := 0; ow < WOut; ow++ {
				best := base + oh*stride*W + ow*stride
				for kh := 0; kh < kernelSize; kh++ {
					for kw := 0; kw < kernelSize; kw++ {
						idx := base + (oh*stride+kh)*W + ow*stride + kw
						if data[idx] > data[best] {
							best = idx
						}
					}
				}
				indices[o] = best
				o++
			}
		}
	}
	return indices
}
