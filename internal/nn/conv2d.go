package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/keypoints/internal/tensor"
)

// Conv2D is a 2D convolutional layer over NCHW tensors.
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [out_channels, in_channels, kernel_h, kernel_w]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Where:
//
//	out_h = (height + 2*padding - kernel_h) / stride + 1
//	out_w = (width + 2*padding - kernel_w) / stride + 1
//
// Example:
//
//	conv := nn.NewConv2D(1, 32, 5, 5, 1, 0, true, rng, backend)
//	out := conv.Forward(x, nn.Eval) // [N, 1, 226, 226] -> [N, 32, 222, 222]
type Conv2D[B tensor.Backend] struct {
	inChannels  int
	outChannels int
	kernelSize  [2]int
	stride      int
	padding     int

	weight *Parameter[B] // [out_channels, in_channels, kernel_h, kernel_w]
	bias   *Parameter[B] // [out_channels] or nil

	backend B
}

// NewConv2D creates a 2D convolutional layer. Weights and bias are drawn
// from DefaultUniform with fan-in in_channels*kernel_h*kernel_w.
func NewConv2D[B tensor.Backend](
	inChannels, outChannels int,
	kernelH, kernelW int,
	stride, padding int,
	useBias bool,
	rng *rand.Rand,
	backend B,
) *Conv2D[B] {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernelH <= 0 || kernelW <= 0 {
		panic(fmt.Sprintf("conv2d: invalid kernel size h=%d, w=%d", kernelH, kernelW))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("conv2d: invalid stride %d", stride))
	}
	if padding < 0 {
		panic(fmt.Sprintf("conv2d: invalid padding %d", padding))
	}

	fanIn := inChannels * kernelH * kernelW
	c := &Conv2D[B]{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  [2]int{kernelH, kernelW},
		stride:      stride,
		padding:     padding,
		weight: NewParameter("weight",
			DefaultUniform(fanIn, tensor.Shape{outChannels, inChannels, kernelH, kernelW}, rng, backend)),
		backend: backend,
	}
	if useBias {
		c.bias = NewParameter("bias", DefaultUniform(fanIn, tensor.Shape{outChannels}, rng, backend))
	}
	return c
}

// Forward performs the convolution and adds the per-channel bias.
func (c *Conv2D[B]) Forward(input *tensor.Tensor[float32, B], _ Mode) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 4 {
		tensor.Mismatch("conv2d", "expected 4D input [N,C,H,W], got %v", shape)
	}
	if shape[1] != c.inChannels {
		tensor.Mismatch("conv2d", "input has %d channels, layer expects %d", shape[1], c.inChannels)
	}

	out := tensor.New[float32, B](
		c.backend.Conv2D(input.Raw(), c.weight.Tensor().Raw(), c.stride, c.padding),
		c.backend,
	)
	if c.bias != nil {
		out = out.Add(c.bias.Tensor().Reshape(1, c.outChannels, 1, 1))
	}
	return out
}

// Parameters returns weight and, when present, bias.
func (c *Conv2D[B]) Parameters() []*Parameter[B] {
	if c.bias != nil {
		return []*Parameter[B]{c.weight, c.bias}
	}
	return []*Parameter[B]{c.weight}
}

// StateDict returns the layer parameters keyed "weight" and "bias".
func (c *Conv2D[B]) StateDict() map[string]*tensor.RawTensor {
	return stateDict(c.Parameters())
}

// LoadStateDict copies weights from stateDict into the layer.
func (c *Conv2D[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	return loadStateDict(c.Parameters(), sd)
}

// Weight returns the kernel parameter.
func (c *Conv2D[B]) Weight() *Parameter[B] { return c.weight }

// Bias returns the bias parameter, or nil.
func (c *Conv2D[B]) Bias() *Parameter[B] { return c.bias }

// InChannels returns the number of input channels.
func (c *Conv2D[B]) InChannels() int { return c.inChannels }

// OutChannels returns the number of output channels.
func (c *Conv2D[B]) OutChannels() int { return c.outChannels }

// OutputSize computes the output spatial extent for an input extent.
func (c *Conv2D[B]) OutputSize(inputH, inputW int) (int, int) {
	outH := (inputH+2*c.padding-c.kernelSize[0])/c.stride + 1
	outW := (inputW+2*c.padding-c.kernelSize[1])/c.stride + 1
	return outH, outW
}

func (c *Conv2D[B]) String() string {
	return fmt.Sprintf("Conv2D(%d, %d, kernel_size=(%d, %d), stride=%d, padding=%d, bias=%v)",
		c.inChannels, c.outChannels, c.kernelSize[0], c.kernelSize[1], c.stride, c.padding, c.bias != nil)
}
