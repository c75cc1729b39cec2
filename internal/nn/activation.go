package nn

import (
	"github.com/born-ml/keypoints/internal/tensor"
)

// ReLU applies f(x) = max(0, x) element-wise.
type ReLU[B tensor.Backend] struct{}

// NewReLU creates a new ReLU activation module.
func NewReLU[B tensor.Backend]() *ReLU[B] {
	return &ReLU[B]{}
}

// Forward applies ReLU activation.
func (r *ReLU[B]) Forward(input *tensor.Tensor[float32, B], _ Mode) *tensor.Tensor[float32, B] {
	backend := input.Backend()
	return tensor.New[float32, B](backend.ReLU(input.Raw()), backend)
}

// Parameters returns nil.
func (r *ReLU[B]) Parameters() []*Parameter[B] {
	return nil
}

func (r *ReLU[B]) String() string {
	return "ReLU()"
}

// Flatten collapses dimensions from StartDim onward. Flatten(1) turns
// [N, C, H, W] into [N, C*H*W], channel-major within each sample.
type Flatten[B tensor.Backend] struct {
	startDim int
}

// NewFlatten creates a Flatten module.
func NewFlatten[B tensor.Backend](startDim int) *Flatten[B] {
	return &Flatten[B]{startDim: startDim}
}

// Forward reshapes input; the data is not copied.
func (f *Flatten[B]) Forward(input *tensor.Tensor[float32, B], _ Mode) *tensor.Tensor[float32, B] {
	return input.Flatten(f.startDim)
}

// Parameters returns nil.
func (f *Flatten[B]) Parameters() []*Parameter[B] {
	return nil
}

func (f *Flatten[B]) String() string {
	return "Flatten()"
}
