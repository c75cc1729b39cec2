package nn

import (
	"fmt"

	"github.com/born-ml/keypoints/internal/tensor"
)

// MaxPool2D takes the maximum of each kernelSize×kernelSize window. It has
// no parameters, so one instance may be reused at several points of a model.
//
//	out_h = (height - kernelSize) / stride + 1
//
// Odd extents are floored: 2×2/2 pooling maps 109 to 54.
type MaxPool2D[B tensor.Backend] struct {
	kernelSize int
	stride     int
	backend    B
}

// NewMaxPool2D creates a new 2D max pooling layer.
func NewMaxPool2D[B tensor.Backend](kernelSize, stride int, backend B) *MaxPool2D[B] {
	if kernelSize <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel size %d", kernelSize))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid stride %d", stride))
	}
	return &MaxPool2D[B]{kernelSize: kernelSize, stride: stride, backend: backend}
}

// Forward applies max pooling.
func (m *MaxPool2D[B]) Forward(input *tensor.Tensor[float32, B], _ Mode) *tensor.Tensor[float32, B] {
	return tensor.New[float32, B](m.backend.MaxPool2D(input.Raw(), m.kernelSize, m.stride), m.backend)
}

// Parameters returns nil.
func (m *MaxPool2D[B]) Parameters() []*Parameter[B] {
	return nil
}

// OutputSize computes the pooled extent for an input extent.
func (m *MaxPool2D[B]) OutputSize(in int) int {
	return (in-m.kernelSize)/m.stride + 1
}

func (m *MaxPool2D[B]) String() string {
	return fmt.Sprintf("MaxPool2D(kernel_size=%d, stride=%d)", m.kernelSize, m.stride)
}
