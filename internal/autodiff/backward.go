package autodiff

import (
	"github.com/born-ml/keypoints/internal/tensor"
)

// BackwardCapable is implemented by backends that own a gradient tape.
type BackwardCapable interface {
	tensor.Backend
	GetTape() *GradientTape
}

// GetTape returns the gradient tape (implements BackwardCapable).
func (b *AutodiffBackend[B]) GetTape() *GradientTape {
	return b.tape
}

// Backward computes gradients of t with respect to every recorded tensor,
// seeding dt = 1 for each element of t. For a scalar loss this is the usual
// dL/dx; for a larger output it is the gradient of sum(t).
//
// Example:
//
//	backend := autodiff.New(cpu.New())
//	backend.Tape().StartRecording()
//	x := tensor.Ones[float32](tensor.Shape{2}, backend)
//	y := x.Mul(x)
//	gradients := autodiff.Backward(y, backend)
//	grad := gradients[x.Raw()] // 2x
func Backward[T tensor.DType, B BackwardCapable](t *tensor.Tensor[T, B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	return BackwardWith(t, tensor.Ones[T](t.Shape(), backend), backend)
}

// BackwardWith computes gradients of t seeded with an explicit output
// gradient of t's shape.
func BackwardWith[T tensor.DType, B BackwardCapable](t, grad *tensor.Tensor[T, B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	tape := backend.GetTape()
	if tape.NumOps() == 0 {
		panic("backward: no operations recorded (did you forget to call Tape().StartRecording()?)")
	}
	if !grad.Shape().Equal(t.Shape()) {
		tensor.Mismatch("backward", "seed gradient %v does not match output %v", grad.Shape(), t.Shape())
	}
	return tape.Backward(t.Raw(), grad.Raw(), backend)
}
