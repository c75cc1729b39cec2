package nn

import (
	"fmt"

	"github.com/born-ml/keypoints/internal/tensor"
)

// MissingParameterError is returned by LoadStateDict when a parameter has no
// entry in the state dict.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("missing parameter %q in state dict", e.Name)
}

// Parameter represents a trainable parameter in a neural network.
//
// The gradient slot is filled by AttachGrads after a backward pass and is
// read by an external training loop.
//
//	weight := nn.NewParameter("weight", weightTensor)
//	grads := autodiff.Backward(loss, backend)
//	nn.AttachGrads(model.Parameters(), grads)
//	g := weight.Grad()
type Parameter[B tensor.Backend] struct {
	name   string
	tensor *tensor.Tensor[float32, B]
	grad   *tensor.Tensor[float32, B]
}

// NewParameter creates a new trainable parameter.
func NewParameter[B tensor.Backend](name string, t *tensor.Tensor[float32, B]) *Parameter[B] {
	return &Parameter[B]{name: name, tensor: t}
}

// Name returns the parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}

// NumElements returns the number of scalars in the parameter.
func (p *Parameter[B]) NumElements() int {
	return p.tensor.NumElements()
}

// Grad returns the gradient tensor, or nil before a backward pass.
func (p *Parameter[B]) Grad() *tensor.Tensor[float32, B] {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter[B]) SetGrad(grad *tensor.Tensor[float32, B]) {
	p.grad = grad
}

// ZeroGrad clears the gradient tensor.
func (p *Parameter[B]) ZeroGrad() {
	p.grad = nil
}

// Load copies raw into the parameter in place. The parameter keeps its
// identity, so tensors recorded on a tape still refer to it.
func (p *Parameter[B]) Load(raw *tensor.RawTensor) error {
	if err := p.Check(raw); err != nil {
		return err
	}
	copy(p.tensor.Raw().Data(), raw.Data())
	return nil
}

// Check reports whether raw could be loaded into p without copying it.
func (p *Parameter[B]) Check(raw *tensor.RawTensor) error {
	dst := p.tensor.Raw()
	if raw.DType() != dst.DType() {
		return fmt.Errorf("parameter %q: dtype %s, want %s", p.name, raw.DType(), dst.DType())
	}
	if !raw.Shape().Equal(dst.Shape()) {
		return fmt.Errorf("parameter %q: shape %v, want %v: %w", p.name, raw.Shape(), dst.Shape(), tensor.ErrShapeMismatch)
	}
	return nil
}

// AttachGrads stores the gradient of every parameter found in grads and
// returns how many parameters received one. Parameters that did not take
// part in the recorded computation keep a nil gradient.
func AttachGrads[B tensor.Backend](params []*Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) int {
	n := 0
	for _, p := range params {
		g, ok := grads[p.tensor.Raw()]
		if !ok {
			p.grad = nil
			continue
		}
		p.grad = tensor.New[float32, B](g, p.tensor.Backend())
		n++
	}
	return n
}

// CountParameters sums NumElements over params.
func CountParameters[B tensor.Backend](params []*Parameter[B]) int {
	n := 0
	for _, p := range params {
		n += p.NumElements()
	}
	return n
}
