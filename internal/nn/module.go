// Package nn implements the neural network modules the keypoint regressor is
// built from.
//
// This package provides:
//   - Module interface: Forward with an explicit Mode, plus Parameters
//   - Parameter: Trainable tensors with gradient slots
//   - Layers: Conv2D, MaxPool2D, ReLU, Flatten, Linear, Dropout
//   - Sequential: An ordered list of named stages
//
// Train/eval behavior is never stored on a module. Every Forward call receives
// the Mode to run in, so a single model can serve concurrent Eval requests.
package nn

import (
	"github.com/born-ml/keypoints/internal/tensor"
)

// Module is the base interface for all neural network components.
//
// Modules can be composed to build complex architectures:
//
//	model := nn.NewSequential[Backend]()
//	model.AddNamed("fc1", nn.NewLinear(784, 128, rng, backend))
//	model.Add(nn.NewReLU[Backend]())
//	out := model.Forward(x, nn.Eval)
type Module[B tensor.Backend] interface {
	// Forward computes the output of the module given an input tensor.
	// Shape problems panic with a *tensor.ShapeError.
	Forward(input *tensor.Tensor[float32, B], mode Mode) *tensor.Tensor[float32, B]

	// Parameters returns all trainable parameters of this module, or nil for
	// stateless modules such as activations.
	Parameters() []*Parameter[B]
}

// Stateful is implemented by modules whose parameters can be exported and
// restored by name.
type Stateful interface {
	StateDict() map[string]*tensor.RawTensor
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

func stateDict[B tensor.Backend](params []*Parameter[B]) map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor, len(params))
	for _, p := range params {
		out[p.Name()] = p.Tensor().Raw()
	}
	return out
}

func loadStateDict[B tensor.Backend](params []*Parameter[B], stateDict map[string]*tensor.RawTensor) error {
	for _, p := range params {
		raw, ok := stateDict[p.Name()]
		if !ok {
			return &MissingParameterError{Name: p.Name()}
		}
		if err := p.Check(raw); err != nil {
			return err
		}
	}
	for _, p := range params {
		copy(p.Tensor().Raw().Data(), stateDict[p.Name()].Data())
	}
	return nil
}
