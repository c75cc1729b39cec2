package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/keypoints/internal/tensor"
)

// Linear is a fully connected layer: y = x @ Wᵀ + b.
//
// Weight shape: [out_features, in_features]
// Bias shape:   [out_features]
//
//	fc := nn.NewLinear(86528, 256, rng, backend)
//	y := fc.Forward(x, nn.Eval) // [N, 86528] -> [N, 256]
type Linear[B tensor.Backend] struct {
	inFeatures  int
	outFeatures int

	weight *Parameter[B]
	bias   *Parameter[B]

	backend B
}

// NewLinear creates a Linear layer with bias. Weight and bias are drawn
// from DefaultUniform with fan-in inFeatures.
func NewLinear[B tensor.Backend](inFeatures, outFeatures int, rng *rand.Rand, backend B) *Linear[B] {
	if inFeatures <= 0 || outFeatures <= 0 {
		panic(fmt.Sprintf("linear: invalid features in=%d, out=%d", inFeatures, outFeatures))
	}
	return &Linear[B]{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter("weight", DefaultUniform(inFeatures, tensor.Shape{outFeatures, inFeatures}, rng, backend)),
		bias:        NewParameter("bias", DefaultUniform(inFeatures, tensor.Shape{outFeatures}, rng, backend)),
		backend:     backend,
	}
}

// Forward computes x @ Wᵀ + b for x of shape [batch, in_features].
func (l *Linear[B]) Forward(input *tensor.Tensor[float32, B], _ Mode) *tensor.Tensor[float32, B] {
	shape := input.Shape()
	if len(shape) != 2 {
		tensor.Mismatch("linear", "expected 2D input [batch, features], got %v", shape)
	}
	if shape[1] != l.inFeatures {
		tensor.Mismatch("linear", "expected %d input features, got %d", l.inFeatures, shape[1])
	}

	out := input.MatMulTransB(l.weight.Tensor())
	return out.Add(l.bias.Tensor().Reshape(1, l.outFeatures))
}

// Parameters returns [weight, bias].
func (l *Linear[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{l.weight, l.bias}
}

// StateDict returns the layer parameters keyed "weight" and "bias".
func (l *Linear[B]) StateDict() map[string]*tensor.RawTensor {
	return stateDict(l.Parameters())
}

// LoadStateDict copies weights from stateDict into the layer.
func (l *Linear[B]) LoadStateDict(sd map[string]*tensor.RawTensor) error {
	return loadStateDict(l.Parameters(), sd)
}

// Weight returns the weight parameter.
func (l *Linear[B]) Weight() *Parameter[B] { return l.weight }

// Bias returns the bias parameter.
func (l *Linear[B]) Bias() *Parameter[B] { return l.bias }

// InFeatures returns the number of input features.
func (l *Linear[B]) InFeatures() int { return l.inFeatures }

// OutFeatures returns the number of output features.
func (l *Linear[B]) OutFeatures() int { return l.outFeatures }

func (l *Linear[B]) String() string {
	return fmt.Sprintf("Linear(in_features=%d, out_features=%d)", l.inFeatures, l.outFeatures)
}
