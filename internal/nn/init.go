package nn

import (
	"math"
	"math/rand"

	"github.com/born-ml/keypoints/internal/tensor"
)

// DefaultUniform draws every element from U(-1/sqrt(fanIn), 1/sqrt(fanIn)).
// Conv2D and Linear use it for both weights and biases.
func DefaultUniform[B tensor.Backend](fanIn int, shape tensor.Shape, rng *rand.Rand, backend B) *tensor.Tensor[float32, B] {
	if fanIn <= 0 {
		panic("nn: fan-in must be positive")
	}
	return uniform(1/math.Sqrt(float64(fanIn)), shape, rng, backend)
}

func uniform[B tensor.Backend](bound float64, shape tensor.Shape, rng *rand.Rand, backend B) *tensor.Tensor[float32, B] {
	t := tensor.Zeros[float32](shape, backend)
	data := t.Data()
	for i := range data {
		data[i] = float32((rng.Float64()*2 - 1) * bound)
	}
	return t
}
