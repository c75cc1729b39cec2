package nn

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/born-ml/keypoints/internal/tensor"
)

// Dropout zeroes each activation with probability p in Train mode and scales
// the survivors by 1/(1-p), so the expected output equals the Eval output.
// In Eval mode it returns its input unchanged.
//
// The mask is applied with Mul, so gradients flow only through the kept
// activations. Concurrent Train-mode calls are safe; they share the layer's
// random source under a mutex.
type Dropout[B tensor.Backend] struct {
	p float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewDropout creates a dropout layer with drop probability p in [0, 1].
func NewDropout[B tensor.Backend](p float64, seed int64) *Dropout[B] {
	if p < 0 || p > 1 {
		panic(fmt.Sprintf("dropout: probability %v outside [0, 1]", p))
	}
	return &Dropout[B]{
		p:   p,
		rng: rand.New(rand.NewSource(seed)), //nolint:gosec // dropout masks are not security sensitive
	}
}

// P returns the drop probability.
func (d *Dropout[B]) P() float64 {
	return d.p
}

// Forward applies dropout in Train mode and is the identity in Eval mode.
func (d *Dropout[B]) Forward(input *tensor.Tensor[float32, B], mode Mode) *tensor.Tensor[float32, B] {
	if mode != Train || d.p == 0 {
		return input
	}
	return input.Mul(d.mask(input.Shape(), input.Backend()))
}

func (d *Dropout[B]) mask(shape tensor.Shape, backend B) *tensor.Tensor[float32, B] {
	m := tensor.Zeros[float32](shape, backend)
	if d.p == 1 {
		return m
	}
	keep := float32(1 / (1 - d.p))
	data := m.Data()

	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range data {
		if d.rng.Float64() >= d.p {
			data[i] = keep
		}
	}
	return m
}

// Parameters returns nil.
func (d *Dropout[B]) Parameters() []*Parameter[B] {
	return nil
}

func (d *Dropout[B]) String() string {
	return fmt.Sprintf("Dropout(p=%g)", d.p)
}
