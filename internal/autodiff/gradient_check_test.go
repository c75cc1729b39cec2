package autodiff_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/keypoints/internal/autodiff"
	"github.com/born-ml/keypoints/internal/backend/cpu"
	"github.com/born-ml/keypoints/internal/tensor"
)

// tinyNet runs conv -> +bias -> relu -> maxpool -> flatten -> linear on any
// backend, mirroring one stage of the keypoint network.
func tinyNet(b tensor.Backend, x, k, kb, w, wb *tensor.RawTensor) *tensor.RawTensor {
	h := b.Conv2D(x, k, 1, 0)
	h = b.Add(h, kb)
	h = b.ReLU(h)
	h = b.MaxPool2D(h, 2, 2)
	n := h.Shape()[0]
	h = b.Reshape(h, tensor.Shape{n, h.NumElements() / n})
	out := b.MatMulTransB(h, w)
	return b.Add(out, wb)
}

func randRaw(t *testing.T, rng *rand.Rand, shape tensor.Shape) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float64, tensor.CPU)
	require.NoError(t, err)
	for i := range r.AsFloat64() {
		r.AsFloat64()[i] = rng.NormFloat64()
	}
	return r
}

// weightedSum is sum(out * g).
func weightedSum(out, g *tensor.RawTensor) float64 {
	var s float64
	for i, v := range out.AsFloat64() {
		s += v * g.AsFloat64()[i]
	}
	return s
}

func TestNumericalGradient_ConvNet(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	plain := cpu.New()

	x := randRaw(t, rng, tensor.Shape{2, 2, 7, 7})
	k := randRaw(t, rng, tensor.Shape{3, 2, 3, 3})
	kb := randRaw(t, rng, tensor.Shape{1, 3, 1, 1})
	w := randRaw(t, rng, tensor.Shape{4, 3 * 2 * 2})
	wb := randRaw(t, rng, tensor.Shape{1, 4})

	backend := autodiff.New(cpu.New())
	backend.Tape().StartRecording()
	out := tinyNet(backend, x, k, kb, w, wb)
	g := randRaw(t, rng, out.Shape())

	seed := tensor.New[float64](g, backend)
	grads := autodiff.BackwardWith(tensor.New[float64](out, backend), seed, backend)

	params := []struct {
		name string
		raw  *tensor.RawTensor
	}{
		{"input", x}, {"kernel", k}, {"kernel_bias", kb}, {"weight", w}, {"bias", wb},
	}

	const eps = 1e-6
	for _, p := range params {
		grad, ok := grads[p.raw]
		require.True(t, ok, "no gradient for %s", p.name)
		require.Equal(t, p.raw.Shape(), grad.Shape(), p.name)

		data := p.raw.AsFloat64()
		for _, i := range []int{0, len(data) / 3, len(data) / 2, len(data) - 1} {
			orig := data[i]
			data[i] = orig + eps
			plus := weightedSum(tinyNet(plain, x, k, kb, w, wb), g)
			data[i] = orig - eps
			minus := weightedSum(tinyNet(plain, x, k, kb, w, wb), g)
			data[i] = orig

			numeric := (plus - minus) / (2 * eps)
			assert.InDelta(t, numeric, grad.AsFloat64()[i], 1e-4, "%s[%d]", p.name, i)
		}
	}
}
