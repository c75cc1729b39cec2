package keypoint_test

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/keypoints/internal/autodiff"
	"github.com/born-ml/keypoints/internal/backend/cpu"
	"github.com/born-ml/keypoints/internal/keypoint"
	"github.com/born-ml/keypoints/internal/nn"
	"github.com/born-ml/keypoints/internal/tensor"
)

type cpuBackend = *cpu.CPUBackend

func newModel(seed int64) *keypoint.Regressor[cpuBackend] {
	return keypoint.NewRegressor(cpu.New(), keypoint.WithSeed(seed))
}

func image(seed int64, batch int, backend cpuBackend) *tensor.Tensor[float32, cpuBackend] {
	return tensor.RandWith[float32](
		tensor.Shape{batch, keypoint.InputChannels, keypoint.InputSize, keypoint.InputSize},
		rand.New(rand.NewSource(seed)), backend)
}

func TestRegressor_OutputShape(t *testing.T) {
	model := newModel(1)
	out, err := model.Forward(image(2, 2, model.Backend()), nn.Eval)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{2, keypoint.OutputSize}, out.Shape())
}

func TestRegressor_EvalDeterministic(t *testing.T) {
	model := newModel(1)
	x := image(3, 1, model.Backend())

	a, err := model.Forward(x, nn.Eval)
	require.NoError(t, err)
	b, err := model.Forward(x, nn.Eval)
	require.NoError(t, err)
	assert.Equal(t, a.Data(), b.Data())
}

func TestRegressor_TrainIsStochastic(t *testing.T) {
	model := newModel(1)
	x := image(4, 1, model.Backend())

	eval, err := model.Forward(x, nn.Eval)
	require.NoError(t, err)
	t1, err := model.Forward(x, nn.Train)
	require.NoError(t, err)
	t2, err := model.Forward(x, nn.Train)
	require.NoError(t, err)

	assert.NotEqual(t, t1.Data(), t2.Data(), "two train passes draw different dropout masks")
	assert.NotEqual(t, eval.Data(), t1.Data())

	again, err := model.Forward(x, nn.Eval)
	require.NoError(t, err)
	assert.Equal(t, eval.Data(), again.Data(), "train passes leave eval output unchanged")
}

func TestRegressor_BatchIndependence(t *testing.T) {
	model := newModel(5)
	backend := model.Backend()
	single := image(6, 1, backend)

	stacked := tensor.Cat([]*tensor.Tensor[float32, cpuBackend]{single, single, single})
	require.Equal(t, tensor.Shape{3, 1, 226, 226}, stacked.Shape())

	one, err := model.Forward(single, nn.Eval)
	require.NoError(t, err)
	three, err := model.Forward(stacked, nn.Eval)
	require.NoError(t, err)

	want := one.Data()
	got := three.Data()
	for n := 0; n < 3; n++ {
		assert.InDeltaSlice(t, want, got[n*keypoint.OutputSize:(n+1)*keypoint.OutputSize], 1e-5, "row %d", n)
	}
}

func TestRegressor_ConcurrentEval(t *testing.T) {
	model := newModel(7)
	x := image(8, 1, model.Backend())
	want, err := model.Forward(x, nn.Eval)
	require.NoError(t, err)

	const workers = 4
	results := make([][]float32, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := model.Forward(x, nn.Eval)
			errs[i] = err
			if err == nil {
				results[i] = out.Data()
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, want.Data(), results[i])
	}
}

func TestRegressor_ParameterCount(t *testing.T) {
	model := newModel(1)
	assert.Equal(t, 22_279_560, model.NumParameters())

	want := []struct {
		name  string
		shape tensor.Shape
	}{
		{"weight", tensor.Shape{32, 1, 5, 5}},
		{"bias", tensor.Shape{32}},
		{"weight", tensor.Shape{64, 32, 3, 3}},
		{"bias", tensor.Shape{64}},
		{"weight", tensor.Shape{128, 64, 3, 3}},
		{"bias", tensor.Shape{128}},
		{"weight", tensor.Shape{256, 86528}},
		{"bias", tensor.Shape{256}},
		{"weight", tensor.Shape{136, 256}},
		{"bias", tensor.Shape{136}},
	}
	params := model.Parameters()
	require.Len(t, params, len(want))
	for i, p := range params {
		assert.Equal(t, want[i].name, p.Name(), "param %d", i)
		assert.Equal(t, want[i].shape, p.Tensor().Shape(), "param %d", i)
	}

	sd := model.StateDict()
	assert.Len(t, sd, 10)
	for _, key := range []string{"conv1.weight", "conv2.bias", "conv3.weight", "fcl1.weight", "fcl2.bias"} {
		assert.Contains(t, sd, key)
	}
}

func TestRegressor_StageOrder(t *testing.T) {
	model := newModel(1)
	var names []string
	for _, st := range model.Stages() {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{
		"conv1", "relu", "pool",
		"conv2", "relu", "pool",
		"conv3", "relu", "pool",
		"flatten", "fcl1", "relu", "drp1", "fcl2",
	}, names)

	stages := model.Stages()
	assert.Same(t, stages[2].Module, stages[5].Module, "one pool instance serves all blocks")
	assert.Same(t, stages[5].Module, stages[8].Module)
}

func TestRegressor_Seeded(t *testing.T) {
	a := newModel(42)
	b := newModel(42)
	c := newModel(43)
	assert.Equal(t, int64(42), a.Seed())
	assert.Equal(t, a.StateDict()["conv1.weight"].Data(), b.StateDict()["conv1.weight"].Data())
	assert.NotEqual(t, a.StateDict()["conv1.weight"].Data(), c.StateDict()["conv1.weight"].Data())
}

func TestRegressor_WrongChannelCount(t *testing.T) {
	model := newModel(1)
	x := tensor.Zeros[float32](tensor.Shape{1, 3, 226, 226}, model.Backend())

	out, err := model.Forward(x, nn.Eval)
	assert.Nil(t, out)
	require.Error(t, err)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestRegressor_WrongSpatialSize(t *testing.T) {
	model := newModel(1)
	for _, shape := range []tensor.Shape{
		{1, 1, 64, 64},   // reaches 6×6, fcl1 rejects the flattened size
		{1, 1, 8, 8},     // too small for the third block
		{1, 226, 226},    // missing channel dimension
		{1, 1, 226, 200}, // non-square input that does not reach 26×26
	} {
		_, err := model.Forward(tensor.Zeros[float32](shape, model.Backend()), nn.Train)
		assert.ErrorIs(t, err, tensor.ErrShapeMismatch, "%v", shape)
	}
}

func TestRegressor_SpatialSize(t *testing.T) {
	model := newModel(1)
	assert.Equal(t, 26, model.SpatialSize(226))
	assert.Equal(t, 6, model.SpatialSize(64))
	assert.Equal(t, 0, model.SpatialSize(8))

	var valid []int
	for s := 200; s < 260; s++ {
		if model.ValidInputSize(s) {
			valid = append(valid, s)
		}
	}
	assert.Equal(t, []int{224, 225, 226, 227, 228, 229, 230, 231}, valid)
}

func TestRegressor_String(t *testing.T) {
	s := newModel(1).String()
	assert.Contains(t, s, "[N, 32, 222, 222]")
	assert.Contains(t, s, "[N, 64, 54, 54]")
	assert.Contains(t, s, "[N, 128, 26, 26]")
	assert.Contains(t, s, "[N, 86528]")
	assert.Contains(t, s, "Dropout(p=0.3)")
	assert.Contains(t, s, "Trainable parameters: 22279560")
}

func TestRegressor_GradientsReachEveryParameter(t *testing.T) {
	backend := autodiff.New(cpu.New())
	model := keypoint.NewRegressor(backend, keypoint.WithSeed(9))
	x := tensor.RandWith[float32](tensor.Shape{1, 1, 226, 226}, rand.New(rand.NewSource(10)), backend)

	backend.Tape().StartRecording()
	out, err := model.Forward(x, nn.Train)
	require.NoError(t, err)
	grads := autodiff.Backward(out, backend)
	backend.Tape().StopRecording()

	params := model.Parameters()
	assert.Equal(t, len(params), nn.AttachGrads(params, grads))
	for _, p := range params {
		require.NotNil(t, p.Grad(), p.Name())
		assert.Equal(t, p.Tensor().Shape(), p.Grad().Shape(), p.Name())
	}

	// d(sum out)/d(fcl2.bias) is one per sample.
	fcl2Bias := params[len(params)-1]
	for _, g := range fcl2Bias.Grad().Data() {
		assert.InDelta(t, 1, g, 1e-6)
	}
}
