package nn_test

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/keypoints/internal/backend/cpu"
	"github.com/born-ml/keypoints/internal/nn"
	"github.com/born-ml/keypoints/internal/tensor"
)

var (
	_ nn.Stateful = (*nn.Conv2D[cpuBackend])(nil)
	_ nn.Stateful = (*nn.Linear[cpuBackend])(nil)
	_ nn.Stateful = (*nn.Sequential[cpuBackend])(nil)
)

// smallNet is a two-block conv net with a shared pool stage.
func smallNet(seed int64) *nn.Sequential[cpuBackend] {
	backend := cpu.New()
	rng := rand.New(rand.NewSource(seed))
	pool := nn.NewMaxPool2D(2, 2, backend)
	relu := nn.NewReLU[cpuBackend]()

	s := nn.NewSequential[cpuBackend]()
	s.AddNamed("conv1", nn.NewConv2D(1, 2, 3, 3, 1, 0, true, rng, backend))
	s.AddNamed("relu", relu)
	s.AddNamed("pool", pool)
	s.AddNamed("conv2", nn.NewConv2D(2, 4, 3, 3, 1, 0, true, rng, backend))
	s.AddNamed("relu", relu)
	s.AddNamed("pool", pool)
	s.AddNamed("flatten", nn.NewFlatten[cpuBackend](1))
	s.AddNamed("fc", nn.NewLinear(4*2*2, 3, rng, backend))
	s.AddNamed("drop", nn.NewDropout[cpuBackend](0.5, seed))
	return s
}

func TestSequential_Forward(t *testing.T) {
	s := smallNet(1)
	x := tensor.RandWith[float32](tensor.Shape{2, 1, 14, 14}, rand.New(rand.NewSource(9)), cpu.New())

	// 14 -> 12 -> 6 -> 4 -> 2
	out := s.Forward(x, nn.Eval)
	assert.Equal(t, tensor.Shape{2, 3}, out.Shape())

	again := s.Forward(x, nn.Eval)
	assert.Equal(t, out.Data(), again.Data())
	assert.Equal(t, 9, s.Len())
}

func TestSequential_SharedStageParameters(t *testing.T) {
	s := smallNet(1)
	params := s.Parameters()
	assert.Len(t, params, 6)

	sd := s.StateDict()
	names := keys(sd)
	sort.Strings(names)
	assert.Equal(t, []string{
		"conv1.bias", "conv1.weight",
		"conv2.bias", "conv2.weight",
		"fc.bias", "fc.weight",
	}, names)
	assert.Equal(t, tensor.Shape{4, 2, 3, 3}, sd["conv2.weight"].Shape())

	assert.Same(t, s.Stage(2).Module, s.Stage(5).Module, "pool stage is shared")
	assert.Equal(t, "pool", s.Stage(5).Name)
}

func TestSequential_DuplicateNameRejected(t *testing.T) {
	backend := cpu.New()
	s := nn.NewSequential[cpuBackend]()
	s.AddNamed("pool", nn.NewMaxPool2D(2, 2, backend))
	assert.Panics(t, func() { s.AddNamed("pool", nn.NewMaxPool2D(2, 2, backend)) })
}

func TestSequential_IndexNames(t *testing.T) {
	backend := cpu.New()
	s := nn.NewSequential[cpuBackend](
		nn.NewLinear(4, 3, newRNG(), backend),
		nn.NewReLU[cpuBackend](),
		nn.NewLinear(3, 2, newRNG(), backend),
	)
	names := keys(s.StateDict())
	sort.Strings(names)
	assert.Equal(t, []string{"0.bias", "0.weight", "2.bias", "2.weight"}, names)
	assert.Len(t, s.Stages(), 3)
	assert.Panics(t, func() { s.Stage(3) })
}

func TestSequential_LoadStateDict(t *testing.T) {
	src := smallNet(1)
	dst := smallNet(2)
	x := tensor.RandWith[float32](tensor.Shape{1, 1, 14, 14}, rand.New(rand.NewSource(4)), cpu.New())
	require.NotEqual(t, src.Forward(x, nn.Eval).Data(), dst.Forward(x, nn.Eval).Data())

	require.NoError(t, dst.LoadStateDict(src.StateDict()))
	assert.Equal(t, src.Forward(x, nn.Eval).Data(), dst.Forward(x, nn.Eval).Data())
}

func TestSequential_LoadStateDictErrors(t *testing.T) {
	s := smallNet(1)

	missing := s.StateDict()
	delete(missing, "fc.bias")
	var mpe *nn.MissingParameterError
	require.ErrorAs(t, s.LoadStateDict(missing), &mpe)
	assert.Equal(t, "fc.bias", mpe.Name)

	extra := s.StateDict()
	extra["fc2.weight"] = extra["fc.weight"]
	assert.ErrorContains(t, s.LoadStateDict(extra), "unexpected parameter")

	wrong := s.StateDict()
	wrong["fc.weight"] = tensor.Zeros[float32](tensor.Shape{3, 15}, cpu.New()).Raw()
	err := s.LoadStateDict(wrong)
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	assert.ErrorContains(t, err, "fc.weight")
}

func snapshot(sd map[string]*tensor.RawTensor) map[string][]byte {
	out := make(map[string][]byte, len(sd))
	for name, raw := range sd {
		out[name] = append([]byte(nil), raw.Data()...)
	}
	return out
}

func TestSequential_FailedLoadLeavesParametersUntouched(t *testing.T) {
	dst := smallNet(1)
	before := snapshot(dst.StateDict())

	// conv1.* sorts ahead of the bad fc.bias entry.
	sd := smallNet(2).StateDict()
	sd["fc.bias"] = tensor.Zeros[float32](tensor.Shape{4}, cpu.New()).Raw()
	require.ErrorIs(t, dst.LoadStateDict(sd), tensor.ErrShapeMismatch)
	assert.Equal(t, before, snapshot(dst.StateDict()))

	sd = smallNet(2).StateDict()
	delete(sd, "fc.weight")
	var mpe *nn.MissingParameterError
	require.ErrorAs(t, dst.LoadStateDict(sd), &mpe)
	assert.Equal(t, before, snapshot(dst.StateDict()))

	conv := nn.NewConv2D(1, 2, 3, 3, 1, 0, true, rand.New(rand.NewSource(3)), cpu.New())
	convBefore := snapshot(conv.StateDict())
	err := conv.LoadStateDict(map[string]*tensor.RawTensor{
		"weight": tensor.Ones[float32](tensor.Shape{2, 1, 3, 3}, cpu.New()).Raw(),
		"bias":   tensor.Ones[float32](tensor.Shape{3}, cpu.New()).Raw(),
	})
	require.ErrorIs(t, err, tensor.ErrShapeMismatch)
	assert.Equal(t, convBefore, snapshot(conv.StateDict()))
}

func TestSequential_String(t *testing.T) {
	out := smallNet(1).String()
	assert.Contains(t, out, "(conv1): Conv2D(1, 2, kernel_size=(3, 3)")
	assert.Contains(t, out, "(pool): MaxPool2D(kernel_size=2, stride=2)")
	assert.Contains(t, out, "(drop): Dropout(p=0.5)")
}
