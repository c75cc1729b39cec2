// Package keypoint implements the facial keypoint regressor: a three-block
// convolutional network that maps a square grayscale image to 68 (x, y)
// landmark coordinates.
//
// Architecture (input 226×226):
//
//	conv1  1→32   5×5  → ReLU → pool 2×2   226 → 222 → 111
//	conv2  32→64  3×3  → ReLU → pool 2×2   111 → 109 → 54
//	conv3  64→128 3×3  → ReLU → pool 2×2    54 → 52  → 26
//	flatten                                 128·26·26 = 86528
//	fcl1   86528→256 → ReLU → drp1 (p=0.3)
//	fcl2   256→136
//
// The single pool stage is shared by all three blocks. Train or eval
// behavior is chosen per call through nn.Mode; the model holds no mode
// flag, so concurrent Eval calls are safe.
package keypoint

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/born-ml/keypoints/internal/nn"
	"github.com/born-ml/keypoints/internal/tensor"
)

// Architecture constants.
const (
	InputSize     = 226 // canonical input height and width
	InputChannels = 1
	NumKeypoints  = 68
	OutputSize    = 2 * NumKeypoints
	FeatureSize   = 26 // spatial extent after the third pool
	FeatureDepth  = 128
	FlattenSize   = FeatureDepth * FeatureSize * FeatureSize
	HiddenSize    = 256
	DropoutRate   = 0.3
)

// Option configures a Regressor.
type Option func(*options)

type options struct {
	seed int64
}

// WithSeed makes weight initialization and dropout masks reproducible.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// Regressor is the keypoint network.
//
//	model := keypoint.NewRegressor(cpu.New(), keypoint.WithSeed(1))
//	out, err := model.Forward(batch, nn.Eval) // [N, 136]
type Regressor[B tensor.Backend] struct {
	backend B
	seed    int64

	conv1 *nn.Conv2D[B]
	conv2 *nn.Conv2D[B]
	conv3 *nn.Conv2D[B]
	pool  *nn.MaxPool2D[B]
	fcl1  *nn.Linear[B]
	drp1  *nn.Dropout[B]
	fcl2  *nn.Linear[B]

	net *nn.Sequential[B]
}

// NewRegressor allocates the network on backend. Without WithSeed the
// parameters are drawn from a time-seeded source.
func NewRegressor[B tensor.Backend](backend B, opts ...Option) *Regressor[B] {
	o := &options{seed: time.Now().UnixNano()}
	for _, opt := range opts {
		opt(o)
	}
	rng := rand.New(rand.NewSource(o.seed)) //nolint:gosec // weight init is not security sensitive

	r := &Regressor[B]{
		backend: backend,
		seed:    o.seed,
		conv1:   nn.NewConv2D(InputChannels, 32, 5, 5, 1, 0, true, rng, backend),
		conv2:   nn.NewConv2D(32, 64, 3, 3, 1, 0, true, rng, backend),
		conv3:   nn.NewConv2D(64, FeatureDepth, 3, 3, 1, 0, true, rng, backend),
		pool:    nn.NewMaxPool2D(2, 2, backend),
		fcl1:    nn.NewLinear(FlattenSize, HiddenSize, rng, backend),
		fcl2:    nn.NewLinear(HiddenSize, OutputSize, rng, backend),
	}
	r.drp1 = nn.NewDropout[B](DropoutRate, rng.Int63())

	relu := nn.NewReLU[B]()
	net := nn.NewSequential[B]()
	net.AddNamed("conv1", r.conv1)
	net.AddNamed("relu", relu)
	net.AddNamed("pool", r.pool)
	net.AddNamed("conv2", r.conv2)
	net.AddNamed("relu", relu)
	net.AddNamed("pool", r.pool)
	net.AddNamed("conv3", r.conv3)
	net.AddNamed("relu", relu)
	net.AddNamed("pool", r.pool)
	net.AddNamed("flatten", nn.NewFlatten[B](1))
	net.AddNamed("fcl1", r.fcl1)
	net.AddNamed("relu", relu)
	net.AddNamed("drp1", r.drp1)
	net.AddNamed("fcl2", r.fcl2)
	r.net = net

	return r
}

// Forward maps input [N, 1, H, W] to [N, 136]. A channel count other than 1
// or a spatial size that does not reduce to 26×26 is reported as an error
// wrapping tensor.ErrShapeMismatch.
func (r *Regressor[B]) Forward(input *tensor.Tensor[float32, B], mode nn.Mode) (out *tensor.Tensor[float32, B], err error) {
	defer tensor.Catch(&err)
	return r.net.Forward(input, mode), nil
}

// Backend returns the backend the parameters live on.
func (r *Regressor[B]) Backend() B {
	return r.backend
}

// Seed returns the seed the parameters were initialized from.
func (r *Regressor[B]) Seed() int64 {
	return r.seed
}

// Parameters returns the trainable parameters in stage order:
// conv1, conv2, conv3, fcl1, fcl2, each weight then bias.
func (r *Regressor[B]) Parameters() []*nn.Parameter[B] {
	return r.net.Parameters()
}

// NumParameters returns the number of trainable scalars (22,279,560).
func (r *Regressor[B]) NumParameters() int {
	return nn.CountParameters(r.Parameters())
}

// StateDict returns the parameters keyed "conv1.weight", ..., "fcl2.bias".
// The tensors are shared with the model.
func (r *Regressor[B]) StateDict() map[string]*tensor.RawTensor {
	return r.net.StateDict()
}

// LoadStateDict copies every parameter from stateDict.
func (r *Regressor[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	return r.net.LoadStateDict(stateDict)
}

// Stages returns the forward stages in order. The pool and relu stages
// appear once per use.
func (r *Regressor[B]) Stages() []nn.Stage[B] {
	return r.net.Stages()
}

// SpatialSize returns the feature map extent after the three blocks for an
// input of size×size, or 0 if the input is too small.
func (r *Regressor[B]) SpatialSize(size int) int {
	for _, conv := range []*nn.Conv2D[B]{r.conv1, r.conv2, r.conv3} {
		size, _ = conv.OutputSize(size, size)
		if size < 2 {
			return 0
		}
		size = r.pool.OutputSize(size)
	}
	return size
}

// ValidInputSize reports whether a size×size input reaches the 26×26
// feature map fcl1 expects. Sizes 224 through 231 do.
func (r *Regressor[B]) ValidInputSize(size int) bool {
	return r.SpatialSize(size) == FeatureSize
}

// String returns a layer-by-layer summary with output shapes for a
// canonical input.
func (r *Regressor[B]) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "KeypointRegressor(input=[N, %d, %d, %d], output=[N, %d])\n", InputChannels, InputSize, InputSize, OutputSize)

	c, s := InputChannels, InputSize
	for _, st := range r.net.Stages() {
		var shape string
		switch m := st.Module.(type) {
		case *nn.Conv2D[B]:
			c = m.OutChannels()
			s, _ = m.OutputSize(s, s)
			shape = fmt.Sprintf("[N, %d, %d, %d]", c, s, s)
		case *nn.MaxPool2D[B]:
			s = m.OutputSize(s)
			shape = fmt.Sprintf("[N, %d, %d, %d]", c, s, s)
		case *nn.Flatten[B]:
			c, s = c*s*s, 0
			shape = fmt.Sprintf("[N, %d]", c)
		case *nn.Linear[B]:
			c = m.OutFeatures()
			shape = fmt.Sprintf("[N, %d]", c)
		default:
			if s > 0 {
				shape = fmt.Sprintf("[N, %d, %d, %d]", c, s, s)
			} else {
				shape = fmt.Sprintf("[N, %d]", c)
			}
		}
		fmt.Fprintf(&sb, "  %-8s %-60v %s\n", st.Name, st.Module, shape)
	}
	fmt.Fprintf(&sb, "Trainable parameters: %d", r.NumParameters())
	return sb.String()
}
