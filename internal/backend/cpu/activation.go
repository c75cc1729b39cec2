package cpu

import (
	"fmt"

	"github.com/born-ml/keypoints/internal/parallel"
	"github.com/born-ml/keypoints/internal/tensor"
)

// ReLU computes max(0, x) element-wise.
func (cpu *CPUBackend) ReLU(x *tensor.RawTensor) *tensor.RawTensor {
	result := tensor.MustRaw("relu", x.Shape(), x.DType(), cpu.device)

	switch x.DType() {
	case tensor.Float32:
		relu(result.AsFloat32(), x.AsFloat32(), nil, cpu.par)
	case tensor.Float64:
		relu(result.AsFloat64(), x.AsFloat64(), nil, cpu.par)
	default:
		panic(fmt.Sprintf("relu: unsupported dtype %s", x.DType()))
	}
	return result
}

// ReLUBackward passes grad through where input > 0 and zeroes it elsewhere.
func (cpu *CPUBackend) ReLUBackward(input, grad *tensor.RawTensor) *tensor.RawTensor {
	if !input.Shape().Equal(grad.Shape()) {
		tensor.Mismatch("relu_backward", "input %v vs gradient %v", input.Shape(), grad.Shape())
	}
	checkDType("relu_backward", input, grad)
	result := tensor.MustRaw("relu_backward", input.Shape(), grad.DType(), cpu.device)

	switch grad.DType() {
	case tensor.Float32:
		relu(result.AsFloat32(), input.AsFloat32(), grad.AsFloat32(), cpu.par)
	case tensor.Float64:
		relu(result.AsFloat64(), input.AsFloat64(), grad.AsFloat64(), cpu.par)
	default:
		panic(fmt.Sprintf("relu_backward: unsupported dtype %s", grad.DType()))
	}
	return result
}

// relu writes max(0, x) into out, or grad masked by x > 0 when grad is set.
func relu[F float32 | float64](out, x, grad []F, par parallel.Config) {
	parallel.Range(len(out), func(start, end int) {
		for i := start; i < end; i++ {
			switch {
			case x[i] <= 0:
				out[i] = 0
			case grad != nil:
				out[i] = grad[i]
			default:
				out[i] = x[i]
			}
		}
	}, par)
}
