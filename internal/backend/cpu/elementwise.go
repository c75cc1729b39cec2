package cpu

import (
	"fmt"

	"github.com/born-ml/keypoints/internal/parallel"
	"github.com/born-ml/keypoints/internal/tensor"
)

// Add performs element-wise addition with NumPy-style broadcasting.
func (cpu *CPUBackend) Add(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("add", a, b, addF32, addF64)
}

// Mul performs element-wise multiplication with broadcasting.
func (cpu *CPUBackend) Mul(a, b *tensor.RawTensor) *tensor.RawTensor {
	return cpu.binary("mul", a, b, mulF32, mulF64)
}

func addF32(x, y float32) float32 { return x + y }
func addF64(x, y float64) float64 { return x + y }
func mulF32(x, y float32) float32 { return x * y }
func mulF64(x, y float64) float64 { return x * y }

func (cpu *CPUBackend) binary(
	op string, a, b *tensor.RawTensor,
	f32 func(x, y float32) float32, f64 func(x, y float64) float64,
) *tensor.RawTensor {
	checkDType(op, a, b)
	outShape, needsBroadcast, err := tensor.BroadcastShapes(a.Shape(), b.Shape())
	if err != nil {
		tensor.Mismatch(op, "%v", err)
	}
	result := tensor.MustRaw(op, outShape, a.DType(), cpu.device)

	switch a.DType() {
	case tensor.Float32:
		binaryKernel(result.AsFloat32(), a.AsFloat32(), b.AsFloat32(), outShape, a.Shape(), b.Shape(), needsBroadcast, f32, cpu.par)
	case tensor.Float64:
		binaryKernel(result.AsFloat64(), a.AsFloat64(), b.AsFloat64(), outShape, a.Shape(), b.Shape(), needsBroadcast, f64, cpu.par)
	default:
		panic(fmt.Sprintf("%s: unsupported dtype %s", op, a.DType()))
	}
	return result
}

func binaryKernel[F float32 | float64](
	out, a, b []F, outShape, aShape, bShape tensor.Shape, broadcast bool,
	f func(x, y F) F, par parallel.Config,
) {
	if !broadcast {
		parallel.Range(len(out), func(start, end int) {
			for i := start; i < end; i++ {
				out[i] = f(a[i], b[i])
			}
		}, par)
		return
	}

	aStrides := broadcastStrides(aShape, outShape)
	bStrides := broadcastStrides(bShape, outShape)
	ndim := len(outShape)
	idx := make([]int, ndim)
	ai, bi := 0, 0
	for i := range out {
		out[i] = f(a[ai], b[bi])
		for d := ndim - 1; d >= 0; d-- {
			idx[d]++
			ai += aStrides[d]
			bi += bStrides[d]
			if idx[d] < outShape[d] {
				break
			}
			ai -= idx[d] * aStrides[d]
			bi -= idx[d] * bStrides[d]
			idx[d] = 0
		}
	}
}

// broadcastStrides returns strides of shape aligned to out, with zero stride
// for dimensions that are broadcast.
func broadcastStrides(shape, out tensor.Shape) []int {
	strides := make([]int, len(out))
	src := shape.ComputeStrides()
	offset := len(out) - len(shape)
	for i := range shape {
		if shape[i] != 1 {
			strides[offset+i] = src[i]
		}
	}
	return strides
}
