// Package cpu implements the CPU backend. Matrix products go through gonum's
// BLAS; per-sample convolution work is spread across goroutines.
package cpu

import (
	"fmt"

	"github.com/born-ml/keypoints/internal/parallel"
	"github.com/born-ml/keypoints/internal/tensor"
)

// CPUBackend implements tensor.Backend on the host CPU.
type CPUBackend struct {
	device tensor.Device
	par    parallel.Config
}

// New creates a new CPU backend using one worker per CPU.
func New() *CPUBackend {
	return &CPUBackend{
		device: tensor.CPU,
		par:    parallel.DefaultConfig(),
	}
}

// SetParallel replaces the parallel execution config. It must not be called
// while operations are running.
func (cpu *CPUBackend) SetParallel(cfg parallel.Config) {
	cpu.par = cfg
}

// Parallel returns the current parallel execution config.
func (cpu *CPUBackend) Parallel() parallel.Config {
	return cpu.par
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Device returns the compute device.
func (cpu *CPUBackend) Device() tensor.Device {
	return cpu.device
}

// Reshape returns a view sharing t's data.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if err := newShape.Validate(); err != nil {
		tensor.Mismatch("reshape", "%v", err)
	}
	if t.NumElements() != newShape.NumElements() {
		tensor.Mismatch("reshape", "incompatible shapes: %v -> %v (different number of elements)",
			t.Shape(), newShape)
	}
	return t.View(newShape)
}

// Transpose permutes dimensions. With no axes the order is reversed.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	ndim := len(shape)

	if len(axes) == 0 {
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = ndim - 1 - i
		}
	}

	if len(axes) != ndim {
		tensor.Mismatch("transpose", "axes length %d != ndim %d", len(axes), ndim)
	}
	seen := make([]bool, ndim)
	for _, ax := range axes {
		if ax < 0 || ax >= ndim || seen[ax] {
			tensor.Mismatch("transpose", "invalid axes %v for %dD tensor", axes, ndim)
		}
		seen[ax] = true
	}

	newShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		newShape[i] = shape[ax]
	}
	result := tensor.MustRaw("transpose", newShape, t.DType(), cpu.device)

	switch t.DType() {
	case tensor.Float32:
		transpose(result.AsFloat32(), t.AsFloat32(), t.Strides(), newShape, axes)
	case tensor.Float64:
		transpose(result.AsFloat64(), t.AsFloat64(), t.Strides(), newShape, axes)
	default:
		panic(fmt.Sprintf("transpose: unsupported dtype %s", t.DType()))
	}
	return result
}

func transpose[F float32 | float64](dst, src []F, srcStrides []int, dstShape tensor.Shape, axes []int) {
	ndim := len(dstShape)
	if ndim == 0 {
		copy(dst, src)
		return
	}

	// Stride in src for each dst dimension.
	stride := make([]int, ndim)
	for i, ax := range axes {
		stride[i] = srcStrides[ax]
	}

	idx := make([]int, ndim)
	off := 0
	for i := range dst {
		dst[i] = src[off]
		for d := ndim - 1; d >= 0; d-- {
			idx[d]++
			off += stride[d]
			if idx[d] < dstShape[d] {
				break
			}
			off -= idx[d] * stride[d]
			idx[d] = 0
		}
	}
}

func checkDType(op string, tensors ...*tensor.RawTensor) {
	for _, t := range tensors[1:] {
		if t.DType() != tensors[0].DType() {
			panic(fmt.Sprintf("%s: dtype mismatch %s vs %s", op, tensors[0].DType(), t.DType()))
		}
	}
}
