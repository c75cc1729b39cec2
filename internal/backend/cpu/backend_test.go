package cpu

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/keypoints/internal/parallel"
	"github.com/born-ml/keypoints/internal/tensor"
)

// Helper to create test backend.
func newTestBackend() *CPUBackend {
	return New()
}

// rawF32 builds a float32 RawTensor from values.
func rawF32(t *testing.T, shape tensor.Shape, values ...float32) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float32, tensor.CPU)
	require.NoError(t, err)
	if len(values) > 0 {
		require.Len(t, values, shape.NumElements())
		copy(r.AsFloat32(), values)
	}
	return r
}

// rawF64 builds a float64 RawTensor filled by f(i).
func rawF64(t *testing.T, shape tensor.Shape, f func(i int) float64) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, tensor.Float64, tensor.CPU)
	require.NoError(t, err)
	data := r.AsFloat64()
	for i := range data {
		data[i] = f(i)
	}
	return r
}

// Helper to check float32 slices are equal within epsilon.
func float32SliceEqual(a, b []float32) bool {
	const epsilon = 1e-5
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > epsilon {
			return false
		}
	}
	return true
}

// requireShapePanic asserts f panics with a *tensor.ShapeError.
func requireShapePanic(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic")
		err, ok := r.(error)
		require.True(t, ok, "panic value %v is not an error", r)
		assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
	}()
	f()
}

func TestCPUBackend_New(t *testing.T) {
	backend := New()
	if backend.Name() != "CPU" {
		t.Errorf("Expected name 'CPU', got '%s'", backend.Name())
	}
	if backend.Device() != tensor.CPU {
		t.Errorf("Expected device CPU, got %v", backend.Device())
	}

	backend.SetParallel(parallel.WithWorkers(1))
	assert.False(t, backend.Parallel().Enabled)
}

func TestCPUBackend_Add(t *testing.T) {
	backend := newTestBackend()

	t.Run("SameShape", func(t *testing.T) {
		a := rawF32(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
		b := rawF32(t, tensor.Shape{2, 3}, 10, 11, 12, 13, 14, 15)

		result := backend.Add(a, b)
		assert.Equal(t, []float32{11, 13, 15, 17, 19, 21}, result.AsFloat32())
		// Inputs are never modified.
		assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, a.AsFloat32())
	})

	t.Run("BiasBroadcast", func(t *testing.T) {
		// Conv bias: [N, C, H, W] + [1, C, 1, 1]
		x := rawF32(t, tensor.Shape{1, 2, 1, 2}, 1, 2, 3, 4)
		bias := rawF32(t, tensor.Shape{1, 2, 1, 1}, 10, 20)

		result := backend.Add(x, bias)
		assert.Equal(t, tensor.Shape{1, 2, 1, 2}, result.Shape())
		assert.Equal(t, []float32{11, 12, 23, 24}, result.AsFloat32())
	})

	t.Run("RowBroadcast", func(t *testing.T) {
		x := rawF32(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
		row := rawF32(t, tensor.Shape{3}, 1, 1, 1)

		result := backend.Add(x, row)
		assert.Equal(t, []float32{2, 3, 4, 5, 6, 7}, result.AsFloat32())
	})

	t.Run("Incompatible", func(t *testing.T) {
		requireShapePanic(t, func() {
			backend.Add(rawF32(t, tensor.Shape{3, 4}), rawF32(t, tensor.Shape{3, 5}))
		})
	})
}

func TestCPUBackend_Mul(t *testing.T) {
	backend := newTestBackend()

	a := rawF32(t, tensor.Shape{2, 2}, 1, 2, 3, 4)
	b := rawF32(t, tensor.Shape{2, 1}, 2, 3)

	result := backend.Mul(a, b)
	assert.Equal(t, []float32{2, 4, 9, 12}, result.AsFloat32())
}

func TestCPUBackend_MatMul(t *testing.T) {
	backend := newTestBackend()

	// [2, 3] @ [3, 2]
	a := rawF32(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
	b := rawF32(t, tensor.Shape{3, 2}, 7, 8, 9, 10, 11, 12)

	result := backend.MatMul(a, b)
	require.Equal(t, tensor.Shape{2, 2}, result.Shape())
	assert.Equal(t, []float32{58, 64, 139, 154}, result.AsFloat32())

	requireShapePanic(t, func() { backend.MatMul(a, a) })
	requireShapePanic(t, func() { backend.MatMul(rawF32(t, tensor.Shape{6}), b) })
}

func TestCPUBackend_MatMulTransB(t *testing.T) {
	backend := newTestBackend()

	// Linear layout: x [2, 3] @ W[2, 3]ᵀ
	x := rawF32(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
	w := rawF32(t, tensor.Shape{2, 3}, 1, 0, 1, 0, 1, 0)

	result := backend.MatMulTransB(x, w)
	require.Equal(t, tensor.Shape{2, 2}, result.Shape())
	assert.Equal(t, []float32{4, 2, 10, 5}, result.AsFloat32())

	// Agrees with MatMul against an explicit transpose.
	explicit := backend.MatMul(x, backend.Transpose(w))
	assert.Equal(t, explicit.AsFloat32(), result.AsFloat32())

	requireShapePanic(t, func() { backend.MatMulTransB(x, rawF32(t, tensor.Shape{2, 4})) })
}

func TestCPUBackend_MatMulFloat64(t *testing.T) {
	backend := newTestBackend()

	a := rawF64(t, tensor.Shape{2, 2}, func(i int) float64 { return float64(i + 1) })
	b := rawF64(t, tensor.Shape{2, 2}, func(i int) float64 { return float64(i % 2) })

	result := backend.MatMul(a, b)
	assert.Equal(t, []float64{0, 3, 0, 7}, result.AsFloat64())
}

func TestCPUBackend_Reshape(t *testing.T) {
	backend := newTestBackend()

	x := rawF32(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
	view := backend.Reshape(x, tensor.Shape{3, 2})
	assert.Equal(t, tensor.Shape{3, 2}, view.Shape())
	assert.Equal(t, x.AsFloat32(), view.AsFloat32())

	// Views share storage.
	view.AsFloat32()[0] = 42
	assert.Equal(t, float32(42), x.AsFloat32()[0])

	requireShapePanic(t, func() { backend.Reshape(x, tensor.Shape{4, 2}) })
}

func TestCPUBackend_Transpose(t *testing.T) {
	backend := newTestBackend()

	x := rawF32(t, tensor.Shape{2, 3}, 1, 2, 3, 4, 5, 6)
	result := backend.Transpose(x)
	require.Equal(t, tensor.Shape{3, 2}, result.Shape())
	assert.Equal(t, []float32{1, 4, 2, 5, 3, 6}, result.AsFloat32())

	// [N, C, H, W] -> [N, H, W, C]
	y := rawF32(t, tensor.Shape{1, 2, 1, 2}, 1, 2, 3, 4)
	nhwc := backend.Transpose(y, 0, 2, 3, 1)
	require.Equal(t, tensor.Shape{1, 1, 2, 2}, nhwc.Shape())
	assert.Equal(t, []float32{1, 3, 2, 4}, nhwc.AsFloat32())

	requireShapePanic(t, func() { backend.Transpose(y, 0, 0, 1, 2) })
}

func TestCPUBackend_ReLU(t *testing.T) {
	backend := newTestBackend()

	x := rawF32(t, tensor.Shape{5}, -2, -0.5, 0, 0.5, 3)
	result := backend.ReLU(x)
	assert.Equal(t, []float32{0, 0, 0, 0.5, 3}, result.AsFloat32())

	grad := rawF32(t, tensor.Shape{5}, 1, 1, 1, 2, 3)
	dx := backend.ReLUBackward(x, grad)
	assert.Equal(t, []float32{0, 0, 0, 2, 3}, dx.AsFloat32())

	requireShapePanic(t, func() { backend.ReLUBackward(x, rawF32(t, tensor.Shape{4})) })
}

func TestCPUBackend_ParallelMatchesSequential(t *testing.T) {
	seq := New()
	seq.SetParallel(parallel.WithWorkers(1))
	par := New()
	par.SetParallel(parallel.Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1})

	n := 4096
	values := make([]float32, n)
	for i := range values {
		values[i] = float32(i%17) - 8
	}
	a := rawF32(t, tensor.Shape{n}, values...)
	b := rawF32(t, tensor.Shape{n}, values...)

	if !float32SliceEqual(seq.Add(a, b).AsFloat32(), par.Add(a, b).AsFloat32()) {
		t.Error("parallel Add differs from sequential")
	}
	if !float32SliceEqual(seq.ReLU(a).AsFloat32(), par.ReLU(a).AsFloat32()) {
		t.Error("parallel ReLU differs from sequential")
	}
}

func TestCPUBackend_DTypeMismatchPanics(t *testing.T) {
	backend := newTestBackend()
	a := rawF32(t, tensor.Shape{2})
	b := rawF64(t, tensor.Shape{2}, func(int) float64 { return 0 })
	assert.Panics(t, func() { backend.Add(a, b) })
}
