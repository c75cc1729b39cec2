package ops

import (
	"fmt"

	"github.com/born-ml/keypoints/internal/tensor"
)

// reduceBroadcast sums grad down to target, undoing NumPy broadcasting.
//
// Example:
//
//	Forward: a[3,1] + b[3,4] -> c[3,4]  (a was broadcast along dim 1)
//	Backward: grad_c[3,4] -> grad_a[3,1] (sum along dim 1)
func reduceBroadcast(grad *tensor.RawTensor, target tensor.Shape) *tensor.RawTensor {
	if grad.Shape().Equal(target) {
		return grad
	}

	result := tensor.MustRaw("reduce_broadcast", target, grad.DType(), grad.Device())
	switch grad.DType() {
	case tensor.Float32:
		sumTo(result.AsFloat32(), grad.AsFloat32(), target, grad.Shape())
	case tensor.Float64:
		sumTo(result.AsFloat64(), grad.AsFloat64(), target, grad.Shape())
	default:
		panic(fmt.Sprintf("reduce_broadcast: unsupported dtype %s", grad.DType()))
	}
	return result
}

// sumTo accumulates every element of src (shape full) into the element of
// dst (shape target) it was broadcast from.
func sumTo[F float32 | float64](dst, src []F, target, full tensor.Shape) {
	ndim := len(full)
	offset := ndim - len(target)
	if offset < 0 {
		tensor.Mismatch("reduce_broadcast", "cannot reduce %v to %v", full, target)
	}

	strides := make([]int, ndim)
	tStrides := target.ComputeStrides()
	for i := range target {
		switch target[i] {
		case full[offset+i]:
			strides[offset+i] = tStrides[i]
		case 1:
			// broadcast dimension: stride stays zero
		default:
			tensor.Mismatch("reduce_broadcast", "cannot reduce %v to %v", full, target)
		}
	}

	idx := make([]int, ndim)
	d := 0
	for _, v := range src {
		dst[d] += v
		for k := ndim - 1; k >= 0; k-- {
			idx[k]++
			d += strides[k]
			if idx[k] < full[k] {
				break
			}
			d -= idx[k] * strides[k]
			idx[k] = 0
		}
	}
}
