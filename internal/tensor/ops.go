package tensor

// Add performs element-wise addition with broadcasting.
//
//	a := tensor.Ones[float32](Shape{3, 1}, backend)
//	b := tensor.Ones[float32](Shape{3, 5}, backend)
//	c := a.Add(b) // [3, 5]
func (t *Tensor[T, B]) Add(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Add(t.raw, other.raw), t.backend)
}

// Mul performs element-wise multiplication with broadcasting.
func (t *Tensor[T, B]) Mul(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.Mul(t.raw, other.raw), t.backend)
}

// MatMul performs matrix multiplication: [M, K] @ [K, N] -> [M, N].
func (t *Tensor[T, B]) MatMul(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.MatMul(t.raw, other.raw), t.backend)
}

// MatMulTransB multiplies by the transpose of other: [M, K] @ [N, K]ᵀ -> [M, N].
// Linear layers use it to avoid materializing Wᵀ.
func (t *Tensor[T, B]) MatMulTransB(other *Tensor[T, B]) *Tensor[T, B] {
	return New[T, B](t.backend.MatMulTransB(t.raw, other.raw), t.backend)
}

// Reshape returns a tensor with the same data and a new shape.
// At most one dimension may be -1; it is inferred from the element count.
//
//	x := tensor.Zeros[float32](Shape{2, 128, 26, 26}, backend)
//	y := x.Reshape(2, -1) // [2, 86528]
func (t *Tensor[T, B]) Reshape(newShape ...int) *Tensor[T, B] {
	shape := resolveShape(t.Shape(), newShape)
	return New[T, B](t.backend.Reshape(t.raw, shape), t.backend)
}

// Transpose permutes dimensions. With no axes the order is reversed.
func (t *Tensor[T, B]) Transpose(axes ...int) *Tensor[T, B] {
	return New[T, B](t.backend.Transpose(t.raw, axes...), t.backend)
}

// Flatten collapses every dimension from startDim onward into one, keeping
// the leading dimensions: Flatten(1) on [N, C, H, W] gives [N, C*H*W] in
// channel-major order.
func (t *Tensor[T, B]) Flatten(startDim int) *Tensor[T, B] {
	shape := t.Shape()
	if startDim < 0 || startDim >= len(shape) {
		Mismatch("flatten", "start dim %d out of range for %dD tensor", startDim, len(shape))
	}
	out := make([]int, 0, startDim+1)
	out = append(out, shape[:startDim]...)
	out = append(out, Shape(shape[startDim:]).NumElements())
	return t.Reshape(out...)
}

// Cat concatenates tensors along dimension 0. All tensors must agree on the
// remaining dimensions. The result is not recorded by autodiff.
func Cat[T DType, B Backend](tensors []*Tensor[T, B]) *Tensor[T, B] {
	if len(tensors) == 0 {
		panic("cat: at least one tensor required")
	}
	first := tensors[0].Shape()
	rows := 0
	for i, t := range tensors {
		s := t.Shape()
		if len(s) != len(first) || !Shape(s[1:]).Equal(first[1:]) {
			Mismatch("cat", "tensor %d has shape %v, expected [*%v]", i, s, first[1:])
		}
		rows += s[0]
	}

	outShape := first.Clone()
	outShape[0] = rows
	backend := tensors[0].backend
	raw := MustRaw("cat", outShape, tensors[0].DType(), backend.Device())

	data := raw.Data()
	off := 0
	for _, t := range tensors {
		off += copy(data[off:], t.raw.Data())
	}
	return New[T, B](raw, backend)
}

func resolveShape(current Shape, requested []int) Shape {
	shape := Shape(append([]int(nil), requested...))
	infer := -1
	known := 1
	for i, d := range shape {
		switch {
		case d == -1:
			if infer >= 0 {
				Mismatch("reshape", "only one dimension can be inferred, got %v", requested)
			}
			infer = i
		case d <= 0:
			Mismatch("reshape", "invalid dimension %d in %v", d, requested)
		default:
			known *= d
		}
	}
	if infer >= 0 {
		total := current.NumElements()
		if total%known != 0 {
			Mismatch("reshape", "cannot reshape %v into %v", current, requested)
		}
		shape[infer] = total / known
	}
	return shape
}
