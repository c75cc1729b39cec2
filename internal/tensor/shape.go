package tensor

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch is the sentinel matched by every ShapeError.
var ErrShapeMismatch = errors.New("shape mismatch")

// ShapeError reports tensor ranks or extents that are incompatible with an
// operation. Backends panic with a *ShapeError; Catch turns it into an error.
type ShapeError struct {
	Op  string
	Msg string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, ErrShapeMismatch, e.Msg)
}

// Is reports whether target is ErrShapeMismatch.
func (e *ShapeError) Is(target error) bool {
	return target == ErrShapeMismatch
}

// Mismatch panics with a *ShapeError for op.
func Mismatch(op, format string, args ...any) {
	panic(&ShapeError{Op: op, Msg: fmt.Sprintf(format, args...)})
}

// Catch recovers a *ShapeError panic into *err. Any other panic is re-raised.
//
//	func (m *Model) Forward(x *Tensor) (out *Tensor, err error) {
//	    defer tensor.Catch(&err)
//	    ...
//	}
func Catch(err *error) {
	r := recover()
	if r == nil {
		return
	}
	if se, ok := r.(*ShapeError); ok {
		*err = se
		return
	}
	panic(r)
}

// Shape represents the dimensions of a tensor.
type Shape []int

// NumElements returns the total number of elements.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		n *= dim
	}
	return n
}

// Validate checks that every dimension is positive.
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return fmt.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// ComputeStrides calculates row-major strides for the shape.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	if len(s) == 0 {
		return strides
	}
	strides[len(s)-1] = 1
	for i := len(s) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * s[i+1]
	}
	return strides
}

// BroadcastShapes implements NumPy-style broadcasting.
//
// Shapes are compared right to left; dimensions are compatible when equal or
// when one of them is 1. Missing leading dimensions count as 1.
//
//	(3, 1) + (3, 5) → (3, 5), true, nil
//	(3, 5) + (3, 5) → (3, 5), false, nil
//	(3, 4) + (3, 5) → nil, false, error
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	n := max(len(a), len(b))
	result := make(Shape, n)
	needsBroadcast := len(a) != len(b)

	for i := 0; i < n; i++ {
		aDim, bDim := 1, 1
		if idx := len(a) - 1 - i; idx >= 0 {
			aDim = a[idx]
		}
		if idx := len(b) - 1 - i; idx >= 0 {
			bDim = b[idx]
		}

		switch {
		case aDim == bDim:
			result[n-1-i] = aDim
		case aDim == 1:
			result[n-1-i] = bDim
			needsBroadcast = true
		case bDim == 1:
			result[n-1-i] = aDim
			needsBroadcast = true
		default:
			return nil, false, fmt.Errorf("shapes not compatible for broadcasting: %v vs %v (dimension %d: %d vs %d)",
				a, b, n-1-i, aDim, bDim)
		}
	}

	return result, needsBroadcast, nil
}
