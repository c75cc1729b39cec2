// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor is the public API for the tensors the keypoint model runs on.
//
//	backend := cpu.New()
//	x := tensor.Zeros[float32](tensor.Shape{1, 1, 226, 226}, backend)
//	y := x.Reshape(1, -1)
package tensor

import (
	"math/rand"

	"github.com/born-ml/keypoints/internal/tensor"
)

// DType is a constraint for tensor element types (float32, float64).
type DType = tensor.DType

// DataType identifies the element type of a RawTensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32 DataType = tensor.Float32
	Float64 DataType = tensor.Float64
)

// Device represents the device where tensor data resides.
type Device = tensor.Device

// CPU is the only supported device.
const CPU Device = tensor.CPU

// Shape represents the dimensions of a tensor.
type Shape = tensor.Shape

// Backend is the compute interface tensors dispatch to.
type Backend = tensor.Backend

// RawTensor is the untyped tensor representation backends operate on.
type RawTensor = tensor.RawTensor

// Tensor is a generic type-safe tensor bound to a backend.
type Tensor[T DType, B Backend] = tensor.Tensor[T, B]

// ShapeError reports incompatible ranks or extents.
type ShapeError = tensor.ShapeError

// ErrShapeMismatch is matched by every ShapeError via errors.Is.
var ErrShapeMismatch = tensor.ErrShapeMismatch

// NewRaw allocates a zero-filled RawTensor.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// New wraps raw in a typed tensor.
func New[T DType, B Backend](raw *RawTensor, b B) *Tensor[T, B] {
	return tensor.New[T, B](raw, b)
}

// FromSlice copies data into a tensor of the given shape.
func FromSlice[T DType, B Backend](data []T, shape Shape, b B) (*Tensor[T, B], error) {
	return tensor.FromSlice(data, shape, b)
}

// Zeros creates a zero-filled tensor.
func Zeros[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return tensor.Zeros[T](shape, b)
}

// Ones creates a tensor filled with ones.
func Ones[T DType, B Backend](shape Shape, b B) *Tensor[T, B] {
	return tensor.Ones[T](shape, b)
}

// Full creates a tensor filled with value.
func Full[T DType, B Backend](shape Shape, value T, b B) *Tensor[T, B] {
	return tensor.Full(shape, value, b)
}

// RandWith creates a tensor of U[0, 1) samples drawn from rng.
func RandWith[T DType, B Backend](shape Shape, rng *rand.Rand, b B) *Tensor[T, B] {
	return tensor.RandWith[T](shape, rng, b)
}

// Cat concatenates tensors along dimension 0.
func Cat[T DType, B Backend](tensors []*Tensor[T, B]) *Tensor[T, B] {
	return tensor.Cat(tensors)
}
