// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package autodiff provides reverse-mode automatic differentiation.
//
//	backend := autodiff.New(cpu.New())
//	model := keypoint.NewRegressor(backend)
//	backend.Tape().StartRecording()
//	out, _ := model.Forward(x, nn.Train)
//	grads := autodiff.Backward(out, backend)
//	nn.AttachGrads(model.Parameters(), grads)
package autodiff

import (
	"github.com/born-ml/keypoints/internal/autodiff"
	"github.com/born-ml/keypoints/tensor"
)

// Backend is the autodiff-enabled backend.
type Backend[B tensor.Backend] = autodiff.AutodiffBackend[B]

// New creates a new autodiff backend wrapping the given backend.
func New[B tensor.Backend](backend B) *Backend[B] {
	return autodiff.New(backend)
}

// GradientTape records operations for automatic differentiation.
type GradientTape = autodiff.GradientTape

// BackwardCapable interface for backends that support backpropagation.
type BackwardCapable = autodiff.BackwardCapable

// Backward returns the gradient of sum(t) with respect to every recorded
// tensor.
func Backward[T tensor.DType, B BackwardCapable](t *tensor.Tensor[T, B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	return autodiff.Backward(t, backend)
}

// BackwardWith seeds the backward pass with an explicit output gradient.
func BackwardWith[T tensor.DType, B BackwardCapable](t, grad *tensor.Tensor[T, B], backend B) map[*tensor.RawTensor]*tensor.RawTensor {
	return autodiff.BackwardWith(t, grad, backend)
}
