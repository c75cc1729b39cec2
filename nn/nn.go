// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package nn exposes the modules and parameters the keypoint model is
// built from.
package nn

import (
	"github.com/born-ml/keypoints/internal/nn"
	"github.com/born-ml/keypoints/tensor"
)

// Mode selects train or eval behavior for a forward pass.
type Mode = nn.Mode

// Forward modes.
const (
	Eval  Mode = nn.Eval
	Train Mode = nn.Train
)

// Module is the interface all layers implement.
type Module[B tensor.Backend] = nn.Module[B]

// Parameter is a named trainable tensor with a gradient slot.
type Parameter[B tensor.Backend] = nn.Parameter[B]

// Stage is one named step of a Sequential.
type Stage[B tensor.Backend] = nn.Stage[B]

// MissingParameterError is returned when a state dict lacks a parameter.
type MissingParameterError = nn.MissingParameterError

// AttachGrads stores gradients from a backward pass on params and returns
// how many received one.
func AttachGrads[B tensor.Backend](params []*Parameter[B], grads map[*tensor.RawTensor]*tensor.RawTensor) int {
	return nn.AttachGrads(params, grads)
}

// CountParameters sums the element counts of params.
func CountParameters[B tensor.Backend](params []*Parameter[B]) int {
	return nn.CountParameters(params)
}
