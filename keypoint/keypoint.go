// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package keypoint is the public API of the facial keypoint regressor.
//
//	model := keypoint.NewCPU(keypoint.WithSeed(1))
//	if err := model.LoadWeights("keypoints.safetensors"); err != nil {
//	    log.Fatal(err)
//	}
//	out, err := model.Forward(batch, nn.Eval) // [N, 136]
//	points, err := keypoint.Points(out)      // N × 68 (x, y)
package keypoint

import (
	"github.com/born-ml/keypoints/backend/cpu"
	"github.com/born-ml/keypoints/internal/keypoint"
	"github.com/born-ml/keypoints/tensor"
)

// Architecture constants.
const (
	InputSize    = keypoint.InputSize
	NumKeypoints = keypoint.NumKeypoints
	OutputSize   = keypoint.OutputSize
	FlattenSize  = keypoint.FlattenSize
	DropoutRate  = keypoint.DropoutRate
)

// Regressor is the keypoint network on backend B.
type Regressor[B tensor.Backend] = keypoint.Regressor[B]

// Option configures a Regressor.
type Option = keypoint.Option

// Point is one (x, y) keypoint.
type Point = keypoint.Point

// ErrArchitecture is returned when loading weights of another network.
var ErrArchitecture = keypoint.ErrArchitecture

// WithSeed makes initialization and dropout reproducible.
func WithSeed(seed int64) Option {
	return keypoint.WithSeed(seed)
}

// NewRegressor creates a regressor on backend.
func NewRegressor[B tensor.Backend](backend B, opts ...Option) *Regressor[B] {
	return keypoint.NewRegressor(backend, opts...)
}

// NewCPU creates a regressor on a new CPU backend.
func NewCPU(opts ...Option) *Regressor[*cpu.Backend] {
	return keypoint.NewRegressor(cpu.New(), opts...)
}

// Points splits a [N, 136] output into N slices of 68 points.
func Points[B tensor.Backend](output *tensor.Tensor[float32, B]) ([][]Point, error) {
	return keypoint.Points(output)
}
