// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides the pure Go CPU backend.
//
// Matrix products and im2col convolutions run on gonum's BLAS; batch
// samples are processed in parallel.
//
//	backend := cpu.New()
//	model := keypoint.NewRegressor(backend)
package cpu

import (
	internalcpu "github.com/born-ml/keypoints/internal/backend/cpu"
	"github.com/born-ml/keypoints/internal/parallel"
	"github.com/born-ml/keypoints/tensor"
)

// Backend is the CPU backend implementation.
type Backend = internalcpu.CPUBackend

var _ tensor.Backend = (*Backend)(nil)

// New creates a CPU backend using every available core.
func New() *Backend {
	return internalcpu.New()
}

// NewWithWorkers creates a CPU backend limited to n workers. n <= 0 uses
// every core; n == 1 runs sequentially.
func NewWithWorkers(n int) *Backend {
	b := internalcpu.New()
	b.SetParallel(parallel.WithWorkers(n))
	return b
}
