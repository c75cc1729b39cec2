package server

import (
	"context"
	"fmt"
	"image"

	"github.com/born-ml/keypoints/internal/config"
	"github.com/born-ml/keypoints/internal/keypoint"
	"github.com/born-ml/keypoints/internal/nn"
	"github.com/born-ml/keypoints/internal/preprocess"
	"github.com/born-ml/keypoints/internal/tensor"
)

// Model is the inference surface the HTTP handlers need.
type Model interface {
	// Predict returns 68 keypoints per image in source image pixels.
	Predict(ctx context.Context, imgs []image.Image) ([][]keypoint.Point, error)
	Info() ModelInfo
}

// ModelInfo describes the served model.
type ModelInfo struct {
	Architecture string  `json:"architecture"`
	InputSize    int     `json:"input_size"`
	NumKeypoints int     `json:"num_keypoints"`
	Parameters   int     `json:"parameters"`
	Backend      string  `json:"backend"`
	Weights      string  `json:"weights,omitempty"`
	Scale        float32 `json:"calibration_scale"`
	Offset       float32 `json:"calibration_offset"`
}

// Predictor runs a Regressor in eval mode behind the Model interface.
// Eval forwards share no mutable state, so Predict is safe for concurrent
// use.
type Predictor[B tensor.Backend] struct {
	model    *keypoint.Regressor[B]
	pipeline *preprocess.Pipeline
	calib    config.Calibration
	weights  string
}

// NewPredictor wraps model. weights is reported by Info only.
func NewPredictor[B tensor.Backend](model *keypoint.Regressor[B], calib config.Calibration, weights string) *Predictor[B] {
	return &Predictor[B]{
		model:    model,
		pipeline: preprocess.New(keypoint.InputSize),
		calib:    calib,
		weights:  weights,
	}
}

// Predict preprocesses imgs, runs the model and maps the calibrated
// outputs back to each source image.
func (p *Predictor[B]) Predict(ctx context.Context, imgs []image.Image) ([][]keypoint.Point, error) {
	x, frames, err := preprocess.Batch(p.pipeline, imgs, p.model.Backend())
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out, err := p.model.Forward(x, nn.Eval)
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	points, err := keypoint.Points(out)
	if err != nil {
		return nil, err
	}

	for i, pts := range points {
		for k, pt := range pts {
			sx, sy := frames[i].ToSource(p.calib.Apply(pt.X), p.calib.Apply(pt.Y))
			pts[k] = keypoint.Point{X: sx, Y: sy}
		}
	}
	return points, nil
}

// Info reports the model architecture and calibration.
func (p *Predictor[B]) Info() ModelInfo {
	return ModelInfo{
		Architecture: keypoint.Architecture,
		InputSize:    keypoint.InputSize,
		NumKeypoints: keypoint.NumKeypoints,
		Parameters:   p.model.NumParameters(),
		Backend:      p.model.Backend().Name(),
		Weights:      p.weights,
		Scale:        p.calib.Scale,
		Offset:       p.calib.Offset,
	}
}
