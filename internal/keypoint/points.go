package keypoint

import (
	"fmt"

	"github.com/born-ml/keypoints/internal/tensor"
)

// Point is one keypoint in model output units.
type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

// Points splits a [N, 136] output into N slices of 68 points. Each sample's
// outputs are read as consecutive (x, y) pairs.
func Points[B tensor.Backend](output *tensor.Tensor[float32, B]) ([][]Point, error) {
	shape := output.Shape()
	if len(shape) != 2 || shape[1] != OutputSize {
		return nil, fmt.Errorf("points: output shape %v, want [N, %d]: %w", shape, OutputSize, tensor.ErrShapeMismatch)
	}
	data := output.Data()
	out := make([][]Point, shape[0])
	for n := range out {
		row := data[n*OutputSize : (n+1)*OutputSize]
		pts := make([]Point, NumKeypoints)
		for k := range pts {
			pts[k] = Point{X: row[2*k], Y: row[2*k+1]}
		}
		out[n] = pts
	}
	return out, nil
}
