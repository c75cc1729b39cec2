package keypoint

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/born-ml/keypoints/internal/serialization"
)

// Weight file metadata.
const (
	MetaArchitecture = "architecture"
	MetaInputSize    = "input_size"
	MetaNumKeypoints = "num_keypoints"
	MetaSeed         = "seed"

	Architecture = "keypoint-regressor/v1"
)

// ErrArchitecture is returned when a weight file was written for a
// different network.
var ErrArchitecture = errors.New("weights were saved for a different architecture")

func (r *Regressor[B]) metadata() map[string]string {
	return map[string]string{
		MetaArchitecture: Architecture,
		MetaInputSize:    strconv.Itoa(InputSize),
		MetaNumKeypoints: strconv.Itoa(NumKeypoints),
		MetaSeed:         strconv.FormatInt(r.seed, 10),
	}
}

// SaveWeights writes the parameters to path as SafeTensors.
func (r *Regressor[B]) SaveWeights(path string) error {
	if err := serialization.WriteFile(path, r.StateDict(), r.metadata()); err != nil {
		return fmt.Errorf("save weights: %w", err)
	}
	return nil
}

// WriteWeights writes the parameters to w as SafeTensors.
func (r *Regressor[B]) WriteWeights(w io.Writer) error {
	if err := serialization.WriteSafeTensors(w, r.StateDict(), r.metadata()); err != nil {
		return fmt.Errorf("write weights: %w", err)
	}
	return nil
}

// LoadWeights replaces the parameters with those stored at path.
func (r *Regressor[B]) LoadWeights(path string) error {
	f, err := serialization.ReadFile(path, r.backend.Device())
	if err != nil {
		return fmt.Errorf("load weights: %w", err)
	}
	return r.load(f)
}

// ReadWeights replaces the parameters with those read from rd.
func (r *Regressor[B]) ReadWeights(rd io.Reader) error {
	f, err := serialization.ReadSafeTensors(rd, r.backend.Device())
	if err != nil {
		return fmt.Errorf("read weights: %w", err)
	}
	return r.load(f)
}

func (r *Regressor[B]) load(f *serialization.File) error {
	if arch, ok := f.Metadata[MetaArchitecture]; ok && arch != Architecture {
		return fmt.Errorf("load weights: %w: %q", ErrArchitecture, arch)
	}
	if err := r.LoadStateDict(f.Tensors); err != nil {
		return fmt.Errorf("load weights: %w", err)
	}
	return nil
}
