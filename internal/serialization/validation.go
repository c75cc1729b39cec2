package serialization

import (
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/keypoints/internal/tensor"
)

// Validation limits for resource protection.
const (
	MaxHeaderSize    = 100 * 1024 * 1024 // 100MB
	MaxTensorCount   = 100_000
	MaxTensorNameLen = 4096
)

// ValidateTensorName rejects names that are too long or contain path
// separators, ".." or null bytes.
func ValidateTensorName(name string) error {
	if name == "" {
		return &ValidationError{Err: ErrInvalidTensorName, Details: "empty name"}
	}
	if len(name) > MaxTensorNameLen {
		return &ValidationError{
			Err:     ErrInvalidTensorName,
			Tensor:  name[:64] + "...",
			Details: fmt.Sprintf("length %d > max %d", len(name), MaxTensorNameLen),
		}
	}
	switch {
	case strings.Contains(name, ".."):
		return &ValidationError{Err: ErrInvalidTensorName, Tensor: name, Details: "contains '..'"}
	case strings.ContainsAny(name, `/\`):
		return &ValidationError{Err: ErrInvalidTensorName, Tensor: name, Details: "contains path separator"}
	case strings.Contains(name, "\x00"):
		return &ValidationError{Err: ErrInvalidTensorName, Tensor: name, Details: "contains null byte"}
	}
	return nil
}

// ValidateHeader checks names, dtypes and shapes of every tensor and that
// the byte ranges are non-negative, match dtype*shape, do not overlap and
// lie within dataSize.
func ValidateHeader(h *Header, dataSize int64) error {
	if len(h.Tensors) > MaxTensorCount {
		return &ValidationError{
			Err:     ErrTooManyTensors,
			Details: fmt.Sprintf("got %d, max %d", len(h.Tensors), MaxTensorCount),
		}
	}

	type span struct {
		name       string
		begin, end int64
	}
	spans := make([]span, 0, len(h.Tensors))

	for name, info := range h.Tensors {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		dt, err := stringToDType(info.DType)
		if err != nil {
			return fmt.Errorf("tensor %q: %w", name, err)
		}
		if err := tensor.Shape(info.Shape).Validate(); err != nil {
			return fmt.Errorf("tensor %q: %w", name, err)
		}

		begin, end := info.DataOffsets[0], info.DataOffsets[1]
		if begin < 0 || end < begin {
			return &ValidationError{
				Err:     ErrNegativeOffset,
				Tensor:  name,
				Details: fmt.Sprintf("data_offsets [%d, %d]", begin, end),
			}
		}
		want := int64(tensor.Shape(info.Shape).NumElements() * dt.Size())
		if end-begin != want {
			return &ValidationError{
				Err:     ErrSizeMismatch,
				Tensor:  name,
				Details: fmt.Sprintf("%d bytes for %s%v, want %d", end-begin, info.DType, info.Shape, want),
			}
		}
		if end > dataSize {
			return &ValidationError{
				Err:     ErrOutOfBounds,
				Tensor:  name,
				Details: fmt.Sprintf("end %d > data size %d", end, dataSize),
			}
		}
		spans = append(spans, span{name, begin, end})
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].begin < spans[j].begin })
	for i := 1; i < len(spans); i++ {
		prev, cur := spans[i-1], spans[i]
		if prev.end > cur.begin {
			return &ValidationError{
				Err:     ErrOffsetOverlap,
				Tensor:  prev.name,
				Tensor2: cur.name,
				Details: fmt.Sprintf("regions [%d-%d] and [%d-%d] overlap", prev.begin, prev.end, cur.begin, cur.end),
			}
		}
	}
	return nil
}

// dataSize returns the end of the last tensor, the length of the data
// section a well-formed file must provide.
func dataSize(h *Header) int64 {
	var n int64
	for _, info := range h.Tensors {
		if info.DataOffsets[1] > n {
			n = info.DataOffsets[1]
		}
	}
	return n
}
