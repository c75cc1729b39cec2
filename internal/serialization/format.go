package serialization

import (
	"encoding/json"
	"fmt"

	"github.com/born-ml/keypoints/internal/tensor"
)

// SafeTensors dtype strings.
const (
	DTypeF32 = "F32"
	DTypeF64 = "F64"
)

const metadataKey = "__metadata__"

// TensorInfo describes one tensor in the header.
type TensorInfo struct {
	DType       string   `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [begin, end) within the data section
}

// Size returns the byte length of the tensor's data.
func (t TensorInfo) Size() int64 {
	return t.DataOffsets[1] - t.DataOffsets[0]
}

// Header is the parsed JSON header.
type Header struct {
	Metadata map[string]string
	Tensors  map[string]TensorInfo
}

// MarshalJSON writes the flat SafeTensors layout.
func (h *Header) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(h.Tensors)+1)
	if len(h.Metadata) > 0 {
		flat[metadataKey] = h.Metadata
	}
	for name, info := range h.Tensors {
		flat[name] = info
	}
	return json.Marshal(flat)
}

// UnmarshalJSON splits the flat layout into metadata and tensors.
func (h *Header) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	h.Tensors = make(map[string]TensorInfo, len(flat))
	for key, value := range flat {
		if key == metadataKey {
			if err := json.Unmarshal(value, &h.Metadata); err != nil {
				return fmt.Errorf("metadata: %w", err)
			}
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}
	return nil
}

func dtypeToString(dt tensor.DataType) (string, error) {
	switch dt {
	case tensor.Float32:
		return DTypeF32, nil
	case tensor.Float64:
		return DTypeF64, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedDType, dt)
	}
}

func stringToDType(s string) (tensor.DataType, error) {
	switch s {
	case DTypeF32:
		return tensor.Float32, nil
	case DTypeF64:
		return tensor.Float64, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedDType, s)
	}
}
