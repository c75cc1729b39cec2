package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/born-ml/keypoints/internal/tensor"
)

// File is the decoded content of a SafeTensors stream.
type File struct {
	Metadata map[string]string
	Tensors  map[string]*tensor.RawTensor
}

// ReadHeader reads the size prefix and JSON header from r.
func ReadHeader(r io.Reader) (*Header, error) {
	var headerSize uint64
	if err := binary.Read(r, binary.LittleEndian, &headerSize); err != nil {
		return nil, fmt.Errorf("failed to read header size: %w", err)
	}
	if headerSize > MaxHeaderSize {
		return nil, &ValidationError{
			Err:     ErrHeaderTooLarge,
			Details: fmt.Sprintf("%d bytes, max %d", headerSize, MaxHeaderSize),
		}
	}

	headerBytes := make([]byte, headerSize)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var header Header
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("failed to parse header JSON: %w", err)
	}
	return &header, nil
}

// ReadSafeTensors decodes a SafeTensors stream. Every tensor is validated
// and copied into a RawTensor on device.
func ReadSafeTensors(r io.Reader, device tensor.Device) (*File, error) {
	header, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	size := dataSize(header)
	if err := ValidateHeader(header, size); err != nil {
		return nil, err
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("failed to read tensor data: %w", err)
	}
	if err := ValidateChecksum(data, header.Metadata); err != nil {
		return nil, err
	}

	f := &File{
		Metadata: header.Metadata,
		Tensors:  make(map[string]*tensor.RawTensor, len(header.Tensors)),
	}
	for name, info := range header.Tensors {
		dtype, _ := stringToDType(info.DType) // validated above
		raw, err := tensor.NewRaw(tensor.Shape(info.Shape), dtype, device)
		if err != nil {
			return nil, fmt.Errorf("tensor %s: %w", name, err)
		}
		copy(raw.Data(), data[info.DataOffsets[0]:info.DataOffsets[1]])
		f.Tensors[name] = raw
	}
	return f, nil
}

// ReadFile reads a SafeTensors file from path.
func ReadFile(path string, device tensor.Device) (*File, error) {
	//nolint:gosec // G304: path is supplied by the caller on purpose
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	f, err := ReadSafeTensors(bufio.NewReaderSize(file, 1<<20), device)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}
