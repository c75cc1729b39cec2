package serialization

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/born-ml/keypoints/internal/tensor"
)

// WriteSafeTensors writes tensors to w in SafeTensors format. Tensors are
// laid out in name order. metadata is copied into the header together with
// the data checksum under MetaChecksum.
func WriteSafeTensors(w io.Writer, tensors map[string]*tensor.RawTensor, metadata map[string]string) error {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		if err := ValidateTensorName(name); err != nil {
			return err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	header := Header{
		Metadata: make(map[string]string, len(metadata)+1),
		Tensors:  make(map[string]TensorInfo, len(tensors)),
	}
	for k, v := range metadata {
		header.Metadata[k] = v
	}

	sum := newChecksum()
	var offset int64
	for _, name := range names {
		raw := tensors[name]
		dtype, err := dtypeToString(raw.DType())
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		size := int64(raw.ByteSize())
		header.Tensors[name] = TensorInfo{
			DType:       dtype,
			Shape:       raw.Shape().Clone(),
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
		sum.Write(raw.Data())
	}
	header.Metadata[MetaChecksum] = formatChecksum(sum)

	headerJSON, err := json.Marshal(&header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, name := range names {
		if _, err := w.Write(tensors[name].Data()); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	return nil
}

// WriteFile writes tensors to path, replacing any existing file.
func WriteFile(path string, tensors map[string]*tensor.RawTensor, metadata map[string]string) (err error) {
	//nolint:gosec // G304: path is supplied by the caller on purpose
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriterSize(file, 1<<20)
	if err := WriteSafeTensors(bw, tensors, metadata); err != nil {
		return err
	}
	return bw.Flush()
}
