package serialization

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// MetaChecksum is the metadata key holding the hex SHA-256 of the data
// section.
const MetaChecksum = "born.sha256"

// ComputeChecksum computes SHA-256 checksum of data.
func ComputeChecksum(data []byte) [32]byte {
	return sha256.Sum256(data)
}

func newChecksum() hash.Hash {
	return sha256.New()
}

func formatChecksum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}

// ValidateChecksum compares the checksum of data against the hex digest
// stored in metadata. A missing entry is not an error.
func ValidateChecksum(data []byte, metadata map[string]string) error {
	stored, ok := metadata[MetaChecksum]
	if !ok {
		return nil
	}
	sum := ComputeChecksum(data)
	if hex.EncodeToString(sum[:]) != stored {
		return ErrChecksumMismatch
	}
	return nil
}
