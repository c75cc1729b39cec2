// Package serialization reads and writes model weights in the SafeTensors
// format.
//
//	Format Structure:
//	  [8 bytes: Header Size N (uint64 LE)]
//	  [N bytes: JSON header]
//	  [Tensor data: raw little-endian bytes, tensors in name order]
//
// The JSON header maps each tensor name to its dtype, shape and
// [begin, end) byte range within the data section. The optional
// "__metadata__" entry holds string key/value pairs; the writer adds a
// SHA-256 of the data section under MetaChecksum and the reader verifies it
// when present.
//
// Example usage:
//
//	// Save
//	err := serialization.WriteFile("weights.safetensors", model.StateDict(), map[string]string{
//	    "architecture": "keypoint-regressor",
//	})
//
//	// Load
//	f, err := serialization.ReadFile("weights.safetensors", tensor.CPU)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = model.LoadStateDict(f.Tensors)
package serialization
