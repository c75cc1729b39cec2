package autodiff

import (
	"sync"

	"github.com/born-ml/keypoints/internal/autodiff/ops"
	"github.com/born-ml/keypoints/internal/tensor"
)

// GradientTape records operations during the forward pass and computes
// gradients during the backward pass.
//
// Usage:
//
//	tape := NewGradientTape()
//	tape.StartRecording()
//	// ... perform operations ...
//	gradients := tape.Backward(output, outputGrad, backend)
type GradientTape struct {
	mu         sync.Mutex
	operations []ops.Operation // in execution order
	recording  bool
}

// NewGradientTape creates a new gradient tape.
func NewGradientTape() *GradientTape {
	return &GradientTape{
		operations: make([]ops.Operation, 0, 64),
	}
}

// StartRecording enables operation recording.
func (t *GradientTape) StartRecording() {
	t.mu.Lock()
	t.recording = true
	t.mu.Unlock()
}

// StopRecording disables operation recording.
func (t *GradientTape) StopRecording() {
	t.mu.Lock()
	t.recording = false
	t.mu.Unlock()
}

// IsRecording reports whether the tape is currently recording operations.
func (t *GradientTape) IsRecording() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recording
}

// Record adds an operation to the tape if it is recording.
func (t *GradientTape) Record(op ops.Operation) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.recording {
		t.operations = append(t.operations, op)
	}
}

// Clear removes all recorded operations. Recording state is preserved.
func (t *GradientTape) Clear() {
	t.mu.Lock()
	t.operations = t.operations[:0]
	t.mu.Unlock()
}

// NumOps returns the number of recorded operations.
func (t *GradientTape) NumOps() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.operations)
}

// Backward seeds output with outputGrad and walks the tape in reverse,
// applying the chain rule. Gradients of tensors used more than once are
// summed. The result maps every tensor reached to its gradient.
//
// Recording is suspended for the duration of the walk.
func (t *GradientTape) Backward(output, outputGrad *tensor.RawTensor, backend tensor.Backend) map[*tensor.RawTensor]*tensor.RawTensor {
	t.mu.Lock()
	operations := append([]ops.Operation(nil), t.operations...)
	wasRecording := t.recording
	t.recording = false
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		t.recording = wasRecording
		t.mu.Unlock()
	}()

	grads := map[*tensor.RawTensor]*tensor.RawTensor{output: outputGrad}

	for i := len(operations) - 1; i >= 0; i-- {
		op := operations[i]
		grad, ok := grads[op.Output()]
		if !ok {
			continue
		}
		inputGrads := op.Backward(grad, backend)
		for j, input := range op.Inputs() {
			if j >= len(inputGrads) || inputGrads[j] == nil {
				continue
			}
			if existing, ok := grads[input]; ok {
				grads[input] = backend.Add(existing, inputGrads[j])
			} else {
				grads[input] = inputGrads[j]
			}
		}
	}

	return grads
}
