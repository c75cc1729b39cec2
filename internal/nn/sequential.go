package nn

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/born-ml/keypoints/internal/tensor"
)

// Stage is one named step of a Sequential.
type Stage[B tensor.Backend] struct {
	Name   string
	Module Module[B]
}

// Sequential chains modules: each module's output becomes the next
// module's input.
//
// Stages carry names used to prefix their parameters ("conv1.weight").
// The same module may be added more than once; a parameterless module such
// as MaxPool2D can then be shared between blocks.
//
//	model := nn.NewSequential[Backend]()
//	model.AddNamed("conv1", conv1)
//	model.AddNamed("pool", pool)
//	model.AddNamed("conv2", conv2)
//	model.AddNamed("pool", pool)
type Sequential[B tensor.Backend] struct {
	stages []Stage[B]
}

// NewSequential creates a Sequential from modules, named by their index.
func NewSequential[B tensor.Backend](modules ...Module[B]) *Sequential[B] {
	s := &Sequential[B]{}
	for _, m := range modules {
		s.Add(m)
	}
	return s
}

// Add appends a module named by its position.
func (s *Sequential[B]) Add(module Module[B]) {
	s.AddNamed(strconv.Itoa(len(s.stages)), module)
}

// AddNamed appends a module under name. A name may repeat only if it refers
// to the same module.
func (s *Sequential[B]) AddNamed(name string, module Module[B]) {
	for _, st := range s.stages {
		if st.Name == name && st.Module != module {
			panic(fmt.Sprintf("sequential: stage name %q already used by another module", name))
		}
	}
	s.stages = append(s.stages, Stage[B]{Name: name, Module: module})
}

// Forward applies all stages in order.
func (s *Sequential[B]) Forward(input *tensor.Tensor[float32, B], mode Mode) *tensor.Tensor[float32, B] {
	out := input
	for _, st := range s.stages {
		out = st.Module.Forward(out, mode)
	}
	return out
}

// Len returns the number of stages.
func (s *Sequential[B]) Len() int {
	return len(s.stages)
}

// Stage returns the stage at index. Panics if index is out of bounds.
func (s *Sequential[B]) Stage(index int) Stage[B] {
	if index < 0 || index >= len(s.stages) {
		panic(fmt.Sprintf("sequential: stage index %d out of bounds [0, %d)", index, len(s.stages)))
	}
	return s.stages[index]
}

// Stages returns a copy of the stage list.
func (s *Sequential[B]) Stages() []Stage[B] {
	return append([]Stage[B](nil), s.stages...)
}

// Parameters returns every trainable parameter once, in stage order.
func (s *Sequential[B]) Parameters() []*Parameter[B] {
	var params []*Parameter[B]
	seen := make(map[*Parameter[B]]bool)
	for _, st := range s.stages {
		for _, p := range st.Module.Parameters() {
			if !seen[p] {
				seen[p] = true
				params = append(params, p)
			}
		}
	}
	return params
}

// NamedParameters maps "stage.param" to each parameter.
func (s *Sequential[B]) NamedParameters() map[string]*Parameter[B] {
	out := make(map[string]*Parameter[B])
	for _, st := range s.stages {
		for _, p := range st.Module.Parameters() {
			out[st.Name+"."+p.Name()] = p
		}
	}
	return out
}

// StateDict returns "stage.param" keys for every stage with parameters.
func (s *Sequential[B]) StateDict() map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor)
	for name, p := range s.NamedParameters() {
		out[name] = p.Tensor().Raw()
	}
	return out
}

// LoadStateDict copies every parameter from stateDict. Missing keys and
// shape mismatches are errors; extra keys are reported too, so a file from a
// different architecture is rejected. Nothing is copied unless every entry
// checks out.
func (s *Sequential[B]) LoadStateDict(stateDict map[string]*tensor.RawTensor) error {
	named := s.NamedParameters()
	for key := range stateDict {
		if _, ok := named[key]; !ok {
			return fmt.Errorf("unexpected parameter %q in state dict", key)
		}
	}
	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		raw, ok := stateDict[name]
		if !ok {
			return &MissingParameterError{Name: name}
		}
		if err := named[name].Check(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	for _, name := range names {
		copy(named[name].Tensor().Raw().Data(), stateDict[name].Data())
	}
	return nil
}

func (s *Sequential[B]) String() string {
	var sb strings.Builder
	sb.WriteString("Sequential(\n")
	for _, st := range s.stages {
		fmt.Fprintf(&sb, "  (%s): %v\n", st.Name, st.Module)
	}
	sb.WriteString(")")
	return sb.String()
}
