package nn

// Mode selects how stochastic layers behave during a forward pass.
type Mode int

const (
	// Eval is deterministic inference: dropout is the identity.
	Eval Mode = iota
	// Train enables dropout.
	Train
)

func (m Mode) String() string {
	switch m {
	case Eval:
		return "eval"
	case Train:
		return "train"
	default:
		return "unknown"
	}
}
