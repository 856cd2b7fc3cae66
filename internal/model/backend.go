package model

import (
	"github.com/pkg/errors"
)

// IOSpec is what the engine learns from the artifact at load time.
type IOSpec struct {
	InputSize   int
	InputType   DType
	OutputWidth int
	OutputType  DType
	// OutputQuant only applies when OutputType is quantized.
	OutputQuant Quantization
}

func (s IOSpec) validate() error {
	if s.InputSize <= 0 {
		return errors.Errorf("input side %d must be positive", s.InputSize)
	}
	if s.InputType != Float32 && s.InputType != Uint8 {
		return errors.Errorf("unsupported input type %s", s.InputType)
	}
	if s.OutputWidth <= 0 {
		return errors.Errorf("output width %d must be positive", s.OutputWidth)
	}
	switch s.OutputType {
	case Float32:
	case Uint8, Int8:
		if s.OutputQuant.Scale <= 0 {
			return errors.Errorf("quantized %s output needs a positive scale, got %v", s.OutputType, s.OutputQuant.Scale)
		}
	default:
		return errors.Errorf("unsupported output type %s", s.OutputType)
	}
	return nil
}

// Backend runs the loaded network. Implementations are not required to be
// safe for concurrent use; the Engine serializes calls.
type Backend interface {
	Spec() IOSpec
	Run(in *InputTensor) (RawOutput, error)
	Close() error
}

// checkShape validates an NHWC [1, S, S, 3] input shape and returns S.
// A dynamic batch (-1 or 0) is accepted.
func checkShape(dims []int64) (int, error) {
	if len(dims) != 4 {
		return 0, errors.Errorf("input shape %v is not 4D", dims)
	}
	if dims[0] > 1 {
		return 0, errors.Errorf("input batch %d, want 1", dims[0])
	}
	if dims[1] <= 0 || dims[1] != dims[2] {
		return 0, errors.Errorf("input shape %v is not square", dims)
	}
	if dims[3] != 3 {
		return 0, errors.Errorf("input shape %v does not have 3 channels last", dims)
	}
	return int(dims[1]), nil
}

// outputWidth accepts [N] or [1, N].
func outputWidth(dims []int64) (int, error) {
	switch {
	case len(dims) == 1 && dims[0] > 0:
		return int(dims[0]), nil
	case len(dims) == 2 && dims[0] <= 1 && dims[1] > 0:
		return int(dims[1]), nil
	}
	return 0, errors.Errorf("output shape %v is not [1, N]", dims)
}
