package model

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrClosed is returned by an Engine after Close.
var ErrClosed = errors.New("engine closed")

// EngineInitError means the model or its labels are unusable. It is only
// returned from construction; the engine is never left half initialized.
type EngineInitError struct {
	Path string
	Err  error
}

func (e *EngineInitError) Error() string {
	return fmt.Sprintf("init engine from %s: %v", e.Path, e.Err)
}

func (e *EngineInitError) Unwrap() error { return e.Err }

// InferenceError reports a single failed forward pass. The engine stays usable.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return "inference failed: " + e.Err.Error()
}

func (e *InferenceError) Unwrap() error { return e.Err }

// LabelMismatchError is reported when the label table does not match the
// model output width. It is recovered from by substituting fallback labels.
type LabelMismatchError struct {
	Labels  int
	Classes int
}

func (e *LabelMismatchError) Error() string {
	return fmt.Sprintf("label table has %d entries but model outputs %d classes", e.Labels, e.Classes)
}
