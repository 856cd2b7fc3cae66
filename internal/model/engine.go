package model

import (
	"fmt"
	"image"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/wastewizard/internal/codec"
)

// Engine owns a loaded model and its label table. Forward passes are
// serialized, so one Engine may back several callers, but only one inference
// is ever in flight.
type Engine struct {
	mu      sync.Mutex
	backend Backend
	spec    IOSpec
	packer  Packer
	labels  []string
	log     *logrus.Entry
	closed  bool
}

// EngineOption customizes NewEngine.
type EngineOption func(*engineOptions)

type engineOptions struct {
	inputRange []float32
	log        *logrus.Entry
}

// WithInputRange pins the float input range, see NewPacker.
func WithInputRange(r []float32) EngineOption {
	return func(o *engineOptions) { o.inputRange = r }
}

// WithLogger sets the logger; the default is the logrus standard logger.
func WithLogger(l *logrus.Entry) EngineOption {
	return func(o *engineOptions) { o.log = l }
}

// NewEngine validates the backend's IO spec and binds the label table. A
// label table of the wrong length is replaced by FallbackLabels and logged.
// The backend is not closed on error; the caller still owns it.
func NewEngine(b Backend, labels []string, opts ...EngineOption) (*Engine, error) {
	o := engineOptions{log: logrus.WithField("component", "engine")}
	for _, opt := range opts {
		opt(&o)
	}
	if b == nil {
		return nil, &EngineInitError{Path: "<nil>", Err: errors.New("no backend")}
	}
	spec := b.Spec()
	if err := spec.validate(); err != nil {
		return nil, &EngineInitError{Path: "model", Err: err}
	}
	packer, err := NewPacker(spec.InputSize, spec.InputType, o.inputRange)
	if err != nil {
		return nil, &EngineInitError{Path: "model", Err: err}
	}
	resolved, err := ResolveLabels(labels, spec.OutputWidth)
	if err != nil {
		o.log.WithError(err).WithField("fallback", resolved).Warn("label table rejected, using fallback labels")
	}
	o.log.WithFields(logrus.Fields{
		"input":   spec.InputType.String(),
		"output":  spec.OutputType.String(),
		"size":    spec.InputSize,
		"classes": spec.OutputWidth,
	}).Info("engine ready")
	return &Engine{
		backend: b,
		spec:    spec,
		packer:  packer,
		labels:  resolved,
		log:     o.log,
	}, nil
}

// Probabilities runs one forward pass over f.
func (e *Engine) Probabilities(f *codec.Frame) (ProbabilityVector, error) {
	tensor, err := e.packer.Pack(f)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	raw, err := e.run(tensor)
	if err != nil {
		return nil, err
	}
	probs, err := Decode(raw, e.spec.OutputWidth)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	return probs, nil
}

// Infer runs the backend on an already packed tensor.
func (e *Engine) Infer(t *InputTensor) (ProbabilityVector, error) {
	if t == nil || t.Type != e.spec.InputType || t.Shape != e.packer.shape() {
		return nil, &InferenceError{Err: errors.Errorf("tensor does not match model input %v %s", e.packer.shape(), e.spec.InputType)}
	}
	raw, err := e.run(t)
	if err != nil {
		return nil, err
	}
	probs, err := Decode(raw, e.spec.OutputWidth)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	return probs, nil
}

// InferRaw runs a caller-supplied [1,S,S,3] tensor.
func (e *Engine) InferRaw(values []float32) (ProbabilityVector, error) {
	t, err := e.packer.Raw(values)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}
	return e.Infer(t)
}

func (e *Engine) run(t *InputTensor) (out RawOutput, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return RawOutput{}, &InferenceError{Err: ErrClosed}
	}
	defer func() {
		if r := recover(); r != nil {
			err = &InferenceError{Err: errors.Errorf("backend panic: %v", r)}
		}
	}()
	out, err = e.backend.Run(t)
	if err != nil {
		return RawOutput{}, &InferenceError{Err: err}
	}
	return out, nil
}

// Result resolves the top-1 of p against the label table.
func (e *Engine) Result(p ProbabilityVector) Result {
	idx, conf := p.Top()
	return Result{Label: e.Label(idx), Confidence: conf, ClassIndex: idx}
}

// Response expands p into the full per-label response.
func (e *Engine) Response(p ProbabilityVector) *PredictionResponse {
	r := e.Result(p)
	preds := make(map[string]float32, len(p))
	for i, v := range p {
		preds[e.Label(i)] = v
	}
	return &PredictionResponse{
		Class:       r.Label,
		Confidence:  r.Confidence,
		ClassIndex:  r.ClassIndex,
		Predictions: preds,
	}
}

// Classify runs one pass over a canonical frame.
func (e *Engine) Classify(f *codec.Frame) (Result, error) {
	p, err := e.Probabilities(f)
	if err != nil {
		return Result{}, err
	}
	return e.Result(p), nil
}

// ClassifyImage center-crops and resizes img, then classifies it.
func (e *Engine) ClassifyImage(img image.Image) (Result, error) {
	f, err := codec.FromImage(img, e.spec.InputSize, 0, codec.Bilinear)
	if err != nil {
		return Result{}, err
	}
	return e.Classify(f)
}

// SelfTest classifies an all-white raster to prove the model runs end to end.
func (e *Engine) SelfTest() (Result, error) {
	pix := make([]uint8, e.spec.InputSize*e.spec.InputSize*3)
	for i := range pix {
		pix[i] = 0xff
	}
	f, err := codec.NewFrame(e.spec.InputSize, pix, 0)
	if err != nil {
		return Result{}, err
	}
	return e.Classify(f)
}

// Label returns the label for idx, or class_<idx> when out of range.
func (e *Engine) Label(idx int) string {
	if idx >= 0 && idx < len(e.labels) {
		return e.labels[idx]
	}
	return fmt.Sprintf("class_%d", idx)
}

// Labels returns a copy of the resolved label table.
func (e *Engine) Labels() []string {
	out := make([]string, len(e.labels))
	copy(out, e.labels)
	return out
}

func (e *Engine) InputSize() int  { return e.spec.InputSize }
func (e *Engine) NumClasses() int { return e.spec.OutputWidth }
func (e *Engine) Spec() IOSpec    { return e.spec }

// Close releases the backend. It waits for an in-flight inference.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.backend.Close()
}
