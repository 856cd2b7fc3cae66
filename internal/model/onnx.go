package model

import (
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// The onnxruntime environment is process wide. Each backend holds a
// reference and the last Close tears it down.
var env struct {
	sync.Mutex
	refs int
}

func acquireEnvironment() error {
	env.Lock()
	defer env.Unlock()
	if env.refs == 0 && !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return errors.Wrap(err, "failed to initialize ONNX environment")
		}
	}
	env.refs++
	return nil
}

func releaseEnvironment() error {
	env.Lock()
	defer env.Unlock()
	if env.refs == 0 {
		return nil
	}
	env.refs--
	if env.refs > 0 {
		return nil
	}
	return ort.DestroyEnvironment()
}

// onnxBackend runs an ONNX artifact through onnxruntime. Tensors are created
// per call so nothing is shared between inferences.
type onnxBackend struct {
	session *ort.DynamicAdvancedSession
	spec    IOSpec
}

func onnxType(t ort.TensorElementDataType) (DType, error) {
	switch t {
	case ort.TensorElementDataTypeFloat:
		return Float32, nil
	case ort.TensorElementDataTypeUint8:
		return Uint8, nil
	case ort.TensorElementDataTypeInt8:
		return Int8, nil
	}
	return 0, errors.Errorf("unsupported tensor element type %v", t)
}

func openONNX(opts Options, meta *Metadata) (Backend, error) {
	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}
	if err := acquireEnvironment(); err != nil {
		return nil, err
	}
	b, err := newONNXBackend(opts, meta)
	if err != nil {
		_ = releaseEnvironment()
		return nil, err
	}
	return b, nil
}

func newONNXBackend(opts Options, meta *Metadata) (*onnxBackend, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read model inputs/outputs")
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, errors.Errorf("model has %d inputs and %d outputs, want 1 and 1", len(inputs), len(outputs))
	}
	in, out := inputs[0], outputs[0]

	var spec IOSpec
	if spec.InputSize, err = checkShape(in.Dimensions); err != nil {
		return nil, err
	}
	if spec.InputType, err = onnxType(in.DataType); err != nil {
		return nil, errors.Wrap(err, "input")
	}
	if spec.OutputWidth, err = outputWidth(out.Dimensions); err != nil {
		return nil, err
	}
	if spec.OutputType, err = onnxType(out.DataType); err != nil {
		return nil, errors.Wrap(err, "output")
	}
	if spec.OutputType.Quantized() {
		// ONNX graph outputs carry no scale/zero point; the sidecar does.
		if meta.OutputQuantization == nil {
			return nil, errors.New("quantized output needs output_quantization in metadata")
		}
		spec.OutputQuant = *meta.OutputQuantization
	}

	so, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}
	defer so.Destroy()
	if opts.NumThreads > 0 {
		if err := so.SetIntraOpNumThreads(opts.NumThreads); err != nil {
			return nil, errors.Wrap(err, "failed to set thread count")
		}
	}

	session, err := ort.NewDynamicAdvancedSession(opts.ModelPath,
		[]string{in.Name}, []string{out.Name}, so)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ONNX session")
	}
	return &onnxBackend{session: session, spec: spec}, nil
}

func (b *onnxBackend) Spec() IOSpec { return b.spec }

func (b *onnxBackend) Run(t *InputTensor) (RawOutput, error) {
	shape := ort.NewShape(t.Shape[:]...)
	var (
		input ort.ArbitraryTensor
		err   error
	)
	switch t.Type {
	case Float32:
		input, err = ort.NewTensor(shape, t.Float32)
	case Uint8:
		input, err = ort.NewTensor(shape, t.Uint8)
	default:
		err = errors.Errorf("unsupported input type %s", t.Type)
	}
	if err != nil {
		return RawOutput{}, errors.Wrap(err, "failed to create input tensor")
	}
	defer input.Destroy()

	// nil outputs are allocated by the session
	outputs := []ort.ArbitraryTensor{nil}
	if err := b.session.Run([]ort.ArbitraryTensor{input}, outputs); err != nil {
		return RawOutput{}, errors.Wrap(err, "inference failed")
	}
	defer outputs[0].Destroy()

	out := RawOutput{Type: b.spec.OutputType, Quant: b.spec.OutputQuant}
	switch o := outputs[0].(type) {
	case *ort.Tensor[float32]:
		out.Float32 = append([]float32(nil), o.GetData()...)
	case *ort.Tensor[uint8]:
		out.Uint8 = append([]uint8(nil), o.GetData()...)
	case *ort.Tensor[int8]:
		out.Int8 = append([]int8(nil), o.GetData()...)
	default:
		return RawOutput{}, errors.Errorf("unexpected output value %T", outputs[0])
	}
	return out, nil
}

func (b *onnxBackend) Close() error {
	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.session = nil
	if envErr := releaseEnvironment(); err == nil {
		err = envErr
	}
	return err
}
