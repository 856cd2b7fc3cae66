//go:build tflite

package model

import (
	"github.com/mattn/go-tflite"
	"github.com/pkg/errors"
)

// tfliteBackend runs the original .tflite artifact. Unlike ONNX, the output
// quantization parameters come from the artifact itself.
type tfliteBackend struct {
	model   *tflite.Model
	options *tflite.InterpreterOptions
	interp  *tflite.Interpreter
	spec    IOSpec
}

func tfliteType(t tflite.TensorType) (DType, error) {
	switch t {
	case tflite.Float32:
		return Float32, nil
	case tflite.UInt8:
		return Uint8, nil
	case tflite.Int8:
		return Int8, nil
	}
	return 0, errors.Errorf("unsupported tensor type %v", t)
}

func tensorDims(t *tflite.Tensor) []int64 {
	dims := make([]int64, t.NumDims())
	for i := range dims {
		dims[i] = int64(t.Dim(i))
	}
	return dims
}

func openTFLite(opts Options, meta *Metadata) (Backend, error) {
	b := &tfliteBackend{}
	b.model = tflite.NewModelFromFile(opts.ModelPath)
	if b.model == nil {
		return nil, errors.Errorf("cannot load model %s", opts.ModelPath)
	}
	b.options = tflite.NewInterpreterOptions()
	if opts.NumThreads > 0 {
		b.options.SetNumThread(opts.NumThreads)
	}
	b.interp = tflite.NewInterpreter(b.model, b.options)
	if b.interp == nil {
		b.Close()
		return nil, errors.New("cannot create interpreter")
	}
	if status := b.interp.AllocateTensors(); status != tflite.OK {
		b.Close()
		return nil, errors.Errorf("allocate tensors: status %v", status)
	}

	in := b.interp.GetInputTensor(0)
	out := b.interp.GetOutputTensor(0)
	if in == nil || out == nil {
		b.Close()
		return nil, errors.New("model has no input or output tensor")
	}

	var err error
	if b.spec.InputSize, err = checkShape(tensorDims(in)); err != nil {
		b.Close()
		return nil, err
	}
	if b.spec.InputType, err = tfliteType(in.Type()); err != nil {
		b.Close()
		return nil, errors.Wrap(err, "input")
	}
	if b.spec.OutputWidth, err = outputWidth(tensorDims(out)); err != nil {
		b.Close()
		return nil, err
	}
	if b.spec.OutputType, err = tfliteType(out.Type()); err != nil {
		b.Close()
		return nil, errors.Wrap(err, "output")
	}
	if b.spec.OutputType.Quantized() {
		q := out.QuantizationParams()
		b.spec.OutputQuant = Quantization{Scale: float32(q.Scale), ZeroPoint: q.ZeroPoint}
		if meta.OutputQuantization != nil {
			b.spec.OutputQuant = *meta.OutputQuantization
		}
	}
	return b, nil
}

func (b *tfliteBackend) Spec() IOSpec { return b.spec }

func (b *tfliteBackend) Run(t *InputTensor) (RawOutput, error) {
	in := b.interp.GetInputTensor(0)
	switch t.Type {
	case Float32:
		if n := copy(in.Float32s(), t.Float32); n != len(t.Float32) {
			return RawOutput{}, errors.Errorf("input tensor holds %d values, got %d", n, len(t.Float32))
		}
	case Uint8:
		if n := copy(in.UInt8s(), t.Uint8); n != len(t.Uint8) {
			return RawOutput{}, errors.Errorf("input tensor holds %d values, got %d", n, len(t.Uint8))
		}
	default:
		return RawOutput{}, errors.Errorf("unsupported input type %s", t.Type)
	}
	if status := b.interp.Invoke(); status != tflite.OK {
		return RawOutput{}, errors.Errorf("invoke: status %v", status)
	}

	out := b.interp.GetOutputTensor(0)
	raw := RawOutput{Type: b.spec.OutputType, Quant: b.spec.OutputQuant}
	switch b.spec.OutputType {
	case Float32:
		raw.Float32 = append([]float32(nil), out.Float32s()...)
	case Uint8:
		raw.Uint8 = append([]uint8(nil), out.UInt8s()...)
	case Int8:
		raw.Int8 = append([]int8(nil), out.Int8s()...)
	}
	return raw, nil
}

func (b *tfliteBackend) Close() error {
	if b.interp != nil {
		b.interp.Delete()
	}
	if b.options != nil {
		b.options.Delete()
	}
	if b.model != nil {
		b.model.Delete()
	}
	return nil
}
