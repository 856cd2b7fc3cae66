package model

import (
	"math"

	"github.com/pkg/errors"
)

// Dequantize maps unsigned quantized values to reals.
func Dequantize(raw []uint8, q Quantization) []float32 {
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(int(v)-q.ZeroPoint) * q.Scale
	}
	return out
}

// DequantizeInt8 maps signed quantized values to reals.
func DequantizeInt8(raw []int8, q Quantization) []float32 {
	out := make([]float32, len(raw))
	for i, v := range raw {
		out[i] = float32(int(v)-q.ZeroPoint) * q.Scale
	}
	return out
}

// Softmax turns logits into a probability vector. The max is subtracted
// before exponentiating, so inputs that already look like probabilities come
// back as a valid simplex too. Non-finite input yields a uniform vector.
func Softmax(logits []float32) ProbabilityVector {
	out := make(ProbabilityVector, len(logits))
	if len(logits) == 0 {
		return out
	}
	hi := math.Inf(-1)
	for _, v := range logits {
		if f := float64(v); f > hi {
			hi = f
		}
	}
	var sum float64
	exps := make([]float64, len(logits))
	for i, v := range logits {
		exps[i] = math.Exp(float64(v) - hi)
		sum += exps[i]
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) || math.IsInf(hi, 0) {
		u := float32(1) / float32(len(out))
		for i := range out {
			out[i] = u
		}
		return out
	}
	for i := range out {
		p := float32(exps[i] / sum)
		if p < 0 {
			p = 0
		} else if p > 1 {
			p = 1
		}
		out[i] = p
	}
	return out
}

// RawOutput is the untouched output tensor of one forward pass.
type RawOutput struct {
	Type    DType
	Float32 []float32
	Uint8   []uint8
	Int8    []int8
	Quant   Quantization
}

// Decode dequantizes if needed and normalizes to probabilities.
func Decode(out RawOutput, width int) (ProbabilityVector, error) {
	var logits []float32
	switch out.Type {
	case Float32:
		logits = out.Float32
	case Uint8:
		logits = Dequantize(out.Uint8, out.Quant)
	case Int8:
		logits = DequantizeInt8(out.Int8, out.Quant)
	default:
		return nil, errors.Errorf("unsupported output type %s", out.Type)
	}
	if len(logits) != width {
		return nil, errors.Errorf("output has %d values, want %d", len(logits), width)
	}
	return Softmax(logits), nil
}
