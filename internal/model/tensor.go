package model

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/Brownie44l1/wastewizard/internal/codec"
)

// DType is a tensor element type.
type DType int

const (
	Float32 DType = iota + 1
	Uint8
	Int8
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "float32"
	case Uint8:
		return "uint8"
	case Int8:
		return "int8"
	}
	return fmt.Sprintf("dtype(%d)", int(d))
}

// Quantized reports whether the type needs dequantization.
func (d DType) Quantized() bool { return d == Uint8 || d == Int8 }

// InputTensor is a [1, S, S, 3] NHWC tensor. Exactly one of Float32 or Uint8
// is populated, matching Type.
type InputTensor struct {
	Shape   [4]int64
	Type    DType
	Float32 []float32
	Uint8   []uint8
}

// Packer lays a canonical frame out the way the model input expects.
type Packer struct {
	size  int
	dtype DType
	lo    float32
	step  float32
}

// NewPacker builds a packer for an S x S input of the given type. For float
// inputs the byte value v becomes lo + v*(hi-lo)/255, so [0, 255] passes raw
// channel values straight through.
func NewPacker(size int, dtype DType, inputRange []float32) (Packer, error) {
	if size <= 0 {
		return Packer{}, errors.Errorf("input size %d must be positive", size)
	}
	if dtype != Float32 && dtype != Uint8 {
		return Packer{}, errors.Errorf("unsupported input type %s", dtype)
	}
	lo, hi := float32(0), float32(255)
	if len(inputRange) != 0 {
		if len(inputRange) != 2 || inputRange[1] <= inputRange[0] {
			return Packer{}, errors.Errorf("invalid input range %v", inputRange)
		}
		lo, hi = inputRange[0], inputRange[1]
	}
	return Packer{size: size, dtype: dtype, lo: lo, step: (hi - lo) / 255}, nil
}

func (p Packer) shape() [4]int64 {
	return [4]int64{1, int64(p.size), int64(p.size), 3}
}

// Pack allocates a fresh tensor for f.
func (p Packer) Pack(f *codec.Frame) (*InputTensor, error) {
	if f == nil {
		return nil, errors.New("nil frame")
	}
	if f.Size() != p.size {
		return nil, errors.Errorf("frame is %dx%d, model wants %dx%d", f.Size(), f.Size(), p.size, p.size)
	}
	n := p.size * p.size * 3
	t := &InputTensor{
		Shape: p.shape(),
		Type:  p.dtype,
	}
	pix := f.Pix()
	if p.dtype == Uint8 {
		t.Uint8 = pix
		return t, nil
	}
	t.Float32 = make([]float32, n)
	for i, v := range pix {
		t.Float32[i] = p.lo + float32(v)*p.step
	}
	return t, nil
}

// Raw packs caller-supplied NHWC values. Byte inputs are rounded and clamped.
func (p Packer) Raw(values []float32) (*InputTensor, error) {
	if n := p.size * p.size * 3; len(values) != n {
		return nil, errors.Errorf("expected %d values, got %d", n, len(values))
	}
	t := &InputTensor{Shape: p.shape(), Type: p.dtype}
	if p.dtype == Float32 {
		t.Float32 = append([]float32(nil), values...)
		return t, nil
	}
	t.Uint8 = make([]uint8, len(values))
	for i, v := range values {
		switch {
		case v <= 0:
		case v >= 255:
			t.Uint8[i] = 255
		default:
			t.Uint8[i] = uint8(v + 0.5)
		}
	}
	return t, nil
}
