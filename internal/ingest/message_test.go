package ingest_test

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/Brownie44l1/wastewizard/internal/codec"
	"github.com/Brownie44l1/wastewizard/internal/ingest"
)

func roundTrip(t *testing.T, m *ingest.FrameMessage) codec.Source {
	t.Helper()
	b, err := m.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	src, err := ingest.DecodeMessage(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return src
}

func TestDecodeMessageYUV(t *testing.T) {
	const w, h = 8, 6
	y := bytes.Repeat([]byte{255}, w*h)
	uv := bytes.Repeat([]byte{128}, (w/2)*(h/2))
	m := &ingest.FrameMessage{
		Format: ingest.FormatYUV420,
		Width:  w,
		Height: h,
		Planes: []ingest.PlaneMessage{
			{Data: y, RowStride: w, PixelStride: 1},
			{Data: uv, RowStride: w / 2, PixelStride: 1},
			{Data: uv, RowStride: w / 2, PixelStride: 1},
		},
	}
	f, err := roundTrip(t, m).Decode(4, codec.Nearest)
	if err != nil {
		t.Fatal(err)
	}
	if r, g, b := f.RGB(2, 2); r != 255 || g != 255 || b != 255 {
		t.Errorf("pixel = %d,%d,%d, want white", r, g, b)
	}
}

func TestDecodeMessagePNG(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 20, 10))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+3] = 255, 255
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	m := &ingest.FrameMessage{Format: ingest.FormatPNG, Data: buf.Bytes(), Rotation: 180}
	f, err := roundTrip(t, m).Decode(5, codec.Bilinear)
	if err != nil {
		t.Fatal(err)
	}
	if f.Size() != 5 || f.Rotation() != 180 {
		t.Errorf("frame size %d rotation %d", f.Size(), f.Rotation())
	}
	if r, g, b := f.RGB(0, 0); r < 250 || g > 5 || b > 5 {
		t.Errorf("pixel = %d,%d,%d, want red", r, g, b)
	}
}

func TestDecodeMessageRGBA(t *testing.T) {
	pix := make([]byte, 4*4*4)
	for i := 0; i < len(pix); i += 4 {
		pix[i+2], pix[i+3] = 200, 255
	}
	f, err := roundTrip(t, &ingest.FrameMessage{Format: ingest.FormatRGBA, Width: 4, Height: 4, Data: pix}).
		Decode(4, codec.Nearest)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, b := f.RGB(3, 3); b != 200 {
		t.Errorf("blue = %d, want 200", b)
	}
}

func TestDecodeMessageErrors(t *testing.T) {
	var de *codec.DecodeError

	if _, err := ingest.DecodeMessage([]byte{0xff, 0x00, 0x13}); !errors.As(err, &de) {
		t.Errorf("garbage err = %v, want DecodeError", err)
	}

	bad := []*ingest.FrameMessage{
		{Format: "gif"},
		{Format: ingest.FormatYUV420, Width: 4, Height: 4},
		{Format: ingest.FormatJPEG},
	}
	for _, m := range bad {
		b, _ := m.Marshal()
		if _, err := ingest.DecodeMessage(b); !errors.As(err, &de) {
			t.Errorf("%+v: err = %v, want DecodeError", m, err)
		}
	}

	// Layout problems surface when the worker decodes.
	src := roundTrip(t, &ingest.FrameMessage{Format: ingest.FormatJPEG, Data: []byte("not a jpeg")})
	if _, err := src.Decode(4, codec.Auto); !errors.As(err, &de) {
		t.Errorf("corrupt jpeg err = %v, want DecodeError", err)
	}
	src = roundTrip(t, &ingest.FrameMessage{Format: ingest.FormatRGBA, Width: 4, Height: 4, Data: make([]byte, 10)})
	if _, err := src.Decode(4, codec.Auto); !errors.As(err, &de) {
		t.Errorf("short rgba err = %v, want DecodeError", err)
	}
	// width*4 wraps negative on 64-bit ints
	wrap := &ingest.FrameMessage{Format: ingest.FormatRGBA, Width: 1 << 61, Height: 1, Data: make([]byte, 4)}
	if _, err := roundTrip(t, wrap).Decode(4, codec.Auto); !errors.As(err, &de) {
		t.Errorf("wrapping rgba err = %v, want DecodeError", err)
	}
	if _, err := wrap.Image(); !errors.As(err, &de) {
		t.Errorf("wrapping rgba still err = %v, want DecodeError", err)
	}
}

func TestWireFieldNames(t *testing.T) {
	b, err := (&ingest.FrameMessage{Format: ingest.FormatRGBA, Width: 2, Height: 1, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}).Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := cbor.Unmarshal(b, &raw); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"format", "width", "height", "data"} {
		if _, ok := raw[k]; !ok {
			t.Errorf("missing key %q in %v", k, raw)
		}
	}
	if _, ok := raw["planes"]; ok {
		t.Error("empty planes should be omitted")
	}
}

func TestStillImage(t *testing.T) {
	pix := bytes.Repeat([]byte{10, 20, 30, 255}, 6*3)
	m, err := ingest.ParseMessage(mustMarshal(t, &ingest.FrameMessage{
		Format: ingest.FormatRGBA, Width: 6, Height: 3, Data: pix, Still: true,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !m.Still {
		t.Fatal("still flag lost on the wire")
	}
	img, err := m.Image()
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 6 || b.Dy() != 3 {
		t.Errorf("bounds = %v", b)
	}

	var de *codec.DecodeError
	yuv := &ingest.FrameMessage{Format: ingest.FormatYUV420, Width: 2, Height: 2}
	if _, err := yuv.Image(); !errors.As(err, &de) {
		t.Errorf("yuv still err = %v, want DecodeError", err)
	}
}

func mustMarshal(t *testing.T, m *ingest.FrameMessage) []byte {
	t.Helper()
	b, err := m.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return b
}
