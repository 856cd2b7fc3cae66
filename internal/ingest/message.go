// Package ingest carries camera frames from remote producers into a stream
// session. Frames travel as CBOR FrameMessages, over a websocket or ZeroMQ.
package ingest

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/fxamacker/cbor/v2"

	"github.com/Brownie44l1/wastewizard/internal/codec"
)

// Frame formats.
const (
	FormatYUV420 = "yuv420" // three planes, Android YUV_420_888 layout
	FormatJPEG   = "jpeg"
	FormatPNG    = "png"
	FormatRGBA   = "rgba" // packed 8-bit RGBA rows
)

// PlaneMessage is one strided image plane.
type PlaneMessage struct {
	Data        []byte `cbor:"data"`
	RowStride   int    `cbor:"row_stride"`
	PixelStride int    `cbor:"pixel_stride"`
}

// FrameMessage is a single captured frame on the wire.
type FrameMessage struct {
	Format   string         `cbor:"format"`
	Width    int            `cbor:"width,omitempty"`
	Height   int            `cbor:"height,omitempty"`
	Rotation int            `cbor:"rotation,omitempty"`
	Planes   []PlaneMessage `cbor:"planes,omitempty"` // yuv420: Y, U, V
	Stride   int            `cbor:"stride,omitempty"` // rgba row stride, 0 means 4*width
	Data     []byte         `cbor:"data,omitempty"`   // jpeg/png bytes or rgba pixels
	Still    bool           `cbor:"still,omitempty"`  // a deliberate capture, scored on its own
}

// Marshal encodes m as CBOR.
func (m *FrameMessage) Marshal() ([]byte, error) {
	return cbor.Marshal(m)
}

// DecodeMessage parses a CBOR FrameMessage and returns it as a source. Pixel
// work is deferred to Source.Decode.
func DecodeMessage(b []byte) (codec.Source, error) {
	m, err := ParseMessage(b)
	if err != nil {
		return nil, err
	}
	return m.Source()
}

// ParseMessage decodes the CBOR envelope only.
func ParseMessage(b []byte) (*FrameMessage, error) {
	var m FrameMessage
	if err := cbor.Unmarshal(b, &m); err != nil {
		return nil, &codec.DecodeError{Reason: "malformed frame message", Err: err}
	}
	return &m, nil
}

// Source validates the message layout and wraps it as a codec.Source.
func (m *FrameMessage) Source() (codec.Source, error) {
	switch m.Format {
	case FormatYUV420:
		if len(m.Planes) != 3 {
			return nil, &codec.DecodeError{Reason: "yuv420 frame needs 3 planes"}
		}
		plane := func(p PlaneMessage) codec.Plane {
			return codec.Plane{Data: p.Data, RowStride: p.RowStride, PixelStride: p.PixelStride}
		}
		return &codec.YUV420{
			Width:    m.Width,
			Height:   m.Height,
			Y:        plane(m.Planes[0]),
			U:        plane(m.Planes[1]),
			V:        plane(m.Planes[2]),
			Rotation: m.Rotation,
		}, nil
	case FormatJPEG, FormatPNG:
		if len(m.Data) == 0 {
			return nil, &codec.DecodeError{Reason: m.Format + " frame has no data"}
		}
		return encoded{data: m.Data, rotation: m.Rotation}, nil
	case FormatRGBA:
		return codec.PackedRGBA{Width: m.Width, Height: m.Height, Stride: m.Stride, Pix: m.Data, Rotation: m.Rotation}, nil
	}
	return nil, &codec.DecodeError{Reason: "unknown frame format " + m.Format}
}

// Image decodes the whole capture, for scorers that crop it themselves.
// YUV frames are live preview only and are refused.
func (m *FrameMessage) Image() (image.Image, error) {
	switch m.Format {
	case FormatJPEG, FormatPNG:
		return decodeStill(m.Data)
	case FormatRGBA:
		return codec.PackedRGBA{Width: m.Width, Height: m.Height, Stride: m.Stride, Pix: m.Data}.Image()
	}
	return nil, &codec.DecodeError{Reason: "still capture must be jpeg, png or rgba, got " + m.Format}
}

// encoded is a compressed still, decoded on the inference worker.
type encoded struct {
	data     []byte
	rotation int
}

func (e encoded) Decode(size int, r codec.Resampler) (*codec.Frame, error) {
	img, err := decodeStill(e.data)
	if err != nil {
		return nil, err
	}
	return codec.FromImage(img, size, e.rotation, r)
}

// decodeStill reads the header first so an oversized image is refused before
// its raster is allocated.
func decodeStill(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &codec.DecodeError{Reason: "undecodable image", Err: err}
	}
	if cfg.Width > codec.MaxSide || cfg.Height > codec.MaxSide {
		return nil, &codec.DecodeError{Reason: fmt.Sprintf("image is %dx%d, larger than %d per side", cfg.Width, cfg.Height, codec.MaxSide)}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &codec.DecodeError{Reason: "undecodable image", Err: err}
	}
	return img, nil
}
