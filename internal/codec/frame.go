// Package codec turns camera and gallery pixel buffers into the square RGB
// raster the classifier consumes.
//
// Every source goes through the same steps: center-crop to the largest square
// that fits, resample to the model side length, then apply the capture
// rotation. The result is a Frame, which is never modified after it is built.
package codec

import (
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"
)

// Frame is a canonical square RGB raster, 3 bytes per pixel, row-major.
type Frame struct {
	size     int
	pix      []uint8
	rotation int
}

// NewFrame copies pix into a new Frame. pix must hold size*size RGB triples.
func NewFrame(size int, pix []uint8, rotation int) (*Frame, error) {
	if size <= 0 {
		return nil, decodeErrorf("frame size %d must be positive", size)
	}
	if len(pix) != size*size*3 {
		return nil, decodeErrorf("frame pixel buffer has %d bytes, want %d", len(pix), size*size*3)
	}
	rot, err := normalizeRotation(rotation)
	if err != nil {
		return nil, err
	}
	buf := make([]uint8, len(pix))
	copy(buf, pix)
	return &Frame{size: size, pix: buf, rotation: rot}, nil
}

// Size is the side length in pixels.
func (f *Frame) Size() int { return f.size }

// Rotation is the clockwise rotation in degrees that was applied to the raster.
func (f *Frame) Rotation() int { return f.rotation }

// RGB returns the channel values at (x, y).
func (f *Frame) RGB(x, y int) (r, g, b uint8) {
	i := (y*f.size + x) * 3
	return f.pix[i], f.pix[i+1], f.pix[i+2]
}

// Pix returns a copy of the raw RGB buffer.
func (f *Frame) Pix() []uint8 {
	out := make([]uint8, len(f.pix))
	copy(out, f.pix)
	return out
}

// Source is anything that can be decoded into a canonical frame of a given side.
type Source interface {
	Decode(size int, r Resampler) (*Frame, error)
}

// Resampler selects how the cropped square is scaled to the model side.
type Resampler int

const (
	// Auto uses nearest-neighbour when the crop is at least 3x the target
	// side and bilinear otherwise.
	Auto Resampler = iota
	Nearest
	Bilinear
)

func (r Resampler) String() string {
	switch r {
	case Nearest:
		return "nearest"
	case Bilinear:
		return "bilinear"
	default:
		return "auto"
	}
}

// ParseResampler maps a config value onto a Resampler. Empty means Auto.
func ParseResampler(s string) (Resampler, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return Auto, nil
	case "nearest":
		return Nearest, nil
	case "bilinear":
		return Bilinear, nil
	}
	return Auto, fmt.Errorf("unknown resampler %q", s)
}

// pick resolves Auto for a given crop side.
func (r Resampler) pick(crop, size int) Resampler {
	if r != Auto {
		return r
	}
	if crop >= 3*size {
		return Nearest
	}
	return Bilinear
}

// MaxSide bounds either dimension of a source raster. Larger frames are
// refused before any buffer arithmetic.
const MaxSide = 1 << 14

func checkSide(w, h int) error {
	if w <= 0 || h <= 0 || w > MaxSide || h > MaxSide {
		return decodeErrorf("source is %dx%d, each side must be in [1, %d]", w, h, MaxSide)
	}
	return nil
}

// normalizeRotation folds any multiple of 90 into 0, 90, 180 or 270.
func normalizeRotation(deg int) (int, error) {
	if deg%90 != 0 {
		return 0, decodeErrorf("rotation %d is not a multiple of 90", deg)
	}
	return ((deg % 360) + 360) % 360, nil
}

// orient applies a clockwise rotation. imaging rotates counter-clockwise.
func orient(img image.Image, deg int) image.Image {
	switch deg {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	}
	return img
}

// finish rotates the sampled square and packs it into a Frame.
func finish(sampled image.Image, size, rotation int) (*Frame, error) {
	nrgba := imaging.Clone(orient(sampled, rotation))
	b := nrgba.Bounds()
	if b.Dx() != size || b.Dy() != size {
		return nil, decodeErrorf("resampled raster is %dx%d, want %dx%d", b.Dx(), b.Dy(), size, size)
	}
	pix := make([]uint8, size*size*3)
	for y := 0; y < size; y++ {
		row := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+size*4]
		for x := 0; x < size; x++ {
			o := (y*size + x) * 3
			pix[o] = row[x*4]
			pix[o+1] = row[x*4+1]
			pix[o+2] = row[x*4+2]
		}
	}
	return &Frame{size: size, pix: pix, rotation: rotation}, nil
}
