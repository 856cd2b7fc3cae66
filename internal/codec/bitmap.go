package codec

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// Bitmap is an already decoded image, e.g. a gallery photo or a still capture.
type Bitmap struct {
	Image    image.Image
	Rotation int
}

// Decode implements Source.
func (b Bitmap) Decode(size int, r Resampler) (*Frame, error) {
	return FromImage(b.Image, size, b.Rotation, r)
}

// PackedRGBA is a raw 4-bytes-per-pixel buffer as delivered by camera APIs
// that hand out RGBA_8888 frames.
type PackedRGBA struct {
	Width    int
	Height   int
	Stride   int // bytes per row; 0 means Width*4
	Pix      []byte
	Rotation int
}

// Decode implements Source.
func (p PackedRGBA) Decode(size int, r Resampler) (*Frame, error) {
	img, err := p.Image()
	if err != nil {
		return nil, err
	}
	return FromImage(img, size, p.Rotation, r)
}

// Image validates the buffer layout and wraps it without copying.
func (p PackedRGBA) Image() (*image.NRGBA, error) {
	if err := checkSide(p.Width, p.Height); err != nil {
		return nil, err
	}
	if p.Width > len(p.Pix)/4 {
		return nil, decodeErrorf("rgba buffer has %d bytes, too short for a row of %d pixels", len(p.Pix), p.Width)
	}
	row := p.Width * 4
	stride := p.Stride
	if stride == 0 {
		stride = row
	}
	if stride < row {
		return nil, decodeErrorf("rgba row stride %d shorter than row of %d pixels", stride, p.Width)
	}
	// (Height-1)*stride + row <= len(Pix), without multiplying first
	if p.Height-1 > (len(p.Pix)-row)/stride {
		return nil, decodeErrorf("rgba buffer has %d bytes, too short for %d rows of stride %d", len(p.Pix), p.Height, stride)
	}
	return &image.NRGBA{
		Pix:    p.Pix,
		Stride: stride,
		Rect:   image.Rect(0, 0, p.Width, p.Height),
	}, nil
}

// FromImage center-crops img to its largest square, resamples it to size and
// applies the clockwise rotation.
func FromImage(img image.Image, size, rotation int, r Resampler) (*Frame, error) {
	if img == nil {
		return nil, decodeErrorf("nil image")
	}
	if size <= 0 {
		return nil, decodeErrorf("target size %d must be positive", size)
	}
	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, decodeErrorf("empty image %v", bounds)
	}
	rot, err := normalizeRotation(rotation)
	if err != nil {
		return nil, err
	}

	crop := min(bounds.Dx(), bounds.Dy())
	var square image.Image = imaging.CropCenter(img, crop, crop)
	if crop != size {
		interp := resize.Bilinear
		if r.pick(crop, size) == Nearest {
			interp = resize.NearestNeighbor
		}
		square = resize.Resize(uint(size), uint(size), square, interp)
	}
	return finish(square, size, rot)
}
