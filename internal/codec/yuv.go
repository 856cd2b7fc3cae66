package codec

import (
	"image"
)

// Plane is one plane of a planar image with independent row and pixel strides.
// Semi-planar (NV21/NV12) chroma shows up as PixelStride 2.
type Plane struct {
	Data        []byte
	RowStride   int
	PixelStride int
}

// YUV420 is a camera frame with a full resolution luma plane and two
// half resolution chroma planes.
type YUV420 struct {
	Width    int
	Height   int
	Y        Plane
	U        Plane
	V        Plane
	Rotation int
}

func (p Plane) validate(name string, w, h int) error {
	if p.PixelStride < 1 {
		return decodeErrorf("%s plane pixel stride %d", name, p.PixelStride)
	}
	if len(p.Data) == 0 {
		return decodeErrorf("%s plane is empty", name)
	}
	// Bounds are checked by division so hostile strides cannot overflow.
	if w-1 > (len(p.Data)-1)/p.PixelStride {
		return decodeErrorf("%s plane has %d bytes, too short for a row of %d samples", name, len(p.Data), w)
	}
	row := (w-1)*p.PixelStride + 1
	if p.RowStride < row {
		return decodeErrorf("%s plane row stride %d too small for width %d", name, p.RowStride, w)
	}
	if h-1 > (len(p.Data)-row)/p.RowStride {
		return decodeErrorf("%s plane has %d bytes, too short for %d rows of stride %d", name, len(p.Data), h, p.RowStride)
	}
	return nil
}

func (p Plane) at(x, y int) float64 {
	return float64(p.Data[y*p.RowStride+x*p.PixelStride])
}

// bilinear samples the plane at fractional coordinates clamped to
// [x0, x1] x [y0, y1].
func (p Plane) bilinear(fx, fy float64, x0, y0, x1, y1 int) float64 {
	fx = clampf(fx, float64(x0), float64(x1))
	fy = clampf(fy, float64(y0), float64(y1))
	ix, iy := int(fx), int(fy)
	nx, ny := min(ix+1, x1), min(iy+1, y1)
	dx, dy := fx-float64(ix), fy-float64(iy)
	top := p.at(ix, iy)*(1-dx) + p.at(nx, iy)*dx
	bot := p.at(ix, ny)*(1-dx) + p.at(nx, ny)*dx
	return top*(1-dy) + bot*dy
}

// Decode implements Source.
func (f *YUV420) Decode(size int, r Resampler) (*Frame, error) {
	if f == nil {
		return nil, decodeErrorf("nil yuv source")
	}
	if err := checkSide(f.Width, f.Height); err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, decodeErrorf("target size %d must be positive", size)
	}
	rot, err := normalizeRotation(f.Rotation)
	if err != nil {
		return nil, err
	}
	cw, ch := (f.Width+1)/2, (f.Height+1)/2
	if err := f.Y.validate("Y", f.Width, f.Height); err != nil {
		return nil, err
	}
	if err := f.U.validate("U", cw, ch); err != nil {
		return nil, err
	}
	if err := f.V.validate("V", cw, ch); err != nil {
		return nil, err
	}

	crop := min(f.Width, f.Height)
	startX := (f.Width - crop) / 2
	startY := (f.Height - crop) / 2

	out := image.NewNRGBA(image.Rect(0, 0, size, size))
	if r.pick(crop, size) == Nearest {
		f.sampleNearest(out, size, crop, startX, startY)
	} else {
		f.sampleBilinear(out, size, crop, startX, startY)
	}
	return finish(out, size, rot)
}

func (f *YUV420) sampleNearest(out *image.NRGBA, size, crop, startX, startY int) {
	for oy := 0; oy < size; oy++ {
		sy := startY + oy*crop/size
		row := out.Pix[oy*out.Stride:]
		for ox := 0; ox < size; ox++ {
			sx := startX + ox*crop/size
			r, g, b := yuvToRGB(f.Y.at(sx, sy), f.U.at(sx/2, sy/2), f.V.at(sx/2, sy/2))
			row[ox*4], row[ox*4+1], row[ox*4+2], row[ox*4+3] = r, g, b, 0xff
		}
	}
}

func (f *YUV420) sampleBilinear(out *image.NRGBA, size, crop, startX, startY int) {
	scale := float64(crop) / float64(size)
	x1, y1 := startX+crop-1, startY+crop-1
	cx0, cy0 := startX/2, startY/2
	cx1, cy1 := x1/2, y1/2
	for oy := 0; oy < size; oy++ {
		fy := float64(startY) + (float64(oy)+0.5)*scale - 0.5
		row := out.Pix[oy*out.Stride:]
		for ox := 0; ox < size; ox++ {
			fx := float64(startX) + (float64(ox)+0.5)*scale - 0.5
			y := f.Y.bilinear(fx, fy, startX, startY, x1, y1)
			u := f.U.bilinear(fx/2, fy/2, cx0, cy0, cx1, cy1)
			v := f.V.bilinear(fx/2, fy/2, cx0, cy0, cx1, cy1)
			r, g, b := yuvToRGB(y, u, v)
			row[ox*4], row[ox*4+1], row[ox*4+2], row[ox*4+3] = r, g, b, 0xff
		}
	}
}

// yuvToRGB is the BT.601 full-range conversion.
func yuvToRGB(y, u, v float64) (r, g, b uint8) {
	u -= 128
	v -= 128
	return clamp8(y + 1.402*v),
		clamp8(y - 0.344136*u - 0.714136*v),
		clamp8(y + 1.772*u)
}

func clamp8(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	}
	return uint8(v + 0.5)
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
