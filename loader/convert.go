package loader

import (
	"image"
	"math"
)

// TargetSize returns the size a w×h frame is scaled to so that neither side
// exceeds maxDim, keeping the aspect ratio. A maxDim of zero means no limit.
func TargetSize(w, h, maxDim int) image.Point {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return image.Pt(w, h)
	}
	s := math.Min(float64(maxDim)/float64(w), float64(maxDim)/float64(h))
	tw := int(math.Floor(float64(w)*s + 0.5))
	th := int(math.Floor(float64(h)*s + 0.5))
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	return image.Pt(tw, th)
}

// downsample writes src scaled to tw×th into dst as packed RGBA, picking the
// nearest source pixel.
func downsample(dst []byte, src *image.RGBA, tw, th int) {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	if tw == w && th == h && src.Stride == 4*w {
		copy(dst, src.Pix[:4*w*h])
		return
	}
	o := 0
	for y := 0; y < th; y++ {
		sy := int(int64(y) * int64(h) / int64(th))
		row := src.Pix[sy*src.Stride:]
		for x := 0; x < tw; x++ {
			sx := int(int64(x) * int64(w) / int64(tw))
			copy(dst[o:o+4], row[4*sx:4*sx+4])
			o += 4
		}
	}
}
