package imageprint

import (
	"image"

	"github.com/andybons/gogif"
)

// Quantize reduces i to at most n colors.
func Quantize(i image.Image, n int) *image.Paletted {
	pal := image.NewPaletted(i.Bounds(), nil)
	quantizer := gogif.MedianCutQuantizer{NumColor: n}
	quantizer.Quantize(pal, i.Bounds(), i, image.Point{})
	return pal
}
