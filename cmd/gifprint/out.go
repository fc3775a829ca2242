package main

import (
	"image"

	"github.com/nfnt/resize"

	"badc0de.net/pkg/go-animgif/imageprint"
)

func mode() imageprint.Mode {
	switch {
	case *rasterm:
		return imageprint.ModeRasTerm
	case !*col:
		return imageprint.ModeNoColor
	case *iterm:
		return imageprint.ModeITerm
	case *col256:
		return imageprint.Mode256
	}
	return imageprint.Mode24bit
}

// fit shrinks img to the terminal when -downsize is set.
func fit(img image.Image) image.Image {
	if !*downsize {
		return img
	}
	termSize, err := GetTermSize()
	if err != nil || termSize.WSRow < 2 {
		return img
	}
	if termSize.WSXPixel != 0 && termSize.WSYPixel != 0 && (*rasterm || *iterm) {
		// Image protocols can use the pixel size of the window.
		return resize.Thumbnail(termSize.WSXPixel/2, termSize.WSYPixel/2, img, resize.Lanczos3)
	}
	// Every pixel takes two columns.
	return resize.Thumbnail(termSize.WSCol/2, termSize.WSRow-1, img, resize.Lanczos3)
}
