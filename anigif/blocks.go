package anigif

// This file contains the top-level block grammar: header, logical screen
// descriptor, color tables, graphic control extensions and image
// descriptors.

import (
	"image"
	"image/color"
	"time"

	"github.com/pkg/errors"
)

// Block introducers and flags.
const (
	sExtension       = 0x21
	sImageDescriptor = 0x2C
	sTrailer         = 0x3B

	eGraphicControl = 0xF9

	fColorTable     = 0x80
	fInterlace      = 0x40
	fColorTableBits = 0x07

	gcTransparentFlag = 0x01
	gcBlockSize       = 4

	headerLen = 6
	// Header, logical screen descriptor and at least one more byte.
	minInputLen = 14
)

// MinDelay is the shortest delay any frame is given. Zero and very small
// delays found in files are raised to it.
const MinDelay = 20 * time.Millisecond

// ErrFormat is returned for input that is not a decodable GIF at all. Such
// input is never worth retrying.
var ErrFormat = errors.New("anigif: not a valid GIF")

// Disposal says what happens to a frame's area before the next frame is
// drawn.
type Disposal uint8

const (
	DisposalNone Disposal = iota
	DisposalDoNotDispose
	DisposalRestoreBackground
	DisposalRestorePrevious
)

func (d Disposal) String() string {
	switch d {
	case DisposalNone:
		return "none"
	case DisposalDoNotDispose:
		return "keep"
	case DisposalRestoreBackground:
		return "background"
	case DisposalRestorePrevious:
		return "previous"
	default:
		return "unknown"
	}
}

// ColorTable is a global or local palette. Every entry is opaque.
type ColorTable []color.RGBA

// ScreenDescriptor is the header and logical screen descriptor of a file.
type ScreenDescriptor struct {
	Version         string
	Width, Height   int
	GlobalTable     ColorTable
	BackgroundIndex byte
	AspectRatio     byte
}

// GraphicControl holds the state declared by a graphic control extension.
// It applies to the next image only.
type GraphicControl struct {
	Disposal         Disposal
	Delay            time.Duration
	Transparent      bool
	TransparentIndex byte
}

func defaultGraphicControl() GraphicControl {
	return GraphicControl{Delay: MinDelay}
}

// ImageDescriptor describes one image block.
type ImageDescriptor struct {
	Bounds     image.Rectangle
	LocalTable ColorTable
	Interlaced bool
}

func delayFromCentiseconds(cs uint16) time.Duration {
	d := time.Duration(cs) * 10 * time.Millisecond
	if d < MinDelay {
		return MinDelay
	}
	return d
}

// tableSize returns the number of entries encoded in the low bits of a
// packed field.
func tableSize(packed byte) int {
	return 1 << ((packed & fColorTableBits) + 1)
}

// readHeader reads the signature and logical screen descriptor. The global
// color table is decoded when withTable is set and skipped otherwise.
func readHeader(r *reader, withTable bool) (ScreenDescriptor, error) {
	var sd ScreenDescriptor
	if len(r.b) < minInputLen {
		return sd, errors.Wrapf(ErrFormat, "input is %d bytes", len(r.b))
	}
	sig, _ := r.readN(headerLen)
	sd.Version = string(sig)
	if sd.Version != "GIF87a" && sd.Version != "GIF89a" {
		return sd, errors.Wrapf(ErrFormat, "signature %q", sd.Version)
	}
	w, _ := r.readUint16()
	h, _ := r.readUint16()
	if w == 0 || h == 0 {
		return sd, errors.Wrapf(ErrFormat, "logical screen is %dx%d", w, h)
	}
	sd.Width, sd.Height = int(w), int(h)
	packed, _ := r.readByte()
	sd.BackgroundIndex, _ = r.readByte()
	sd.AspectRatio, _ = r.readByte()

	if packed&fColorTable != 0 {
		n := tableSize(packed)
		if !withTable {
			if err := r.skip(3 * n); err != nil {
				return sd, errors.Wrap(err, "skipping global color table")
			}
			return sd, nil
		}
		t, err := readColorTable(r, n)
		if err != nil {
			return sd, errors.Wrap(err, "reading global color table")
		}
		sd.GlobalTable = t
	}
	return sd, nil
}

func readColorTable(r *reader, n int) (ColorTable, error) {
	b, err := r.readN(3 * n)
	if err != nil {
		return nil, err
	}
	t := make(ColorTable, n)
	for i := range t {
		t[i] = color.RGBA{R: b[3*i], G: b[3*i+1], B: b[3*i+2], A: 0xFF}
	}
	return t, nil
}

// readGraphicControl reads the body of a graphic control extension; the
// introducer and label have already been consumed. A body with a size other
// than 4 is skipped and ok is false.
func readGraphicControl(r *reader) (gc GraphicControl, ok bool, err error) {
	gc = defaultGraphicControl()
	size, err := r.readByte()
	if err != nil {
		return gc, false, err
	}
	if size != gcBlockSize {
		if err := r.skip(int(size)); err != nil {
			return gc, false, err
		}
		_, err := r.readByte()
		return gc, false, err
	}
	b, err := r.readN(gcBlockSize + 1)
	if err != nil {
		return gc, false, err
	}
	gc.Disposal = Disposal((b[0] >> 2) & 0x07)
	if gc.Disposal > DisposalRestorePrevious {
		gc.Disposal = DisposalNone
	}
	gc.Transparent = b[0]&gcTransparentFlag != 0
	gc.Delay = delayFromCentiseconds(uint16(b[1]) | uint16(b[2])<<8)
	gc.TransparentIndex = b[3]
	// b[4] is the block terminator.
	return gc, true, nil
}

// readImageDescriptor reads an image descriptor and its local color table;
// the introducer has already been consumed.
func readImageDescriptor(r *reader, withTable bool) (ImageDescriptor, error) {
	var id ImageDescriptor
	b, err := r.readN(9)
	if err != nil {
		return id, err
	}
	x := int(b[0]) | int(b[1])<<8
	y := int(b[2]) | int(b[3])<<8
	w := int(b[4]) | int(b[5])<<8
	h := int(b[6]) | int(b[7])<<8
	id.Bounds = image.Rect(x, y, x+w, y+h)
	packed := b[8]
	id.Interlaced = packed&fInterlace != 0
	if packed&fColorTable != 0 {
		n := tableSize(packed)
		if !withTable {
			return id, r.skip(3 * n)
		}
		if id.LocalTable, err = readColorTable(r, n); err != nil {
			return id, err
		}
	}
	return id, nil
}

// PeekConfig returns the logical screen size of a GIF from its first ten
// bytes, without validating the rest of the input.
func PeekConfig(b []byte) (image.Config, error) {
	if len(b) < 10 || string(b[:3]) != "GIF" {
		return image.Config{}, errors.Wrap(ErrFormat, "peek")
	}
	w := int(b[6]) | int(b[7])<<8
	h := int(b[8]) | int(b[9])<<8
	if w == 0 || h == 0 {
		return image.Config{}, errors.Wrapf(ErrFormat, "peek: logical screen is %dx%d", w, h)
	}
	return image.Config{Width: w, Height: h, ColorModel: color.RGBAModel}, nil
}
