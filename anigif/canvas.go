package anigif

import (
	"image"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"badc0de.net/pkg/go-animgif/membudget"
)

// Frame is one decoded image block, ready to be composited.
type Frame struct {
	Bounds     image.Rectangle
	Indices    []byte
	Table      ColorTable
	Control    GraphicControl
	Interlaced bool
}

var (
	interlaceStart = [4]int{0, 4, 2, 1}
	interlaceStep  = [4]int{8, 8, 4, 2}
)

// Canvas is the logical screen that frames are composited onto. It
// persists across all frames of one file.
//
// Pixel memory is taken from an Allocator. Call Release when done.
type Canvas struct {
	img   *image.RGBA
	alloc membudget.Allocator

	snapshot     []byte
	prevBounds   image.Rectangle
	prevDisposal Disposal
}

// NewCanvas allocates a fully transparent canvas of the passed size.
func NewCanvas(w, h int, alloc membudget.Allocator) (*Canvas, error) {
	if alloc == nil {
		alloc = membudget.Unlimited
	}
	pix, err := alloc.Alloc(4 * w * h)
	if err != nil {
		return nil, errors.Wrapf(err, "allocating %dx%d canvas", w, h)
	}
	return &Canvas{
		img: &image.RGBA{
			Pix:    pix,
			Stride: 4 * w,
			Rect:   image.Rect(0, 0, w, h),
		},
		alloc: alloc,
	}, nil
}

// Image returns the canvas pixels. The image is overwritten by later calls
// to Apply.
func (c *Canvas) Image() *image.RGBA {
	return c.img
}

// Apply disposes of the previous frame's area as it requested, then draws f.
// It returns the disposal recorded for f, which is DisposalNone if f asked
// to restore the previous canvas but no snapshot could be allocated.
func (c *Canvas) Apply(f *Frame) Disposal {
	c.disposePrevious()

	disposal := f.Control.Disposal
	if disposal == DisposalRestorePrevious {
		if !c.takeSnapshot() {
			glog.Warningf("anigif: no memory for a %dx%d snapshot; frame will not be restored", c.img.Rect.Dx(), c.img.Rect.Dy())
			disposal = DisposalNone
		}
	} else {
		c.dropSnapshot()
	}

	if f.Interlaced {
		c.drawInterlaced(f)
	} else {
		c.draw(f)
	}

	c.prevBounds = f.Bounds
	c.prevDisposal = disposal
	return disposal
}

// Release returns all canvas memory to the allocator.
func (c *Canvas) Release() {
	c.dropSnapshot()
	if c.img != nil {
		c.alloc.Free(c.img.Pix)
		c.img = nil
	}
}

func (c *Canvas) disposePrevious() {
	switch c.prevDisposal {
	case DisposalRestoreBackground:
		c.clear(c.prevBounds)
	case DisposalRestorePrevious:
		if c.snapshot != nil {
			copy(c.img.Pix, c.snapshot)
		}
	}
}

func (c *Canvas) takeSnapshot() bool {
	if c.snapshot == nil {
		buf, err := c.alloc.Alloc(len(c.img.Pix))
		if err != nil {
			return false
		}
		c.snapshot = buf
	}
	copy(c.snapshot, c.img.Pix)
	return true
}

func (c *Canvas) dropSnapshot() {
	if c.snapshot != nil {
		c.alloc.Free(c.snapshot)
		c.snapshot = nil
	}
}

// clear makes r fully transparent.
func (c *Canvas) clear(r image.Rectangle) {
	r = r.Intersect(c.img.Rect)
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := c.img.Pix[c.img.PixOffset(r.Min.X, y):c.img.PixOffset(r.Max.X, y)]
		zero(row)
	}
}

func (c *Canvas) draw(f *Frame) {
	w := f.Bounds.Dx()
	for y := 0; y < f.Bounds.Dy(); y++ {
		c.drawRow(f, f.Bounds.Min.Y+y, f.Indices[y*w:(y+1)*w])
	}
}

func (c *Canvas) drawInterlaced(f *Frame) {
	w, h := f.Bounds.Dx(), f.Bounds.Dy()
	p := 0
	for pass := range interlaceStart {
		for y := interlaceStart[pass]; y < h; y += interlaceStep[pass] {
			c.drawRow(f, f.Bounds.Min.Y+y, f.Indices[p:p+w])
			p += w
		}
	}
}

// drawRow writes one row of indices at canvas row cy, starting at the
// frame's left edge. Pixels outside the canvas, transparent pixels and
// indices past the end of the table leave the canvas untouched.
func (c *Canvas) drawRow(f *Frame, cy int, row []byte) {
	if cy < 0 || cy >= c.img.Rect.Max.Y {
		return
	}
	cw := c.img.Rect.Max.X
	off := cy * c.img.Stride
	for x, ii := range row {
		cx := f.Bounds.Min.X + x
		if cx < 0 || cx >= cw {
			continue
		}
		if f.Control.Transparent && ii == f.Control.TransparentIndex {
			continue
		}
		if int(ii) >= len(f.Table) {
			continue
		}
		col := f.Table[ii]
		px := c.img.Pix[off+4*cx : off+4*cx+4 : off+4*cx+4]
		px[0], px[1], px[2], px[3] = col.R, col.G, col.B, 0xFF
	}
}
