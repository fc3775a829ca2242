package anigif

import (
	"context"
	"image"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"badc0de.net/pkg/go-animgif/membudget"
)

var (
	// ErrNoColorTable is returned when an image has neither a local nor a
	// global color table.
	ErrNoColorTable = errors.New("anigif: image has no color table")
	// ErrEmptyFrame is returned when no pixel data at all could be decoded
	// for an image.
	ErrEmptyFrame = errors.New("anigif: image data is empty")
	// ErrNoFrames is returned when decoding finished without emitting any
	// frame.
	ErrNoFrames = errors.New("anigif: no frames")
)

// FrameHandler receives every emitted frame.
//
// HandleFrame is called synchronously from Decode. canvas is owned by the
// decoder and is only valid until HandleFrame returns; index counts emitted
// frames from zero. Returning an error stops decoding.
type FrameHandler interface {
	HandleFrame(canvas *image.RGBA, delay time.Duration, index int) error
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(canvas *image.RGBA, delay time.Duration, index int) error

func (f FrameHandlerFunc) HandleFrame(canvas *image.RGBA, delay time.Duration, index int) error {
	return f(canvas, delay, index)
}

// Result summarizes a decode.
type Result struct {
	Width, Height int
	SourceFrames  int
	Emitted       int
	JunkBytes     int
	// EndReason is "trailer", "eof" or "truncated".
	EndReason string
	Plan      *Plan
}

// Decoder decodes GIF files. The zero value emits at most one frame and
// allocates without limit.
//
// A Decoder reuses its LZW tables across calls and must not be used
// concurrently.
type Decoder struct {
	// MaxFrames is the frame budget passed to the planner.
	MaxFrames int
	// Alloc provides canvas, snapshot and index buffer memory.
	Alloc membudget.Allocator

	lzw lzwDecoder
}

// NewDecoder returns a decoder with the passed frame budget and allocator.
func NewDecoder(maxFrames int, alloc membudget.Allocator) *Decoder {
	return &Decoder{MaxFrames: maxFrames, Alloc: alloc}
}

// Decode decodes data and passes each frame kept by the plan to h.
//
// Skipped frames are still decoded, so that the canvas is correct for the
// frames after them. ctx is checked before every image; a frame which has
// started decoding is always completed.
func (d *Decoder) Decode(ctx context.Context, data []byte, h FrameHandler) (Result, error) {
	res := Result{EndReason: "eof"}
	alloc := d.Alloc
	if alloc == nil {
		alloc = membudget.Unlimited
	}

	plan, err := BuildPlan(data, d.MaxFrames)
	if err != nil {
		glog.Warningf("anigif: frame planning failed, emitting the first %d frames: %v", plan.Budget, err)
	}
	res.Plan = plan

	r := newReader(data)
	sd, err := readHeader(r, true)
	if err != nil {
		return res, err
	}
	res.Width, res.Height = sd.Width, sd.Height
	glog.V(2).Infof("anigif: decode %s %dx%d budget=%d bytes=%d", sd.Version, sd.Width, sd.Height, plan.Budget, len(data))

	canvas, err := NewCanvas(sd.Width, sd.Height, alloc)
	if err != nil {
		return res, err
	}
	defer canvas.Release()

	var idx []byte
	defer func() { alloc.Free(idx) }()

	gc := defaultGraphicControl()

blocks:
	for r.remaining() > 0 {
		b, _ := r.readByte()
		switch b {
		case 0x00:
			continue
		case sTrailer:
			res.EndReason = "trailer"
			break blocks
		case sExtension:
			label, err := r.readByte()
			if err != nil {
				res.EndReason = "truncated"
				break blocks
			}
			if label != eGraphicControl {
				r.skipSubBlocks()
				continue
			}
			next, ok, err := readGraphicControl(r)
			if err != nil {
				res.EndReason = "truncated"
				break blocks
			}
			if ok {
				gc = next
			}
			glog.V(3).Infof("anigif: control disposal=%v delay=%v transparent=%v/%d", gc.Disposal, gc.Delay, gc.Transparent, gc.TransparentIndex)
		case sImageDescriptor:
			if err := ctx.Err(); err != nil {
				return res, errors.Wrapf(err, "decode stopped before frame %d", res.SourceFrames)
			}
			id, err := readImageDescriptor(r, true)
			if err != nil {
				res.EndReason = "truncated"
				break blocks
			}
			table := id.LocalTable
			if table == nil {
				table = sd.GlobalTable
			}
			if table == nil {
				return res, errors.Wrapf(ErrNoColorTable, "frame %d", res.SourceFrames)
			}
			minCodeSize, err := r.readByte()
			if err != nil {
				res.EndReason = "truncated"
				break blocks
			}

			n := id.Bounds.Dx() * id.Bounds.Dy()
			if cap(idx) < n {
				alloc.Free(idx)
				idx = nil
				if idx, err = alloc.Alloc(n); err != nil {
					return res, errors.Wrapf(err, "index buffer for frame %d", res.SourceFrames)
				}
			}
			idx = idx[:n]
			src := &subBlockReader{r: r}
			got := d.lzw.decode(src, int(minCodeSize), idx)
			src.drain()
			if n > 0 && got == 0 {
				return res, errors.Wrapf(ErrEmptyFrame, "frame %d", res.SourceFrames)
			}
			glog.V(3).Infof("anigif: frame %d rect=%v interlaced=%v pixels=%d/%d", res.SourceFrames, id.Bounds, id.Interlaced, got, n)

			canvas.Apply(&Frame{
				Bounds:     id.Bounds,
				Indices:    idx,
				Table:      table,
				Control:    gc,
				Interlaced: id.Interlaced,
			})

			if plan.ShouldEmit(res.SourceFrames, res.Emitted) {
				delay := plan.DelayFor(res.SourceFrames, gc.Delay)
				if err := h.HandleFrame(canvas.Image(), delay, res.Emitted); err != nil {
					return res, errors.Wrapf(err, "handling frame %d", res.Emitted)
				}
				res.Emitted++
			}
			gc = defaultGraphicControl()
			res.SourceFrames++
		default:
			r.pos--
			n, ok := r.resync()
			res.JunkBytes += n
			glog.V(2).Infof("anigif: skipped %d junk bytes at offset %d", n, r.pos-n)
			if !ok {
				break blocks
			}
		}
	}

	glog.V(1).Infof("anigif: decoded %dx%d frames=%d emitted=%d junk=%d end=%s", res.Width, res.Height, res.SourceFrames, res.Emitted, res.JunkBytes, res.EndReason)
	if res.Emitted == 0 {
		return res, ErrNoFrames
	}
	return res, nil
}

// DecodeAll decodes data with no memory limit and returns a copy of every
// emitted frame with its delay.
func DecodeAll(data []byte, maxFrames int) ([]*image.RGBA, []time.Duration, error) {
	var (
		frames []*image.RGBA
		delays []time.Duration
	)
	d := NewDecoder(maxFrames, nil)
	_, err := d.Decode(context.Background(), data, FrameHandlerFunc(func(canvas *image.RGBA, delay time.Duration, index int) error {
		img := image.NewRGBA(canvas.Rect)
		copy(img.Pix, canvas.Pix)
		frames = append(frames, img)
		delays = append(delays, delay)
		return nil
	}))
	if err != nil {
		return nil, nil, err
	}
	return frames, delays, nil
}
