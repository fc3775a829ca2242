package anigif

import (
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// ScanResult is the outcome of a pre-pass over a file.
type ScanResult struct {
	Width, Height int
	// Delays holds the delay of every image block in file order. Its length
	// is the number of source frames.
	Delays []time.Duration
	// JunkBytes counts bytes skipped while resynchronizing.
	JunkBytes int
}

// Frames returns the number of image blocks found.
func (s ScanResult) Frames() int {
	return len(s.Delays)
}

// Scan walks every top-level block of data without decompressing image
// data, and records each image's delay. An image without a preceding graphic
// control extension gets MinDelay.
//
// Scan returns an error for input which is not a GIF, and for input which
// ends in the middle of a block; the frames seen before that point are still
// returned.
func Scan(data []byte) (ScanResult, error) {
	var res ScanResult
	r := newReader(data)
	sd, err := readHeader(r, false)
	if err != nil {
		return res, err
	}
	res.Width, res.Height = sd.Width, sd.Height

	next := MinDelay
	for r.remaining() > 0 {
		b, _ := r.readByte()
		switch b {
		case 0x00:
			continue
		case sTrailer:
			return res, nil
		case sExtension:
			label, err := r.readByte()
			if err != nil {
				return res, errors.Wrap(err, "scan: extension label")
			}
			if label != eGraphicControl {
				if err := r.skipSubBlocks(); err != nil {
					return res, errors.Wrapf(err, "scan: extension 0x%02x", label)
				}
				continue
			}
			gc, ok, err := readGraphicControl(r)
			if err != nil {
				return res, errors.Wrap(err, "scan: graphic control")
			}
			if !ok {
				next = MinDelay
				continue
			}
			next = gc.Delay
		case sImageDescriptor:
			if _, err := readImageDescriptor(r, false); err != nil {
				return res, errors.Wrapf(err, "scan: image %d", len(res.Delays))
			}
			if _, err := r.readByte(); err != nil { // LZW minimum code size
				return res, errors.Wrapf(err, "scan: image %d", len(res.Delays))
			}
			if err := r.skipSubBlocks(); err != nil {
				return res, errors.Wrapf(err, "scan: image %d data", len(res.Delays))
			}
			res.Delays = append(res.Delays, next)
			next = MinDelay
		default:
			r.pos--
			n, ok := r.resync()
			res.JunkBytes += n
			glog.V(2).Infof("anigif: scan skipped %d junk bytes at offset %d", n, r.pos-n)
			if !ok {
				return res, nil
			}
		}
	}
	return res, nil
}
