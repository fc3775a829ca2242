package anigif

// This file contains the byte cursor used by both the pre-scan and the
// decoder.

import (
	"io"

	"github.com/pkg/errors"
)

// ErrUnexpectedEOF is returned when a block ends before its declared size.
var ErrUnexpectedEOF = errors.New("anigif: unexpected end of data")

// reader is a cursor over an immutable input buffer.
type reader struct {
	b   []byte
	pos int
}

func newReader(b []byte) *reader {
	return &reader{b: b}
}

func (r *reader) remaining() int {
	return len(r.b) - r.pos
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, ErrUnexpectedEOF
	}
	c := r.b[r.pos]
	r.pos++
	return c, nil
}

func (r *reader) readUint16() (uint16, error) {
	if r.remaining() < 2 {
		r.pos = len(r.b)
		return 0, ErrUnexpectedEOF
	}
	v := uint16(r.b[r.pos]) | uint16(r.b[r.pos+1])<<8
	r.pos += 2
	return v, nil
}

// readN returns the next n bytes without copying them.
func (r *reader) readN(n int) ([]byte, error) {
	if n < 0 {
		n = 0
	}
	if r.remaining() < n {
		r.pos = len(r.b)
		return nil, ErrUnexpectedEOF
	}
	s := r.b[r.pos : r.pos+n]
	r.pos += n
	return s, nil
}

func (r *reader) skip(n int) error {
	_, err := r.readN(n)
	return err
}

// skipSubBlocks skips length-prefixed sub-blocks up to and including the
// zero-length terminator.
func (r *reader) skipSubBlocks() error {
	for {
		n, err := r.readByte()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if err := r.skip(int(n)); err != nil {
			return err
		}
	}
}

// resync moves the cursor to the next extension, image or trailer
// introducer at or after the current position, and reports how many bytes
// were skipped. If none is found the cursor is left at the end and ok is
// false.
func (r *reader) resync() (skipped int, ok bool) {
	for i := r.pos; i < len(r.b); i++ {
		switch r.b[i] {
		case sExtension, sImageDescriptor, sTrailer:
			skipped = i - r.pos
			r.pos = i
			return skipped, true
		}
	}
	skipped = len(r.b) - r.pos
	r.pos = len(r.b)
	return skipped, false
}

// subBlockReader streams the payload of a sub-block sequence as a single
// byte stream. It reports io.EOF at the terminator or at the end of input.
type subBlockReader struct {
	r    *reader
	left int
	done bool
}

func (s *subBlockReader) ReadByte() (byte, error) {
	if s.done {
		return 0, io.EOF
	}
	for s.left == 0 {
		n, err := s.r.readByte()
		if err != nil || n == 0 {
			s.done = true
			return 0, io.EOF
		}
		s.left = int(n)
	}
	c, err := s.r.readByte()
	if err != nil {
		s.done = true
		return 0, io.EOF
	}
	s.left--
	return c, nil
}

// drain consumes whatever is left of the sequence, leaving the cursor on the
// byte after the terminator.
func (s *subBlockReader) drain() {
	if s.done {
		return
	}
	if s.left > 0 {
		if s.r.skip(s.left) != nil {
			s.done = true
			return
		}
		s.left = 0
	}
	// A missing terminator leaves the cursor at the end of data, which the
	// caller reports as truncation.
	_ = s.r.skipSubBlocks()
	s.done = true
}
