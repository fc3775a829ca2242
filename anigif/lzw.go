package anigif

// This file contains the LZW decompressor for image data.
//
// compress/lzw is not used because it reads from an io.Reader that is
// expected to be well formed; here the data is framed in sub-blocks, may be
// truncated at any point, and is decoded straight into a reused index
// buffer.

import "io"

const (
	maxCodeBits = 12
	maxCodes    = 1 << maxCodeBits
)

// lzwDecoder holds the code tables. They are reused for every image of a
// file.
type lzwDecoder struct {
	prefix [maxCodes]uint16
	suffix [maxCodes]byte
	stack  [maxCodes + 1]byte
}

// decode decompresses src into dst and returns how many indices were
// actually produced. If src ends before dst is full, the rest of dst is set
// to zero.
func (d *lzwDecoder) decode(src io.ByteReader, minCodeSize int, dst []byte) int {
	if len(dst) == 0 {
		return 0
	}
	if minCodeSize < 2 {
		minCodeSize = 2
	}
	if minCodeSize > maxCodeBits-1 {
		minCodeSize = maxCodeBits - 1
	}

	clear := 1 << minCodeSize
	end := clear + 1
	width := minCodeSize + 1
	mask := 1<<width - 1
	available := clear + 2

	for i := 0; i < clear; i++ {
		d.prefix[i] = 0
		d.suffix[i] = byte(i)
	}

	var (
		datum   uint32
		bits    int
		first   byte
		top     int
		oldCode = -1
		n       int
	)

	for n < len(dst) {
		if top == 0 {
			for bits < width {
				c, err := src.ReadByte()
				if err != nil {
					zero(dst[n:])
					return n
				}
				datum |= uint32(c) << bits
				bits += 8
			}
			code := int(datum) & mask
			datum >>= width
			bits -= width

			switch {
			case code == clear:
				width = minCodeSize + 1
				mask = 1<<width - 1
				available = clear + 2
				oldCode = -1
				continue
			case code == end:
				zero(dst[n:])
				return n
			case code > available, oldCode == -1 && code >= clear:
				// Corrupt stream; keep what was decoded so far.
				zero(dst[n:])
				return n
			case oldCode == -1:
				dst[n] = d.suffix[code]
				n++
				oldCode = code
				first = d.suffix[code]
				continue
			}

			in := code
			if code == available {
				// KwKwK: the code being defined by this very step.
				d.stack[top] = first
				top++
				code = oldCode
			}
			for code >= clear {
				d.stack[top] = d.suffix[code]
				top++
				code = int(d.prefix[code])
			}
			first = d.suffix[code]
			d.stack[top] = first
			top++

			if available < maxCodes {
				d.prefix[available] = uint16(oldCode)
				d.suffix[available] = first
				available++
				if available&mask == 0 && available < maxCodes {
					width++
					mask = 1<<width - 1
				}
			}
			oldCode = in
		}
		top--
		dst[n] = d.stack[top]
		n++
	}
	return n
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
