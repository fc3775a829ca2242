package ttesting

// This file contains a builder for small synthetic GIF files.

import (
	"bytes"
	"compress/lzw"
	"image/color"
)

// GIFBuilder assembles a GIF89a stream block by block. Methods append to
// the stream in call order; Bytes adds the trailer.
type GIFBuilder struct {
	buf bytes.Buffer
}

// NewGIF starts a file with a w×h logical screen. palette becomes the global
// color table; pass nil for none.
func NewGIF(w, h int, palette []color.RGBA) *GIFBuilder {
	g := &GIFBuilder{}
	g.buf.WriteString("GIF89a")
	g.u16(w)
	g.u16(h)
	if palette == nil {
		g.buf.Write([]byte{0, 0, 0})
		return g
	}
	bits, table := encodeTable(palette)
	g.buf.Write([]byte{0x80 | byte(bits-1), 0, 0})
	g.buf.Write(table)
	return g
}

// Control appends a graphic control extension. disposal is 0-3, delay is in
// hundredths of a second.
func (g *GIFBuilder) Control(disposal int, delayCs int, transparent bool, transparentIndex byte) *GIFBuilder {
	packed := byte(disposal&0x07) << 2
	if transparent {
		packed |= 0x01
	}
	g.buf.Write([]byte{0x21, 0xF9, 0x04, packed})
	g.u16(delayCs)
	g.buf.Write([]byte{transparentIndex, 0x00})
	return g
}

// Comment appends a comment extension.
func (g *GIFBuilder) Comment(s string) *GIFBuilder {
	g.buf.Write([]byte{0x21, 0xFE})
	g.buf.Write(SubBlocks([]byte(s)))
	return g
}

// Image appends an image block whose indices are given in row order, using
// the global color table.
func (g *GIFBuilder) Image(x, y, w, h int, indices []byte) *GIFBuilder {
	return g.image(x, y, w, h, indices, nil, false)
}

// ImageWithTable appends an image block with a local color table.
func (g *GIFBuilder) ImageWithTable(x, y, w, h int, indices []byte, palette []color.RGBA) *GIFBuilder {
	return g.image(x, y, w, h, indices, palette, false)
}

// InterlacedImage appends an interlaced image block. indices are given in
// row order and reordered into the four interlace passes.
func (g *GIFBuilder) InterlacedImage(x, y, w, h int, indices []byte) *GIFBuilder {
	var out []byte
	for pass, start := range []int{0, 4, 2, 1} {
		step := []int{8, 8, 4, 2}[pass]
		for row := start; row < h; row += step {
			out = append(out, indices[row*w:(row+1)*w]...)
		}
	}
	return g.image(x, y, w, h, out, nil, true)
}

// ImageData appends an image descriptor followed by the passed minimum code
// size and already framed data, for building broken files.
func (g *GIFBuilder) ImageData(x, y, w, h int, minCodeSize byte, framed []byte) *GIFBuilder {
	g.descriptor(x, y, w, h, 0)
	g.buf.WriteByte(minCodeSize)
	g.buf.Write(framed)
	return g
}

// Raw appends bytes as they are.
func (g *GIFBuilder) Raw(b ...byte) *GIFBuilder {
	g.buf.Write(b)
	return g
}

// Bytes returns the stream with a trailer appended.
func (g *GIFBuilder) Bytes() []byte {
	out := make([]byte, g.buf.Len(), g.buf.Len()+1)
	copy(out, g.buf.Bytes())
	return append(out, 0x3B)
}

// Unterminated returns the stream without a trailer.
func (g *GIFBuilder) Unterminated() []byte {
	return append([]byte(nil), g.buf.Bytes()...)
}

func (g *GIFBuilder) image(x, y, w, h int, indices []byte, palette []color.RGBA, interlaced bool) *GIFBuilder {
	var packed byte
	if interlaced {
		packed |= 0x40
	}
	var table []byte
	if palette != nil {
		var bits int
		bits, table = encodeTable(palette)
		packed |= 0x80 | byte(bits-1)
	}
	g.descriptor(x, y, w, h, packed)
	g.buf.Write(table)

	lit := 2
	for _, ix := range indices {
		for int(ix) >= 1<<lit {
			lit++
		}
	}
	g.buf.WriteByte(byte(lit))
	g.buf.Write(SubBlocks(LZW(indices, lit)))
	return g
}

func (g *GIFBuilder) descriptor(x, y, w, h int, packed byte) {
	g.buf.WriteByte(0x2C)
	g.u16(x)
	g.u16(y)
	g.u16(w)
	g.u16(h)
	g.buf.WriteByte(packed)
}

func (g *GIFBuilder) u16(v int) {
	g.buf.Write([]byte{byte(v), byte(v >> 8)})
}

// encodeTable pads palette to a power of two of at least two entries.
func encodeTable(palette []color.RGBA) (bits int, table []byte) {
	bits = 1
	for 1<<bits < len(palette) {
		bits++
	}
	table = make([]byte, 3*(1<<bits))
	for i, c := range palette {
		table[3*i], table[3*i+1], table[3*i+2] = c.R, c.G, c.B
	}
	return bits, table
}

// LZW compresses indices the way GIF image data is compressed.
func LZW(indices []byte, litWidth int) []byte {
	var b bytes.Buffer
	w := lzw.NewWriter(&b, lzw.LSB, litWidth)
	if _, err := w.Write(indices); err != nil {
		panic(err)
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return b.Bytes()
}

// SubBlocks frames data in sub-blocks of at most 255 bytes and appends the
// terminator.
func SubBlocks(data []byte) []byte {
	var out []byte
	for len(data) > 0 {
		n := len(data)
		if n > 255 {
			n = 255
		}
		out = append(out, byte(n))
		out = append(out, data[:n]...)
		data = data[n:]
	}
	return append(out, 0)
}
