// Package imageprint prints images and animations on a terminal.
//
// This package has an API with no stability guarantees.
package imageprint

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	ic "image/color"
	"image/png"
	"io"
	"time"

	"github.com/gookit/color"
)

// Mode selects how pixels reach the terminal.
type Mode int

const (
	// Mode24bit paints every pixel with a 24 bit background color escape.
	Mode24bit Mode = iota
	// Mode256 lets gookit/color pick escapes the terminal supports.
	Mode256
	// ModeNoColor prints ascii art only. Only makes sense with Blanks unset.
	ModeNoColor
	// ModeITerm sends PNGs using iTerm2's escape sequences.
	ModeITerm
	// ModeRasTerm uses the best image protocol the terminal offers: kitty,
	// iTerm2 or sixel.
	ModeRasTerm
)

func (m Mode) String() string {
	switch m {
	case Mode24bit:
		return "24bit"
	case Mode256:
		return "256"
	case ModeNoColor:
		return "nocolor"
	case ModeITerm:
		return "iterm"
	case ModeRasTerm:
		return "rasterm"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Printer writes images to Out.
type Printer struct {
	Out  io.Writer
	Mode Mode
	// Blanks paints pixels as colored spaces instead of ascii art.
	Blanks bool
}

type painter interface {
	Sprintf(format string, arg ...interface{}) string
}

type plain struct{}

func (plain) Sprintf(format string, arg ...interface{}) string {
	return fmt.Sprintf(format, arg...)
}

func (p *Printer) shade(b *bytes.Buffer, col ic.Color) {
	cR, cG, cB, cA := col.RGBA()
	if cA == 0 {
		b.WriteString("\x1b[0m  ")
		return
	}
	var d painter = plain{}
	switch p.Mode {
	case Mode24bit:
		fmt.Fprintf(b, "\x1b[48;2;%d;%d;%dm", uint8(cR>>8), uint8(cG>>8), uint8(cB>>8))
	case Mode256:
		d = color.RGB(uint8(cR>>8), uint8(cG>>8), uint8(cB>>8), true)
	}

	cell := "  "
	if !p.Blanks {
		switch a := ((cR + cG + cB) / 3) >> 8; {
		case a < 32:
			cell = ".."
		case a < 64:
			cell = "--"
		case a < 128:
			cell = "=="
		default:
			cell = "##"
		}
	}
	b.WriteString(d.Sprintf("%s", cell))
	if p.Mode == Mode24bit {
		b.WriteString("\x1b[0m")
	}
}

// Print draws i. For the cell based modes it returns the number of lines
// written.
func (p *Printer) Print(i image.Image) (int, error) {
	switch p.Mode {
	case ModeITerm:
		return 0, p.printITerm(i, "frame.png")
	case ModeRasTerm:
		return 0, p.printRasTerm(i)
	}
	b := &bytes.Buffer{}
	r := i.Bounds()
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			p.shade(b, i.At(x, y))
		}
		if p.Mode != ModeNoColor {
			b.WriteString("\x1b[0m")
		}
		b.WriteString("\n")
	}
	_, err := p.Out.Write(b.Bytes())
	return r.Dy(), err
}

// printITerm draws an image using iTerm2's escape sequences.
//
// https://www.iterm2.com/documentation-images.html
func (p *Printer) printITerm(i image.Image, fn string) error {
	if !isTermItermWez() {
		return nil
	}
	name := base64.StdEncoding.EncodeToString([]byte(fn))
	b := &bytes.Buffer{}
	enc := base64.NewEncoder(base64.StdEncoding, b)
	if err := png.Encode(enc, i); err != nil {
		return err
	}
	enc.Close()
	_, err := fmt.Fprintf(p.Out, "\n\033]1337;File=name=%s;inline=1;size=%d,width=%dpx;height=%dpx:%s\a\n", name, b.Len(), i.Bounds().Dx(), i.Bounds().Dy(), b.String())
	return err
}

// Play prints frames in a loop, each for its delay, until loops passes are
// done or ctx is cancelled. A loops value of zero plays forever. Cell based
// output is redrawn in place.
func (p *Printer) Play(ctx context.Context, frames []image.Image, delays []time.Duration, loops int) error {
	if len(frames) == 0 {
		return nil
	}
	lines := 0
	for pass := 0; loops == 0 || pass < loops; pass++ {
		for i, f := range frames {
			if lines > 0 {
				fmt.Fprintf(p.Out, "\x1b[%dF", lines)
			}
			n, err := p.Print(f)
			if err != nil {
				return err
			}
			lines = n

			d := 100 * time.Millisecond
			if i < len(delays) {
				d = delays[i]
			}
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
	return nil
}
