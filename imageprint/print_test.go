package imageprint

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"strings"
	"testing"
	"time"

	"badc0de.net/pkg/go-animgif/ttesting"
)

func testImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{255, 0, 0, 255})
	return img
}

func TestPrint24bit(t *testing.T) {
	var out bytes.Buffer
	p := &Printer{Out: &out, Mode: Mode24bit, Blanks: true}
	n, err := p.Print(testImage())
	if err != nil {
		t.Fatalf("Print: %v", err)
	}
	ttesting.AssertEqualInt(t, "lines", n, 1)
	want := "\x1b[48;2;255;0;0m  \x1b[0m" + "\x1b[0m  " + "\x1b[0m\n"
	if out.String() != want {
		t.Errorf("Print wrote %q, want %q", out.String(), want)
	}
}

func TestPrintNoColor(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	img.SetRGBA(0, 0, color.RGBA{255, 255, 255, 255})
	img.SetRGBA(1, 0, color.RGBA{10, 10, 10, 255})
	img.SetRGBA(2, 0, color.RGBA{100, 100, 100, 255})

	var out bytes.Buffer
	p := &Printer{Out: &out, Mode: ModeNoColor}
	if _, err := p.Print(img); err != nil {
		t.Fatalf("Print: %v", err)
	}
	lines := strings.Split(out.String(), "\n")
	if lines[0] != "##..==" {
		t.Errorf("first row %q", lines[0])
	}
}

func TestPlay(t *testing.T) {
	var out bytes.Buffer
	p := &Printer{Out: &out, Mode: Mode24bit, Blanks: true}
	frames := []image.Image{testImage(), testImage()}
	if err := p.Play(context.Background(), frames, []time.Duration{time.Millisecond, time.Millisecond}, 2); err != nil {
		t.Fatalf("Play: %v", err)
	}
	ttesting.AssertEqualInt(t, "redraws", strings.Count(out.String(), "\x1b[1F"), 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Play(ctx, frames, []time.Duration{time.Hour}, 0); err != context.Canceled {
		t.Errorf("Play = %v, want Canceled", err)
	}
}

func TestQuantize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetRGBA(x, y, color.RGBA{uint8(16 * x), uint8(16 * y), 128, 255})
		}
	}
	pal := Quantize(img, 4)
	ttesting.AssertInRangeInt(t, "colors", len(pal.Palette), 1, 4)
	ttesting.AssertEqualInt(t, "width", pal.Bounds().Dx(), 16)
}
