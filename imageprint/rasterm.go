//go:build go1.13 && !windows
// +build go1.13,!windows

package imageprint

import (
	"fmt"
	"image"

	"github.com/BourgeoisBear/rasterm"
)

func isTermItermWez() bool {
	return rasterm.IsTermItermWez()
}

// printRasTerm draws an image using the RasTerm library.
func (p *Printer) printRasTerm(i image.Image) error {
	if rasterm.IsTermKitty() {
		if err := (rasterm.Settings{}).KittyWriteImage(p.Out, i); err != nil {
			return err
		}
		_, err := fmt.Fprintln(p.Out)
		return err
	}
	if rasterm.IsTermItermWez() {
		if err := (rasterm.Settings{}).ItermWriteImage(p.Out, i); err != nil {
			return err
		}
		_, err := fmt.Fprintln(p.Out)
		return err
	}
	if capable, err := rasterm.IsSixelCapable(); capable && err == nil {
		if err := (rasterm.Settings{}).SixelWriteImage(p.Out, Quantize(i, 64)); err != nil {
			return err
		}
		_, err := fmt.Fprintln(p.Out)
		return err
	}
	return ErrUnsupported
}
