package imageprint

import "github.com/pkg/errors"

// ErrUnsupported is returned when the terminal has no image protocol the
// printer can use.
var ErrUnsupported = errors.New("imageprint: terminal cannot display images")
