package loader

import (
	"bytes"
	"image"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Source is a readable resource.
type Source interface {
	Open() (io.ReadCloser, error)
	// Name identifies the source in logs.
	Name() string
}

// Texture is a GPU-resident image.
type Texture interface {
	Size() image.Point
	Dispose()
}

// TextureFactory creates textures from tightly packed RGBA pixels. It is
// only called on the render thread. rgba may be reused once NewTexture
// returns.
type TextureFactory interface {
	NewTexture(w, h int, rgba []byte) (Texture, error)
}

// RenderThread runs functions on the thread owning the GPU context, in the
// order they were posted. Post must not block.
type RenderThread interface {
	Post(func())
}

// Placeholders provides textures shown while an animation is loading or
// after it failed to load.
type Placeholders interface {
	// Transparent returns a new fully transparent texture.
	Transparent(w, h int) (Texture, error)
	// Fallback returns a shared texture which must never be disposed.
	Fallback() Texture
}

// BytesSource serves an in-memory file.
type BytesSource struct {
	ID   string
	Data []byte
}

func (s BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.Data)), nil
}

func (s BytesSource) Name() string {
	return s.ID
}

// FileSource serves a file from disk.
type FileSource string

func (s FileSource) Open() (io.ReadCloser, error) {
	f, err := os.Open(string(s))
	if err != nil {
		return nil, errors.Wrapf(err, "opening %q", string(s))
	}
	return f, nil
}

func (s FileSource) Name() string {
	return string(s)
}

// peekHeader reads the first ten bytes of src.
func peekHeader(src Source) ([]byte, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	hdr := make([]byte, 10)
	if _, err := io.ReadFull(rc, hdr); err != nil {
		return nil, errors.Wrapf(err, "reading header of %s", src.Name())
	}
	return hdr, nil
}
