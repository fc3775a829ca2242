// Package softgpu implements the loader's render-side collaborators in
// memory: textures backed by image.RGBA, a texture factory that can be told
// to fail, placeholders and a single-goroutine render loop.
//
// It is used by tests and by the command line tools, which have no GPU.
package softgpu

import (
	"image"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"badc0de.net/pkg/go-animgif/loader"
)

// ErrRejected is returned by a Factory refusing to create a texture.
var ErrRejected = errors.New("softgpu: texture rejected")

// Texture is a loader.Texture holding a copy of its pixels.
type Texture struct {
	img      *image.RGBA
	disposed atomic.Bool
	factory  *Factory
}

// NewTexture copies rgba into a new w×h texture.
func NewTexture(w, h int, rgba []byte) *Texture {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	copy(img.Pix, rgba)
	return &Texture{img: img}
}

// Image returns the texture pixels.
func (t *Texture) Image() *image.RGBA { return t.img }

func (t *Texture) Size() image.Point { return t.img.Rect.Size() }

// Dispose marks the texture as released. Disposing twice panics, like it
// would corrupt a real GPU driver's bookkeeping.
func (t *Texture) Dispose() {
	if !t.disposed.CompareAndSwap(false, true) {
		panic("softgpu: texture disposed twice")
	}
	if t.factory != nil {
		t.factory.live.Add(-1)
	}
}

// Disposed reports whether Dispose was called.
func (t *Texture) Disposed() bool { return t.disposed.Load() }

// Factory is a loader.TextureFactory.
type Factory struct {
	// MaxPixels rejects textures with more pixels, if positive.
	MaxPixels int
	// FailAfter rejects every texture after this many were created, if
	// positive.
	FailAfter int

	mu      sync.Mutex
	created int
	live    atomic.Int64
}

func (f *Factory) NewTexture(w, h int, rgba []byte) (loader.Texture, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MaxPixels > 0 && w*h > f.MaxPixels {
		return nil, errors.Wrapf(ErrRejected, "%dx%d exceeds %d pixels", w, h, f.MaxPixels)
	}
	if f.FailAfter > 0 && f.created >= f.FailAfter {
		return nil, errors.Wrapf(ErrRejected, "after %d textures", f.created)
	}
	if len(rgba) < 4*w*h {
		return nil, errors.Errorf("softgpu: %d bytes for a %dx%d texture", len(rgba), w, h)
	}
	f.created++
	f.live.Add(1)
	t := NewTexture(w, h, rgba)
	t.factory = f
	return t, nil
}

// Created returns the number of textures created so far.
func (f *Factory) Created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

// Live returns the number of created textures not yet disposed.
func (f *Factory) Live() int { return int(f.live.Load()) }

// Placeholders is a loader.Placeholders.
type Placeholders struct {
	once     sync.Once
	fallback *Texture
}

func (p *Placeholders) Transparent(w, h int) (loader.Texture, error) {
	if w < 1 || h < 1 {
		return nil, errors.Errorf("softgpu: placeholder %dx%d", w, h)
	}
	return NewTexture(w, h, nil), nil
}

// Fallback returns a shared 2×2 transparent texture.
func (p *Placeholders) Fallback() loader.Texture {
	p.once.Do(func() {
		p.fallback = NewTexture(2, 2, nil)
	})
	return p.fallback
}
