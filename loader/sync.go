package loader

import (
	"context"
	"image"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"badc0de.net/pkg/go-animgif/anigif"
	"badc0de.net/pkg/go-animgif/membudget"
)

// LoadSync decodes src and uploads every frame before returning. It must be
// called on the render thread, which it blocks for the whole decode; prefer
// Registry.Request.
//
// If loading at cfg.PreferredMaxDim fails, it is retried once at
// cfg.FallbackMaxDim.
func LoadSync(ctx context.Context, src Source, factory TextureFactory, alloc membudget.Allocator, cfg Config) ([]Texture, []time.Duration, error) {
	if alloc == nil {
		alloc = membudget.Unlimited
	}
	t0 := time.Now()
	data, err := readSource(src)
	if err != nil {
		return nil, nil, err
	}
	textures, delays, err := loadSyncAt(ctx, data, factory, alloc, cfg, cfg.PreferredMaxDim)
	if err != nil {
		fb := cfg.FallbackMaxDim
		if errors.Cause(err) == anigif.ErrFormat || ctx.Err() != nil || fb <= 0 || (cfg.PreferredMaxDim > 0 && fb >= cfg.PreferredMaxDim) {
			return nil, nil, err
		}
		glog.Warningf("loader: %s: sync load failed, retrying at max dim %d: %v", src.Name(), fb, err)
		if textures, delays, err = loadSyncAt(ctx, data, factory, alloc, cfg, fb); err != nil {
			return nil, nil, err
		}
	}
	glog.Infof("loader: %s: sync load done, %d frames in %v", src.Name(), len(textures), time.Since(t0))
	return textures, delays, nil
}

func loadSyncAt(ctx context.Context, data []byte, factory TextureFactory, alloc membudget.Allocator, cfg Config, maxDim int) ([]Texture, []time.Duration, error) {
	var (
		textures []Texture
		delays   []time.Duration
		staging  []byte
	)
	defer func() { alloc.Free(staging) }()

	dec := anigif.NewDecoder(cfg.MaxFrames, alloc)
	_, err := dec.Decode(ctx, data, anigif.FrameHandlerFunc(func(canvas *image.RGBA, delay time.Duration, index int) error {
		size := TargetSize(canvas.Rect.Dx(), canvas.Rect.Dy(), maxDim)
		if staging == nil {
			var err error
			if staging, err = alloc.Alloc(4 * size.X * size.Y); err != nil {
				return errors.Wrap(err, "staging buffer")
			}
		}
		downsample(staging, canvas, size.X, size.Y)
		tex, err := factory.NewTexture(size.X, size.Y, staging)
		if err != nil {
			return errors.Wrapf(err, "texture for frame %d", index)
		}
		textures = append(textures, tex)
		delays = append(delays, clampDelay(delay))
		return nil
	}))
	if err != nil {
		for _, t := range textures {
			t.Dispose()
		}
		return nil, nil, err
	}
	return textures, delays, nil
}
