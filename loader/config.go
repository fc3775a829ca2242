package loader

import (
	"flag"
	"time"

	"github.com/pkg/errors"
)

// Config holds the tunables of the pipeline.
type Config struct {
	// MaxFrames is the frame budget of a decoded animation.
	MaxFrames int
	// PreferredMaxDim caps the width and height of uploaded frames.
	PreferredMaxDim int
	// FallbackMaxDim is used when decoding at PreferredMaxDim fails. Zero
	// disables the retry.
	FallbackMaxDim int
	// QueueCapacity bounds the decoded frames waiting for upload.
	QueueCapacity int
	// UploadBatch is the number of frames uploaded per render-thread task.
	UploadBatch int
	// UploadIntervalSmall and UploadIntervalLarge are the minimum times
	// between two upload tasks of one job, for frames below and at or above
	// LargeFramePixels.
	UploadIntervalSmall time.Duration
	UploadIntervalLarge time.Duration
	LargeFramePixels    int
	// MaxCacheEntries is the default limit used by Registry.Trim.
	MaxCacheEntries int
	// ThrottleDecode makes the worker yield briefly between large frames.
	ThrottleDecode bool
}

// DefaultConfig returns the configuration used on constrained devices.
func DefaultConfig() Config {
	return Config{
		MaxFrames:           60,
		PreferredMaxDim:     1024,
		FallbackMaxDim:      512,
		QueueCapacity:       2,
		UploadBatch:         1,
		UploadIntervalSmall: 15 * time.Millisecond,
		UploadIntervalLarge: 33 * time.Millisecond,
		LargeFramePixels:    600000,
		MaxCacheEntries:     2,
		ThrottleDecode:      true,
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.MaxFrames < 1:
		return errors.Errorf("loader: max frames %d < 1", c.MaxFrames)
	case c.PreferredMaxDim < 0:
		return errors.Errorf("loader: preferred max dim %d < 0", c.PreferredMaxDim)
	case c.FallbackMaxDim < 0:
		return errors.Errorf("loader: fallback max dim %d < 0", c.FallbackMaxDim)
	case c.QueueCapacity < 1:
		return errors.Errorf("loader: queue capacity %d < 1", c.QueueCapacity)
	case c.UploadBatch < 1:
		return errors.Errorf("loader: upload batch %d < 1", c.UploadBatch)
	case c.UploadIntervalSmall < 0 || c.UploadIntervalLarge < 0:
		return errors.New("loader: negative upload interval")
	case c.MaxCacheEntries < 1:
		return errors.Errorf("loader: max cache entries %d < 1", c.MaxCacheEntries)
	}
	return nil
}

// RegisterFlags binds the configuration to flags in fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.MaxFrames, "max_frames", c.MaxFrames, "Maximum number of frames kept per animation; longer animations are sampled")
	fs.IntVar(&c.PreferredMaxDim, "max_dim", c.PreferredMaxDim, "Maximum width and height of decoded frames (0 for no limit)")
	fs.IntVar(&c.FallbackMaxDim, "fallback_max_dim", c.FallbackMaxDim, "Maximum width and height used when retrying a failed decode (0 disables the retry)")
	fs.IntVar(&c.QueueCapacity, "queue_capacity", c.QueueCapacity, "Decoded frames allowed to wait for upload")
	fs.IntVar(&c.UploadBatch, "upload_batch", c.UploadBatch, "Frames uploaded per render-thread task")
	fs.DurationVar(&c.UploadIntervalSmall, "upload_interval", c.UploadIntervalSmall, "Minimum time between uploads of one animation")
	fs.DurationVar(&c.UploadIntervalLarge, "upload_interval_large", c.UploadIntervalLarge, "Minimum time between uploads of one animation with large frames")
	fs.IntVar(&c.LargeFramePixels, "large_frame_pixels", c.LargeFramePixels, "Pixel count from which a frame counts as large")
	fs.IntVar(&c.MaxCacheEntries, "max_cache_entries", c.MaxCacheEntries, "Animations kept in the cache")
	fs.BoolVar(&c.ThrottleDecode, "throttle_decode", c.ThrottleDecode, "Yield the decode worker between large frames")
}

func (c Config) isLarge(pixels int) bool {
	return pixels >= c.LargeFramePixels
}

// poolSize returns how many frame buffers a job decoding frames of the
// passed size gets.
func (c Config) poolSize(pixels int) int {
	if c.isLarge(pixels) {
		return 1
	}
	return c.QueueCapacity
}

func (c Config) uploadInterval(pixels int) time.Duration {
	if c.isLarge(pixels) {
		return c.UploadIntervalLarge
	}
	return c.UploadIntervalSmall
}
