// Package loader streams decoded GIF frames into GPU textures without
// stalling the render thread.
//
// A Registry owns one Entry per resource key. Requesting a key that is not
// cached inserts a transparent placeholder right away and queues a decode
// Job on a single background worker. The worker decodes, downsamples and
// pushes frames into a small bounded queue; an upload task posted to the
// render thread turns queued frames into textures a few at a time. When a
// decode or upload fails, the job retries once at a smaller size before
// settling for the placeholder.
package loader
