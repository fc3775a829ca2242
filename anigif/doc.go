// Package anigif implements a tolerant decoder for animated GIF files.
//
// The decoder composites every image block onto a persistent canvas
// (honouring disposal methods, transparency and interlacing) and hands the
// composited canvas of each retained frame to a FrameHandler. When a file has
// more frames than the caller wants, a FramePlan spreads the retained frames
// across the whole animation and merges the delays of skipped frames into the
// frame shown before them, so total playback time is preserved.
//
// Malformed but common inputs are accepted: stray zero bytes and junk between
// blocks, truncated image data (the missing pixels are zero) and graphic
// control blocks with unexpected sizes.
//
// Encoding is not supported.
package anigif
