package loader

import (
	"sync"
	"sync/atomic"
	"time"

	"badc0de.net/pkg/go-animgif/anigif"
)

// defaultFrameDelay is used to animate an entry which has textures but no
// delays.
const defaultFrameDelay = 80 * time.Millisecond

// Entry is the cached result for one key: textures, their delays and the
// time the animation started. It is never empty: while loading, and after a
// failed load, it holds a placeholder.
//
// Entries are safe for concurrent use. Textures must only be used on the
// render thread.
type Entry struct {
	key string

	mu     sync.RWMutex
	frames []Texture
	delays []time.Duration
	start  time.Time
	failed bool

	done       chan struct{}
	doneOnce   sync.Once
	lastNeeded atomic.Int64
}

func newEntry(key string, placeholder Texture, now time.Time) *Entry {
	e := &Entry{
		key:    key,
		frames: []Texture{placeholder},
		delays: []time.Duration{anigif.MinDelay},
		start:  now,
		done:   make(chan struct{}),
	}
	e.touch(now)
	return e
}

// Key returns the resource key.
func (e *Entry) Key() string { return e.key }

// Frames returns a copy of the current texture sequence.
func (e *Entry) Frames() []Texture {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Texture(nil), e.frames...)
}

// Delays returns a copy of the current delay sequence.
func (e *Entry) Delays() []time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]time.Duration(nil), e.delays...)
}

// Start returns the time the animation (re)started.
func (e *Entry) Start() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.start
}

// Done is closed once loading has finished, successfully or not.
func (e *Entry) Done() <-chan struct{} { return e.done }

// Loaded reports whether Done is closed.
func (e *Entry) Loaded() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Failed reports whether loading finished with only a placeholder.
func (e *Entry) Failed() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.failed
}

// FrameAt returns the texture displayed at t, and its index: the time since
// Start, modulo the total of all delays, selects the frame.
func (e *Entry) FrameAt(t time.Time) (Texture, int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := len(e.frames)
	if n == 0 {
		return nil, -1
	}
	elapsed := t.Sub(e.start)
	if elapsed < 0 {
		elapsed = 0
	}
	if len(e.delays) == 0 {
		i := int(elapsed/defaultFrameDelay) % n
		return e.frames[i], i
	}
	if len(e.delays) < n {
		n = len(e.delays)
	}
	var total time.Duration
	for _, d := range e.delays[:n] {
		total += clampDelay(d)
	}
	pos := elapsed % total
	for i, d := range e.delays[:n] {
		d = clampDelay(d)
		if pos < d {
			return e.frames[i], i
		}
		pos -= d
	}
	return e.frames[n-1], n - 1
}

func (e *Entry) touch(t time.Time) {
	e.lastNeeded.Store(t.UnixNano())
}

// replaceFrames swaps the visible sequence, keeping start and the done state.
func (e *Entry) replaceFrames(frames []Texture, delays []time.Duration) {
	e.mu.Lock()
	e.frames = frames
	e.delays = delays
	e.mu.Unlock()
}

// appendFrame adds a texture while loading. The first real frame replaces
// the placeholder.
func (e *Entry) appendFrame(tex Texture, delay time.Duration, first bool) {
	e.mu.Lock()
	if first {
		e.frames = e.frames[:0:0]
		e.delays = e.delays[:0:0]
	}
	e.frames = append(e.frames, tex)
	e.delays = append(e.delays, delay)
	e.mu.Unlock()
}

// commit publishes the final sequence, restarts the animation and closes
// Done.
func (e *Entry) commit(frames []Texture, delays []time.Duration, failed bool, now time.Time) {
	e.mu.Lock()
	e.frames = frames
	e.delays = delays
	e.failed = failed
	e.start = now
	e.mu.Unlock()
	e.doneOnce.Do(func() { close(e.done) })
}

func clampDelay(d time.Duration) time.Duration {
	if d < anigif.MinDelay {
		return anigif.MinDelay
	}
	return d
}
