package loader

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"badc0de.net/pkg/go-animgif/anigif"
	"badc0de.net/pkg/go-animgif/membudget"
)

// statusLogInterval limits LogStatus output per key.
const statusLogInterval = 2 * time.Second

// Options are the collaborators of a Registry.
type Options struct {
	Factory      TextureFactory
	Render       RenderThread
	Placeholders Placeholders
	// Alloc provides decode and staging memory. Defaults to
	// membudget.Unlimited.
	Alloc membudget.Allocator
	// Now defaults to time.Now.
	Now func() time.Time
}

// Registry caches decoded animations by key and runs at most one Job per
// key. All methods are safe for concurrent use unless noted.
type Registry struct {
	cfg          Config
	worker       *Worker
	render       RenderThread
	factory      TextureFactory
	placeholders Placeholders
	alloc        membudget.Allocator
	now          func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]*Entry
	jobs    map[string]*Job
	closed  bool

	jobsStarted atomic.Int64
	lastLog     sync.Map
}

// NewRegistry validates cfg and starts the decode worker.
func NewRegistry(cfg Config, opts Options) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Factory == nil || opts.Render == nil || opts.Placeholders == nil {
		return nil, errors.New("loader: texture factory, render thread and placeholders are required")
	}
	r := &Registry{
		cfg:          cfg,
		render:       opts.Render,
		factory:      opts.Factory,
		placeholders: opts.Placeholders,
		alloc:        opts.Alloc,
		now:          opts.Now,
		entries:      make(map[string]*Entry),
		jobs:         make(map[string]*Job),
	}
	if r.alloc == nil {
		r.alloc = membudget.Unlimited
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.worker = NewWorker()
	return r, nil
}

// Config returns the registry's configuration.
func (r *Registry) Config() Config {
	return r.cfg
}

// Request returns the entry for key, starting a load from src if the key is
// neither cached nor loading. The returned entry always has at least one
// texture.
func (r *Registry) Request(key string, src Source) (*Entry, error) {
	if e, ok := r.Lookup(key); ok {
		return e, nil
	}
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if e, ok := r.Lookup(key); ok {
			return e, nil
		}
		placeholder := r.newPlaceholder(src)

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			r.disposePlaceholder(placeholder)
			return nil, ErrClosed
		}
		if e, ok := r.entries[key]; ok {
			r.mu.Unlock()
			r.disposePlaceholder(placeholder)
			return e, nil
		}
		e := newEntry(key, placeholder, r.now())
		j := newJob(r, key, src, e, placeholder)
		r.entries[key] = e
		r.jobs[key] = j
		r.mu.Unlock()

		r.jobsStarted.Add(1)
		glog.Infof("loader: %s: loading %s", key, src.Name())
		if err := j.start(r.cfg.PreferredMaxDim); err != nil {
			j.fail(err)
		}
		return e, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Entry), nil
}

// newPlaceholder returns a transparent texture sized like the frames the
// source will decode to, or the shared fallback.
func (r *Registry) newPlaceholder(src Source) Texture {
	if hdr, err := peekHeader(src); err == nil {
		if c, err := anigif.PeekConfig(hdr); err == nil {
			size := TargetSize(c.Width, c.Height, r.cfg.PreferredMaxDim)
			if t, err := r.placeholders.Transparent(size.X, size.Y); err == nil {
				return t
			}
		}
	}
	glog.V(1).Infof("loader: %s: using shared placeholder", src.Name())
	return r.placeholders.Fallback()
}

func (r *Registry) disposePlaceholder(t Texture) {
	if t != r.placeholders.Fallback() {
		t.Dispose()
	}
}

// Lookup returns the entry for key without starting a load, and marks it
// as recently needed.
func (r *Registry) Lookup(key string) (*Entry, bool) {
	r.mu.RLock()
	e, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		e.touch(r.now())
	}
	return e, ok
}

// Current returns the texture of key that should be on screen now.
func (r *Registry) Current(key string) (Texture, bool) {
	e, ok := r.Lookup(key)
	if !ok {
		return nil, false
	}
	t, _ := e.FrameAt(r.now())
	return t, t != nil
}

// Keys returns the cached keys in sorted order.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// InFlight returns the number of keys still loading.
func (r *Registry) InFlight() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// JobsStarted returns how many jobs were ever created.
func (r *Registry) JobsStarted() int {
	return int(r.jobsStarted.Load())
}

// Evict removes the least recently needed entries until at most maxEntries
// remain, and disposes their textures. keepKey and keys that are still
// loading are never evicted, so more than maxEntries may remain. It returns
// the number of evicted entries.
//
// Evict must be called on the render thread.
func (r *Registry) Evict(keepKey string, maxEntries int) int {
	var victims []*Entry
	r.mu.Lock()
	for len(r.entries) > maxEntries {
		var oldest *Entry
		for k, e := range r.entries {
			if k == keepKey {
				continue
			}
			if _, loading := r.jobs[k]; loading {
				continue
			}
			if oldest == nil || e.lastNeeded.Load() < oldest.lastNeeded.Load() {
				oldest = e
			}
		}
		if oldest == nil {
			break
		}
		delete(r.entries, oldest.key)
		victims = append(victims, oldest)
	}
	r.mu.Unlock()

	fallback := r.placeholders.Fallback()
	for _, e := range victims {
		for _, t := range e.Frames() {
			if t != fallback {
				t.Dispose()
			}
		}
		e.replaceFrames([]Texture{fallback}, []time.Duration{anigif.MinDelay})
		glog.V(1).Infof("loader: evicted %s", e.key)
	}
	return len(victims)
}

// Trim is Evict with the configured MaxCacheEntries.
func (r *Registry) Trim(keepKey string) int {
	return r.Evict(keepKey, r.cfg.MaxCacheEntries)
}

// Cancel stops decoding key. Frames uploaded so far are kept; if there are
// none the entry ends up with its placeholder. It reports whether a load was
// in flight.
func (r *Registry) Cancel(key string) bool {
	r.mu.RLock()
	j, ok := r.jobs[key]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	j.cancelled.Store(true)
	if a := j.cur.Load(); a != nil {
		a.cancel()
	}
	j.events.Printf("cancelled")
	return true
}

func (r *Registry) jobDone(j *Job) {
	r.mu.Lock()
	if r.jobs[j.key] == j {
		delete(r.jobs, j.key)
	}
	r.mu.Unlock()
}

// Close cancels all loads and stops the worker. Cached textures are left
// alone; use Evict to dispose them.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var jobs []*Job
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.Unlock()
	for _, j := range jobs {
		j.cancelled.Store(true)
		if a := j.cur.Load(); a != nil {
			a.cancel()
		}
	}
	r.worker.Close()
}

// Status is a snapshot of a key's loading state.
type Status struct {
	Key             string
	State           State
	Frames          int
	Delays          int
	Failed          bool
	Attempt         int
	MaxDim          int
	Queued          int
	QueueCapacity   int
	MaxQueued       int
	Uploaded        int
	DecodeDone      bool
	Cancelled       bool
	UploadScheduled bool
	UploadInterval  time.Duration
}

func (s Status) String() string {
	return fmt.Sprintf("key=%s state=%v frames=%d delays=%d attempt=%d maxDim=%d q=%d/%d maxQ=%d uploaded=%d decodeDone=%v cancelled=%v upScheduled=%v upInterval=%v",
		s.Key, s.State, s.Frames, s.Delays, s.Attempt, s.MaxDim, s.Queued, s.QueueCapacity, s.MaxQueued, s.Uploaded, s.DecodeDone, s.Cancelled, s.UploadScheduled, s.UploadInterval)
}

// Status returns the state of key.
func (r *Registry) Status(key string) (Status, bool) {
	r.mu.RLock()
	e, ok := r.entries[key]
	j := r.jobs[key]
	r.mu.RUnlock()
	if !ok {
		return Status{}, false
	}
	s := Status{
		Key:    key,
		Frames: len(e.Frames()),
		Delays: len(e.Delays()),
		Failed: e.Failed(),
		State:  StateFinalized,
	}
	if s.Failed {
		s.State = StateFailed
	}
	if j == nil {
		return s, true
	}
	s.State = j.State()
	s.Cancelled = j.cancelled.Load()
	s.UploadScheduled = j.uploadScheduled.Load()
	s.Uploaded = int(j.uploaded.Load())
	if a := j.cur.Load(); a != nil {
		s.Attempt = a.n
		s.MaxDim = a.maxDim
		s.Queued = len(a.queue)
		s.QueueCapacity = cap(a.queue)
		s.MaxQueued = int(a.maxQueued.Load())
		s.DecodeDone = a.decodeDone.Load()
		s.UploadInterval = time.Duration(a.interval.Load())
	}
	return s, true
}

// LogStatus logs the status of key at most once every two seconds per key.
func (r *Registry) LogStatus(key string) {
	now := r.now()
	if last, ok := r.lastLog.Load(key); ok && now.Sub(last.(time.Time)) < statusLogInterval {
		return
	}
	r.lastLog.Store(key, now)
	s, ok := r.Status(key)
	if !ok {
		glog.Infof("loader: status key=%s entry=nil", key)
		return
	}
	glog.Infof("loader: status %v", s)
}
