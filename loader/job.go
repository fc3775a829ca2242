package loader

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/net/trace"

	"badc0de.net/pkg/go-animgif/anigif"
)

// State is the lifecycle state of a Job.
type State int32

const (
	StateDecoding State = iota
	StateUploading
	StateFinalized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDecoding:
		return "decoding"
	case StateUploading:
		return "uploading"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// FrameUnit is one decoded, downsampled frame waiting for upload.
type FrameUnit struct {
	Width, Height int
	Delay         time.Duration
	// Pix is packed RGBA and belongs to the job's buffer pool.
	Pix   []byte
	Index int
}

// Job loads one key. Decoding runs on the registry's worker; uploading runs
// on the render thread. The two sides share the current attempt's queue and
// flags, and the uploadScheduled flag.
type Job struct {
	key string
	src Source
	reg *Registry

	entry       *Entry
	placeholder Texture
	events      *jobEvents
	started     time.Time

	cur             atomic.Pointer[attempt]
	uploadScheduled atomic.Bool
	cancelled       atomic.Bool
	state           atomic.Int32
	uploaded        atomic.Int32
	attempts        atomic.Int32

	// Render thread only.
	textures      []Texture
	delays        []time.Duration
	next          int
	lastUpload    time.Time
	staging       []byte
	triedFallback bool
}

func newJob(reg *Registry, key string, src Source, entry *Entry, placeholder Texture) *Job {
	return &Job{
		key:         key,
		src:         src,
		reg:         reg,
		entry:       entry,
		placeholder: placeholder,
		events:      newJobEvents(key),
		started:     reg.now(),
	}
}

// State returns the current state.
func (j *Job) State() State {
	return State(j.state.Load())
}

func (j *Job) terminal() bool {
	s := j.State()
	return s == StateFinalized || s == StateFailed
}

// start queues a decode attempt at maxDim on the worker.
func (j *Job) start(maxDim int) error {
	a := newAttempt(j, int(j.attempts.Add(1)), maxDim)
	j.cur.Store(a)
	j.state.Store(int32(StateDecoding))
	j.events.Printf("attempt %d: max dim %d", a.n, maxDim)
	if err := j.reg.worker.Submit(a.run); err != nil {
		a.cancel()
		return err
	}
	return nil
}

func (j *Job) requestUpload() {
	if j.uploadScheduled.CompareAndSwap(false, true) {
		j.reg.render.Post(j.upload)
	}
}

// attempt is one pass of decoding at a fixed maximum dimension. A retry
// gets a new attempt; a stale attempt only ever releases its resources.
type attempt struct {
	job    *Job
	n      int
	maxDim int

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan *FrameUnit

	pool       atomic.Pointer[bufferPool]
	interval   atomic.Int64
	decodeDone atomic.Bool
	failed     atomic.Bool
	maxQueued  atomic.Int32
	refs       atomic.Int32
	err        atomic.Value
	// summary is set by the worker once decoding ends and logged by the
	// render thread.
	summary atomic.Value

	// Worker only.
	size image.Point
}

func newAttempt(j *Job, n, maxDim int) *attempt {
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{
		job:    j,
		n:      n,
		maxDim: maxDim,
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan *FrameUnit, j.reg.cfg.QueueCapacity),
	}
	a.interval.Store(int64(j.reg.cfg.UploadIntervalSmall))
	// One reference for the worker, one for the render thread.
	a.refs.Store(2)
	return a
}

func (a *attempt) fail(err error) {
	if a.failed.CompareAndSwap(false, true) {
		a.err.Store(errorBox{err})
	}
}

type errorBox struct{ err error }

func (a *attempt) error() error {
	if b, ok := a.err.Load().(errorBox); ok {
		return b.err
	}
	return nil
}

// release drops one reference; the last one returns the frame buffers to
// the allocator.
func (a *attempt) release() {
	if a.refs.Add(-1) == 0 {
		if p := a.pool.Load(); p != nil {
			p.close()
		}
	}
}

// run decodes on the worker.
func (a *attempt) run() {
	j := a.job
	defer a.finish()
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("loader: %s: decode panicked: %v", j.key, r)
			a.fail(errors.Errorf("decode panicked: %v", r))
		}
	}()

	if a.ctx.Err() != nil {
		return
	}
	t0 := time.Now()
	data, err := readSource(j.src)
	if err != nil {
		a.fail(err)
		return
	}
	dec := anigif.NewDecoder(j.reg.cfg.MaxFrames, j.reg.alloc)
	res, err := dec.Decode(a.ctx, data, a)
	switch {
	case err == nil:
		glog.Infof("loader: %s: decoded %d/%d frames at %v in %v (attempt %d)", j.key, res.Emitted, res.SourceFrames, a.size, time.Since(t0), a.n)
		a.summary.Store(fmt.Sprintf("decoded %d/%d frames at %v", res.Emitted, res.SourceFrames, a.size))
	case a.ctx.Err() != nil:
		glog.V(1).Infof("loader: %s: decode stopped after %d frames", j.key, res.Emitted)
		a.summary.Store(fmt.Sprintf("decode stopped after %d frames", res.Emitted))
	default:
		glog.Warningf("loader: %s: decode failed at max dim %d: %v", j.key, a.maxDim, err)
		a.fail(err)
	}
}

func (a *attempt) finish() {
	a.decodeDone.Store(true)
	a.job.requestUpload()
	a.release()
}

// HandleFrame converts one composited canvas into a FrameUnit and queues it.
// It blocks while the queue or the buffer pool is exhausted.
func (a *attempt) HandleFrame(canvas *image.RGBA, delay time.Duration, index int) error {
	cfg := a.job.reg.cfg
	p := a.pool.Load()
	if p == nil {
		src := canvas.Rect.Size()
		a.size = TargetSize(src.X, src.Y, a.maxDim)
		px := a.size.X * a.size.Y
		var err error
		if p, err = newBufferPool(a.job.reg.alloc, 4*px, cfg.poolSize(px)); err != nil {
			return errors.Wrapf(err, "buffers for %dx%d frames", a.size.X, a.size.Y)
		}
		a.pool.Store(p)
		a.interval.Store(int64(cfg.uploadInterval(px)))
		glog.V(1).Infof("loader: %s: src=%v out=%v maxDim=%d pool=%d", a.job.key, src, a.size, a.maxDim, cfg.poolSize(px))
	}

	buf, err := p.acquire(a.ctx)
	if err != nil {
		return err
	}
	downsample(buf, canvas, a.size.X, a.size.Y)
	u := &FrameUnit{Width: a.size.X, Height: a.size.Y, Delay: delay, Pix: buf, Index: index}
	select {
	case a.queue <- u:
	case <-a.ctx.Done():
		p.release(buf)
		return a.ctx.Err()
	}
	if q := int32(len(a.queue)); q > a.maxQueued.Load() {
		a.maxQueued.Store(q)
	}
	a.job.requestUpload()
	if cfg.ThrottleDecode {
		a.throttle(index)
	}
	return nil
}

// throttle yields on large frames so decoding does not starve the render
// thread on small devices.
func (a *attempt) throttle(index int) {
	px := a.size.X * a.size.Y
	cfg := a.job.reg.cfg
	switch {
	case cfg.isLarge(px):
		if index&1 == 0 {
			time.Sleep(time.Millisecond)
		}
		if index&7 == 0 {
			time.Sleep(2 * time.Millisecond)
		}
	case px >= cfg.LargeFramePixels/2:
		if index&3 == 0 {
			time.Sleep(time.Millisecond)
		}
	}
}

// jobEvents guards a job's trace.EventLog, which is written from the render
// thread and from callers of Request and Cancel. Lines after Finish are
// dropped.
type jobEvents struct {
	mu       sync.Mutex
	log      trace.EventLog
	finished bool
}

func newJobEvents(key string) *jobEvents {
	return &jobEvents{log: trace.NewEventLog("loader.Job", key)}
}

func (e *jobEvents) Printf(format string, a ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.finished {
		e.log.Printf(format, a...)
	}
}

func (e *jobEvents) Errorf(format string, a ...interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.finished {
		e.log.Errorf(format, a...)
	}
}

func (e *jobEvents) Finish() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.finished {
		e.finished = true
		e.log.Finish()
	}
}

func readSource(src Source) ([]byte, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", src.Name())
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", src.Name())
	}
	return data, nil
}
