package loader

// This file contains the render-thread side of a Job.

import (
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"badc0de.net/pkg/go-animgif/anigif"
)

// upload runs on the render thread. It uploads at most one batch of queued
// frames and then either finalizes the job, hands it to the failure path or
// reschedules itself. Once the attempt is cancelled, queued frames are
// dropped and the job finalizes with what was uploaded.
func (j *Job) upload() {
	if j.terminal() {
		j.uploadScheduled.Store(false)
		return
	}
	a := j.cur.Load()
	cfg := j.reg.cfg
	stopped := a.ctx.Err() != nil

	now := j.reg.now()
	if !stopped && !j.lastUpload.IsZero() && now.Sub(j.lastUpload) < time.Duration(a.interval.Load()) {
		j.uploadScheduled.Store(false)
		if len(a.queue) > 0 || a.decodeDone.Load() {
			j.requestUpload()
		}
		return
	}

	for i := 0; i < cfg.UploadBatch && !stopped; i++ {
		var u *FrameUnit
		select {
		case u = <-a.queue:
		default:
		}
		if u == nil {
			break
		}
		j.lastUpload = now
		if err := j.uploadUnit(a, u); err != nil {
			glog.Warningf("loader: %s: upload of frame %d failed: %v", j.key, u.Index, err)
			a.fail(err)
			break
		}
	}

	j.uploadScheduled.Store(false)
	switch {
	case a.failed.Load():
		j.attemptFailed(a)
	case a.decodeDone.Load() && (stopped || len(a.queue) == 0):
		j.finalize(a)
	case !stopped && len(a.queue) > 0:
		j.requestUpload()
	}
}

func (j *Job) uploadUnit(a *attempt, u *FrameUnit) error {
	defer func() {
		if p := a.pool.Load(); p != nil {
			p.release(u.Pix)
		}
	}()
	if u.Index != j.next {
		return errors.Errorf("frame %d arrived, want %d", u.Index, j.next)
	}
	n := 4 * u.Width * u.Height
	if len(j.staging) != n {
		j.freeStaging()
		buf, err := j.reg.alloc.Alloc(n)
		if err != nil {
			return errors.Wrap(err, "staging buffer")
		}
		j.staging = buf
	}
	copy(j.staging, u.Pix[:n])

	t0 := time.Now()
	tex, err := j.reg.factory.NewTexture(u.Width, u.Height, j.staging)
	if err != nil {
		return errors.Wrapf(err, "texture for frame %d", u.Index)
	}
	if d := time.Since(t0); d >= 25*time.Millisecond {
		glog.Infof("loader: %s: slow upload of frame %d: %v", j.key, u.Index, d)
	}

	first := len(j.textures) == 0
	j.textures = append(j.textures, tex)
	j.delays = append(j.delays, u.Delay)
	j.next++
	j.uploaded.Store(int32(len(j.textures)))
	j.entry.appendFrame(tex, u.Delay, first)
	if first {
		j.state.Store(int32(StateUploading))
	}
	return nil
}

func (j *Job) freeStaging() {
	if j.staging != nil {
		j.reg.alloc.Free(j.staging)
		j.staging = nil
	}
}

// retire stops attempt a and gives back what the render thread holds of it.
func (j *Job) retire(a *attempt) {
	a.cancel()
	if msg, ok := a.summary.Load().(string); ok {
		j.events.Printf("attempt %d: %s", a.n, msg)
	}
	for drained := false; !drained; {
		select {
		case u := <-a.queue:
			if p := a.pool.Load(); p != nil {
				p.release(u.Pix)
			}
		default:
			drained = true
		}
	}
	a.release()
}

// discardPartial disposes every uploaded texture and shows the placeholder
// again.
func (j *Job) discardPartial() {
	for _, t := range j.textures {
		t.Dispose()
	}
	j.textures = nil
	j.delays = nil
	j.next = 0
	j.uploaded.Store(0)
	j.lastUpload = time.Time{}
	j.freeStaging()
	j.entry.replaceFrames([]Texture{j.placeholder}, []time.Duration{anigif.MinDelay})
}

// attemptFailed retries at the fallback size when possible and fails the
// job otherwise.
func (j *Job) attemptFailed(a *attempt) {
	err := a.error()
	j.retire(a)
	j.discardPartial()

	fb := j.reg.cfg.FallbackMaxDim
	retry := !j.cancelled.Load() &&
		!j.triedFallback &&
		fb > 0 && (a.maxDim <= 0 || fb < a.maxDim) &&
		errors.Cause(err) != anigif.ErrFormat
	if retry {
		j.triedFallback = true
		glog.Warningf("loader: %s: retrying at max dim %d after: %v", j.key, fb, err)
		j.events.Errorf("attempt %d failed: %v", a.n, err)
		serr := j.start(fb)
		if serr == nil {
			return
		}
		err = serr
	}
	j.fail(err)
}

// fail leaves the placeholder and a single minimum delay in the cache.
func (j *Job) fail(err error) {
	j.state.Store(int32(StateFailed))
	j.entry.commit([]Texture{j.placeholder}, []time.Duration{anigif.MinDelay}, true, j.reg.now())
	j.reg.jobDone(j)
	glog.Errorf("loader: %s: load failed, keeping placeholder: %v", j.key, err)
	j.events.Errorf("failed: %v", err)
	j.events.Finish()
}

// finalize commits the uploaded frames.
func (j *Job) finalize(a *attempt) {
	if len(j.textures) == 0 {
		if a.error() == nil {
			a.fail(errors.Wrap(anigif.ErrNoFrames, "nothing was uploaded"))
		}
		j.attemptFailed(a)
		return
	}
	j.retire(a)

	n := len(j.textures)
	if len(j.delays) < n {
		for _, t := range j.textures[len(j.delays):] {
			t.Dispose()
		}
		n = len(j.delays)
		j.textures = j.textures[:n]
	}
	delays := make([]time.Duration, n)
	for i, d := range j.delays[:n] {
		delays[i] = clampDelay(d)
	}
	j.freeStaging()
	j.state.Store(int32(StateFinalized))
	j.entry.commit(append([]Texture(nil), j.textures...), delays, false, j.reg.now())
	if j.placeholder != j.reg.placeholders.Fallback() {
		j.placeholder.Dispose()
	}
	j.reg.jobDone(j)

	var total time.Duration
	for _, d := range delays {
		total += d
	}
	glog.Infof("loader: %s: ready, %d frames of %v, loop %v, took %v, max queued %d", j.key, n, j.textures[0].Size(), total, j.reg.now().Sub(j.started), a.maxQueued.Load())
	j.events.Printf("ready: %d frames", n)
	j.events.Finish()
}
