package softgpu

import (
	"context"
	"sync"
	"time"
)

// Loop is a loader.RenderThread. Posted functions run in order on whichever
// goroutine calls Tick or Run.
type Loop struct {
	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}
}

// NewLoop returns an idle loop.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

func (l *Loop) Post(f func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, f)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of posted functions not yet run.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tasks)
}

// Tick runs the functions posted before it was called and returns how many
// ran. Functions they post run on the next tick.
func (l *Loop) Tick() int {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()
	for _, f := range tasks {
		f()
	}
	return len(tasks)
}

// RunUntil ticks until done returns true. After a tick that ran functions
// it waits for the next interval, like a frame loop; an idle loop also wakes
// up as soon as something is posted.
func (l *Loop) RunUntil(ctx context.Context, interval time.Duration, done func() bool) error {
	t := time.NewTimer(interval)
	defer t.Stop()
	for !done() {
		ran := l.Tick()
		if done() {
			return nil
		}
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
		t.Reset(interval)
		wake := l.wake
		if ran > 0 {
			wake = nil
		}
		select {
		case <-wake:
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Run ticks until ctx is done.
func (l *Loop) Run(ctx context.Context, interval time.Duration) error {
	return l.RunUntil(ctx, interval, func() bool { return false })
}
