package loader

import (
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// ErrClosed is returned when work is submitted after shutdown.
var ErrClosed = errors.New("loader: closed")

// Worker runs submitted tasks one at a time, in submission order, on a
// single goroutine. Submit never blocks.
type Worker struct {
	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool
	done   chan struct{}
}

// NewWorker starts a worker.
func NewWorker() *Worker {
	w := &Worker{done: make(chan struct{})}
	w.cond = sync.NewCond(&w.mu)
	go w.loop()
	return w
}

// Submit queues f.
func (w *Worker) Submit(f func()) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	w.tasks = append(w.tasks, f)
	w.cond.Signal()
	return nil
}

// Pending returns the number of tasks waiting to run.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tasks)
}

// Close stops accepting tasks and waits until the queued ones have run.
func (w *Worker) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		w.cond.Signal()
	}
	w.mu.Unlock()
	<-w.done
}

func (w *Worker) loop() {
	defer close(w.done)
	for {
		w.mu.Lock()
		for len(w.tasks) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.tasks) == 0 {
			w.mu.Unlock()
			return
		}
		f := w.tasks[0]
		w.tasks[0] = nil
		w.tasks = w.tasks[1:]
		w.mu.Unlock()

		w.run(f)
	}
}

func (w *Worker) run(f func()) {
	defer func() {
		if r := recover(); r != nil {
			glog.Errorf("loader: worker task panicked: %v", r)
		}
	}()
	f()
}
