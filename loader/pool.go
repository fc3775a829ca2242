package loader

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"badc0de.net/pkg/go-animgif/membudget"
)

// bufferPool is a fixed set of equally sized pixel buffers. Acquire blocks
// while all of them are in use.
type bufferPool struct {
	size  int
	free  chan []byte
	alloc membudget.Allocator

	mu  sync.Mutex
	all [][]byte
}

func newBufferPool(alloc membudget.Allocator, size, n int) (*bufferPool, error) {
	p := &bufferPool{
		size:  size,
		free:  make(chan []byte, n),
		alloc: alloc,
	}
	for i := 0; i < n; i++ {
		b, err := alloc.Alloc(size)
		if err != nil {
			p.close()
			return nil, errors.Wrapf(err, "frame buffer %d/%d", i+1, n)
		}
		p.all = append(p.all, b)
		p.free <- b
	}
	return p, nil
}

func (p *bufferPool) acquire(ctx context.Context) ([]byte, error) {
	select {
	case b := <-p.free:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *bufferPool) release(b []byte) {
	if b == nil {
		return
	}
	select {
	case p.free <- b[:p.size]:
	default:
	}
}

// close returns every buffer to the allocator, wherever it currently is.
// The pool must not be used afterwards.
func (p *bufferPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, b := range p.all {
		p.alloc.Free(b)
	}
	p.all = nil
}
