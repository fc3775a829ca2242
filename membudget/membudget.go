// Package membudget models the memory budget of a constrained host.
//
// All large buffers used while decoding (canvas, snapshot, pixel pools,
// staging buffers) are requested through an Allocator, which lets a host
// cap the total and lets tests simulate allocation failure.
package membudget

import (
	"sync/atomic"

	"github.com/pkg/errors"
)

// ErrExhausted is returned when an allocation would exceed the budget.
var ErrExhausted = errors.New("membudget: budget exhausted")

// Allocator hands out byte buffers and takes them back.
type Allocator interface {
	// Alloc returns a zeroed buffer of length n.
	Alloc(n int) ([]byte, error)
	// Free returns b to the allocator. Passing nil is a no-op.
	Free(b []byte)
}

// Unlimited is an Allocator with no limit.
var Unlimited Allocator = unlimited{}

type unlimited struct{}

func (unlimited) Alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.Errorf("membudget: negative allocation %d", n)
	}
	return make([]byte, n), nil
}

func (unlimited) Free([]byte) {}

// Budget is an Allocator which refuses allocations once the sum of
// outstanding buffers would exceed its limit.
//
// It is safe for concurrent use.
type Budget struct {
	limit int64
	inUse atomic.Int64
	peak  atomic.Int64
	fails atomic.Int64
}

// NewBudget returns a Budget allowing up to limit bytes to be outstanding.
func NewBudget(limit int64) *Budget {
	return &Budget{limit: limit}
}

// Alloc reserves n bytes from the budget.
func (b *Budget) Alloc(n int) ([]byte, error) {
	if n < 0 {
		return nil, errors.Errorf("membudget: negative allocation %d", n)
	}
	for {
		cur := b.inUse.Load()
		next := cur + int64(n)
		if next > b.limit {
			b.fails.Add(1)
			return nil, errors.Wrapf(ErrExhausted, "alloc %d bytes with %d/%d in use", n, cur, b.limit)
		}
		if b.inUse.CompareAndSwap(cur, next) {
			for {
				p := b.peak.Load()
				if next <= p || b.peak.CompareAndSwap(p, next) {
					break
				}
			}
			return make([]byte, n), nil
		}
	}
}

// Free returns the capacity of buf to the budget.
func (b *Budget) Free(buf []byte) {
	if buf == nil {
		return
	}
	b.inUse.Add(-int64(cap(buf)))
}

// InUse reports the number of bytes currently reserved.
func (b *Budget) InUse() int64 { return b.inUse.Load() }

// Peak reports the largest number of bytes ever reserved at once.
func (b *Budget) Peak() int64 { return b.peak.Load() }

// Failures reports how many allocations were refused.
func (b *Budget) Failures() int64 { return b.fails.Load() }

// Limit reports the configured limit.
func (b *Budget) Limit() int64 { return b.limit }
