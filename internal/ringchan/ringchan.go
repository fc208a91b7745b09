// Package ringchan provides a bounded, drop-oldest channel used to hand
// notification values from the event dispatcher to slow consumers.
//
// Producers never block: when the buffer is full the oldest value is
// discarded. Sending on a closed ring is a no-op, so a disconnect racing with
// a late notification cannot panic the dispatcher.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// Ring is a bounded drop-oldest buffer exposed as a receive channel.
type Ring[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
	stats  Stats
}

// New creates a ring with the given capacity. Non-positive capacities panic.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Send enqueues v, discarding the oldest value if the ring is full.
// It reports whether a value was dropped to make room.
func (r *Ring[T]) Send(v T) (dropped bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		atomic.AddInt64(&r.stats.Rejected, 1)
		return false
	}

	for {
		select {
		case r.ch <- v:
			atomic.AddInt64(&r.stats.Written, 1)
			return dropped
		default:
		}
		select {
		case <-r.ch:
			atomic.AddInt64(&r.stats.Overwritten, 1)
			dropped = true
		default:
		}
	}
}

// TryReceive returns the next value without blocking.
func (r *Ring[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-r.ch:
		return v, ok
	default:
		return v, false
	}
}

// Drain removes and returns all buffered values.
func (r *Ring[T]) Drain() []T {
	var out []T
	for {
		v, ok := r.TryReceive()
		if !ok {
			return out
		}
		out = append(out, v)
	}
}

func (r *Ring[T]) Len() int { return len(r.ch) }
func (r *Ring[T]) Cap() int { return cap(r.ch) }

// Close closes the receive channel. Buffered values stay readable. Close is idempotent.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.ch)
}

// Stats returns a snapshot of the ring counters.
func (r *Ring[T]) Stats() Stats {
	return Stats{
		Written:     atomic.LoadInt64(&r.stats.Written),
		Overwritten: atomic.LoadInt64(&r.stats.Overwritten),
		Rejected:    atomic.LoadInt64(&r.stats.Rejected),
	}
}

// Stats counts ring traffic. Rejected counts sends after Close.
type Stats struct {
	Written     int64
	Overwritten int64
	Rejected    int64
}
