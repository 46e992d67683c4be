// Package framepool implements a bounded pool of reusable decode buffers
// shared by one producer and any number of consumers.
//
// A [Pool] owns at most capacity buffers. At any instant each buffer is in
// the free queue, in the ready queue, or held by the producer or a consumer.
// Running out of free buffers is not an error: it is how a slow consumer
// applies backpressure to the producer.
package framepool

import (
	"errors"
	"sync"
)

// Sentinel errors returned by Pool operations.
var (
	ErrClosed          = errors.New("framepool: closed")
	ErrBuffersInFlight = errors.New("framepool: buffers still in flight")
	ErrNotInFlight     = errors.New("framepool: recycle with no buffer in flight")
)

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Capacity  int
	Allocated int
	Free      int
	Ready     int
}

// InFlight returns the number of buffers held by the producer or consumers.
func (s Stats) InFlight() int {
	return s.Allocated - s.Free - s.Ready
}

// Pool is a fixed-capacity pool with a free queue and a FIFO ready queue.
// All methods are safe for concurrent use.
type Pool[T any] struct {
	alloc   func() T
	release func(T)

	mu        sync.Mutex
	cond      *sync.Cond
	capacity  int
	allocated int
	free      []T
	ready     ring[T]
	closed    bool
	finished  bool

	freed chan struct{}
}

// New creates a pool holding at most capacity buffers. Buffers are created
// lazily with alloc; release (which may be nil) is called for each buffer
// by Clear.
func New[T any](capacity int, alloc func() T, release func(T)) *Pool[T] {
	if capacity < 1 {
		capacity = 1
	}
	p := &Pool[T]{
		alloc:    alloc,
		release:  release,
		capacity: capacity,
		free:     make([]T, 0, capacity),
		ready:    newRing[T](capacity),
		freed:    make(chan struct{}, 1),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// TakeCache returns a free buffer without blocking. When the free queue is
// empty and fewer than capacity buffers exist, a new one is allocated.
// It reports false when the pool is exhausted or closed.
func (p *Pool[T]) TakeCache() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	if p.closed || p.finished {
		return zero, false
	}
	if n := len(p.free); n > 0 {
		buf := p.free[n-1]
		p.free[n-1] = zero
		p.free = p.free[:n-1]
		return buf, true
	}
	if p.allocated < p.capacity {
		p.allocated++
		return p.alloc(), true
	}
	return zero, false
}

// Offer publishes a filled buffer to the ready queue. It blocks while the
// ready queue is full. If the pool is closed the buffer goes back to the
// free queue and ErrClosed is returned.
func (p *Pool[T]) Offer(buf T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.ready.len() == p.capacity && !p.closed {
		p.cond.Wait()
	}
	if p.closed || p.finished {
		p.free = append(p.free, buf)
		p.cond.Broadcast()
		return ErrClosed
	}
	p.ready.push(buf)
	p.cond.Broadcast()
	return nil
}

// Take blocks until a ready buffer is available and returns it in publish
// order. After Notify it returns ErrClosed at once, even if buffers are
// still ready. After Finish it drains the ready queue, then returns
// ErrClosed.
func (p *Pool[T]) Take() (T, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.ready.len() == 0 && !p.closed && !p.finished {
		p.cond.Wait()
	}
	var zero T
	if p.closed || p.ready.len() == 0 {
		return zero, ErrClosed
	}
	buf := p.ready.pop()
	p.cond.Broadcast()
	return buf, nil
}

// Recycle returns a buffer to the free queue and wakes a producer waiting
// for one. It is valid after Notify so that no buffer is lost. A recycle
// when every allocated buffer is already free or ready (a double or
// foreign recycle) is dropped and ErrNotInFlight returned.
func (p *Pool[T]) Recycle(buf T) error {
	p.mu.Lock()
	if len(p.free)+p.ready.len() >= p.allocated {
		p.mu.Unlock()
		return ErrNotInFlight
	}
	p.free = append(p.free, buf)
	p.cond.Broadcast()
	p.mu.Unlock()

	select {
	case p.freed <- struct{}{}:
	default:
	}
	return nil
}

// Freed returns a channel that receives after a buffer is recycled. A
// producer that found the free queue empty can wait on it instead of
// polling.
func (p *Pool[T]) Freed() <-chan struct{} {
	return p.freed
}

// Notify closes the pool and wakes every goroutine blocked in Take or
// Offer so that it observes shutdown instead of hanging.
func (p *Pool[T]) Notify() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Closed reports whether the pool was closed by Notify or Clear. A closed
// pool hands out no more free buffers.
func (p *Pool[T]) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Finish marks the end of production. Consumers receive the buffers that
// are already ready and then ErrClosed.
func (p *Pool[T]) Finish() {
	p.mu.Lock()
	p.finished = true
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Clear releases every pooled buffer. It must only be called after the
// producer and all consumers have stopped; buffers they still hold are not
// released and ErrBuffersInFlight is returned.
func (p *Pool[T]) Clear() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var zero T
	released := 0
	for i, buf := range p.free {
		if p.release != nil {
			p.release(buf)
		}
		p.free[i] = zero
		released++
	}
	p.free = p.free[:0]
	for p.ready.len() > 0 {
		buf := p.ready.pop()
		if p.release != nil {
			p.release(buf)
		}
		released++
	}

	inFlight := p.allocated - released
	p.allocated = inFlight
	p.closed = true
	p.cond.Broadcast()
	if inFlight > 0 {
		return ErrBuffersInFlight
	}
	return nil
}

// Stats returns a snapshot of pool occupancy.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Capacity:  p.capacity,
		Allocated: p.allocated,
		Free:      len(p.free),
		Ready:     p.ready.len(),
	}
}

// ring is a fixed-size FIFO. The pool never holds more than capacity
// buffers, so the ready queue cannot overflow it.
type ring[T any] struct {
	buf  []T
	head int
	n    int
}

func newRing[T any](size int) ring[T] {
	return ring[T]{buf: make([]T, size)}
}

func (r *ring[T]) len() int { return r.n }

func (r *ring[T]) push(v T) {
	r.buf[(r.head+r.n)%len(r.buf)] = v
	r.n++
}

func (r *ring[T]) pop() T {
	var zero T
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return v
}
