// Package executor provides a single-goroutine FIFO task lane.
//
// Tasks run one at a time, to completion, in submission order. A task that
// wants to continue schedules its successor with QueueEvent instead of
// calling itself, so long-running producers never grow the stack.
package executor

import (
	"log/slog"
	"sync"
)

// Loop is a single-threaded cooperative executor.
type Loop struct {
	log  *slog.Logger
	name string

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool

	done chan struct{}
}

// New starts a Loop. If log is nil, slog.Default() is used.
func New(name string, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	l := &Loop{
		log:  log.With("component", "executor", "lane", name),
		name: name,
		done: make(chan struct{}),
	}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// QueueEvent schedules task to run after every task queued before it.
// It never blocks. Tasks queued after Close are dropped.
func (l *Loop) QueueEvent(task func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		l.log.Debug("dropping task queued after close")
		return
	}
	l.queue = append(l.queue, task)
	l.cond.Signal()
}

// Pending returns the number of queued tasks not yet started.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close stops accepting tasks, runs the ones already queued, and waits for
// the lane goroutine to exit. It is safe to call more than once.
func (l *Loop) Close() {
	l.mu.Lock()
	l.closed = true
	l.cond.Broadcast()
	l.mu.Unlock()
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)

	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if len(l.queue) == 0 {
			l.mu.Unlock()
			l.log.Debug("lane exited")
			return
		}
		task := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		l.runTask(task)
	}
}

func (l *Loop) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("task panicked", "panic", r)
		}
	}()
	task()
}
