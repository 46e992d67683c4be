package executor

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestQueueEventRunsInOrder(t *testing.T) {
	t.Parallel()
	l := New("order", nil)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		l.QueueEvent(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	l.Close()

	if len(got) != 100 {
		t.Fatalf("ran %d tasks, want 100", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("task %d ran at position %d", v, i)
		}
	}
}

func TestTasksRunOneAtATime(t *testing.T) {
	t.Parallel()
	l := New("serial", nil)

	var running, maxRunning atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		l.QueueEvent(func() {
			defer wg.Done()
			n := running.Add(1)
			if n > maxRunning.Load() {
				maxRunning.Store(n)
			}
			time.Sleep(100 * time.Microsecond)
			running.Add(-1)
		})
	}
	wg.Wait()
	l.Close()

	if got := maxRunning.Load(); got != 1 {
		t.Errorf("max concurrent tasks: got %d, want 1", got)
	}
}

func TestSelfResubmittingTaskKeepsStackFlat(t *testing.T) {
	t.Parallel()
	l := New("resubmit", nil)

	const iterations = 10000
	var count int
	var firstDepth, lastDepth int
	done := make(chan struct{})

	var step func()
	step = func() {
		count++
		pcs := make([]uintptr, 64)
		depth := runtime.Callers(0, pcs)
		if count == 1 {
			firstDepth = depth
		}
		lastDepth = depth
		if count == iterations {
			close(done)
			return
		}
		l.QueueEvent(step)
	}
	l.QueueEvent(step)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("only %d iterations ran", count)
	}
	l.Close()

	if lastDepth != firstDepth {
		t.Errorf("stack depth grew from %d to %d", firstDepth, lastDepth)
	}
}

func TestCloseDrainsQueuedTasks(t *testing.T) {
	t.Parallel()
	l := New("drain", nil)

	block := make(chan struct{})
	l.QueueEvent(func() { <-block })

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		l.QueueEvent(func() { ran.Add(1) })
	}

	closed := make(chan struct{})
	go func() {
		l.Close()
		close(closed)
	}()
	time.Sleep(10 * time.Millisecond)
	close(block)

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
	if got := ran.Load(); got != 5 {
		t.Errorf("queued tasks run: got %d, want 5", got)
	}
}

func TestQueueEventAfterCloseIsDropped(t *testing.T) {
	t.Parallel()
	l := New("closed", nil)
	l.Close()

	var ran atomic.Bool
	l.QueueEvent(func() { ran.Store(true) })
	time.Sleep(10 * time.Millisecond)

	if ran.Load() {
		t.Error("task queued after Close should not run")
	}
	if got := l.Pending(); got != 0 {
		t.Errorf("Pending: got %d, want 0", got)
	}
	l.Close()
}

func TestPanickingTaskDoesNotStopLane(t *testing.T) {
	t.Parallel()
	l := New("panic", nil)

	done := make(chan struct{})
	l.QueueEvent(func() { panic("boom") })
	l.QueueEvent(func() { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lane stopped after a panicking task")
	}
	l.Close()
}
