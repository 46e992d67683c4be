package decoder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/framepump/internal/engine"
	"github.com/zsiec/framepump/internal/framepool"
	"github.com/zsiec/framepump/internal/media"
	"github.com/zsiec/framepump/internal/observe"
)

// DefaultRetryDelay bounds how long a driver waits for a recycled buffer
// before it tries the free pool again.
const DefaultRetryDelay = 5 * time.Millisecond

// State is the lifecycle state of a Driver.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Executor runs tasks one at a time in FIFO order.
type Executor interface {
	QueueEvent(task func())
}

// Driver runs the production loop: take a free buffer, have the engine
// fill it, publish it. Each iteration runs as its own task on the executor
// and queues the next one.
type Driver struct {
	log        *slog.Logger
	pool       *framepool.Pool[*media.NativeBuffer]
	engine     engine.Engine
	exec       Executor
	metrics    *observe.Metrics
	retryDelay time.Duration

	state    atomic.Int32
	stopReq  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	frames atomic.Int64
	stalls atomic.Int64
}

// NewDriver wires a driver to its pool, engine and executor.
func NewDriver(pool *framepool.Pool[*media.NativeBuffer], eng engine.Engine, exec Executor, metrics *observe.Metrics, retryDelay time.Duration, log *slog.Logger) *Driver {
	if log == nil {
		log = slog.Default()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	d := &Driver{
		log:        log.With("component", "decode-driver"),
		pool:       pool,
		engine:     eng,
		exec:       exec,
		metrics:    metrics,
		retryDelay: retryDelay,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	d.state.Store(int32(StateIdle))
	return d
}

// Start moves the driver from Idle to Running and queues the first
// iteration.
func (d *Driver) Start() error {
	if !d.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("decoder: driver is %s, not idle", d.State())
	}
	d.log.Debug("driver started")
	d.exec.QueueEvent(d.iterate)
	return nil
}

// Stop requests shutdown. The request is observed at the next iteration
// boundary; an engine call in progress is not interrupted. Consumers
// blocked on the pool are woken immediately.
func (d *Driver) Stop() {
	d.stopOnce.Do(func() {
		d.stopReq.Store(true)
		close(d.stopCh)
	})
	d.pool.Notify()
	if d.state.CompareAndSwap(int32(StateIdle), int32(StateStopped)) {
		close(d.done)
	}
}

// Done is closed once the driver reaches StateStopped.
func (d *Driver) Done() <-chan struct{} {
	return d.done
}

// State returns the current lifecycle state.
func (d *Driver) State() State {
	return State(d.state.Load())
}

// Frames returns the number of units published so far.
func (d *Driver) Frames() int64 {
	return d.frames.Load()
}

// Stalls returns the number of iterations that found no free buffer.
func (d *Driver) Stalls() int64 {
	return d.stalls.Load()
}

func (d *Driver) iterate() {
	if d.stopReq.Load() {
		d.finish("stop requested")
		return
	}

	buf, ok := d.pool.TakeCache()
	if !ok {
		// A closed pool never frees a buffer again.
		if d.pool.Closed() {
			d.finish("pool closed")
			return
		}
		d.stalls.Add(1)
		d.metrics.PoolStalls.Add(context.Background(), 1)
		go d.waitForFree()
		return
	}

	buf.Reset()
	start := time.Now()
	mt := d.engine.Grab(buf)
	d.metrics.GrabDuration.Record(context.Background(), time.Since(start).Seconds())
	buf.Type = mt

	switch mt {
	case media.Video, media.Audio:
		if err := d.pool.Offer(buf); err != nil {
			d.finish("pool closed")
			return
		}
		d.frames.Add(1)
		d.metrics.FramesDecoded.Add(context.Background(), 1, observe.MediaTypeAttr(mt.String()))
		d.exec.QueueEvent(d.iterate)
	default:
		// The buffer was never published; hand it back or the pool
		// loses a slot for good.
		if err := d.pool.Recycle(buf); err != nil {
			d.log.Warn("recycle after end of stream failed", "error", err)
		}
		d.pool.Finish()
		d.finish(mt.String())
	}
}

// waitForFree resubmits the iteration once a buffer is recycled, the retry
// delay passes, or stop is requested. It runs off the executor so the lane
// stays free while the consumer catches up.
func (d *Driver) waitForFree() {
	timer := time.NewTimer(d.retryDelay)
	defer timer.Stop()

	select {
	case <-d.pool.Freed():
	case <-timer.C:
	case <-d.stopCh:
	}
	d.exec.QueueEvent(d.iterate)
}

func (d *Driver) finish(reason string) {
	if d.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) {
		d.log.Info("driver stopped", "reason", reason, "frames", d.frames.Load(), "stalls", d.stalls.Load())
		close(d.done)
	}
}
