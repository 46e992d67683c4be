// Package decoder decouples a decode engine from the goroutines that
// consume its output.
//
// A [Decoder] runs its engine on a dedicated single-goroutine executor and
// publishes filled buffers into a bounded [framepool.Pool]. Consumers call
// [Decoder.Grab] at their own pace and receive packed frames. When they
// fall behind, the pool runs dry and production waits instead of buffering
// without bound.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/framepump/internal/engine"
	"github.com/zsiec/framepump/internal/executor"
	"github.com/zsiec/framepump/internal/framepool"
	"github.com/zsiec/framepump/internal/media"
	"github.com/zsiec/framepump/internal/normalize"
	"github.com/zsiec/framepump/internal/observe"
)

// ErrStopped is returned by Prepare after Stop or Close.
var ErrStopped = errors.New("decoder: stopped")

// Option configures a Decoder.
type Option func(*Decoder)

// WithCapacity sets the number of native buffers kept alive.
func WithCapacity(n int) Option {
	return func(d *Decoder) { d.capacity = n }
}

// WithRetryDelay sets how long the driver waits for a recycled buffer
// before retrying the free pool.
func WithRetryDelay(delay time.Duration) Option {
	return func(d *Decoder) { d.retryDelay = delay }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(d *Decoder) { d.log = log }
}

// WithMetrics sets the metric instruments. The default is
// observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Decoder) { d.metrics = m }
}

// Decoder is the consumer-facing side of an asynchronous decode.
type Decoder struct {
	log        *slog.Logger
	engine     engine.Engine
	metrics    *observe.Metrics
	capacity   int
	retryDelay time.Duration

	pool   *framepool.Pool[*media.NativeBuffer]
	exec   *executor.Loop
	driver *Driver

	stopped   atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New creates a Decoder around eng. Nothing runs until Prepare.
func New(eng engine.Engine, opts ...Option) *Decoder {
	d := &Decoder{
		engine:     eng,
		capacity:   media.DefaultPoolCapacity,
		retryDelay: DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = slog.Default()
	}
	if d.metrics == nil {
		d.metrics = observe.DefaultMetrics()
	}
	d.pool = framepool.New(d.capacity, media.NewNativeBuffer, nil)
	return d
}

// Prepare opens the source and starts decoding in the background. If the
// engine cannot open the source, the driver is never started.
func (d *Decoder) Prepare(path string) error {
	if d.driver != nil {
		return fmt.Errorf("decoder: already prepared")
	}
	if d.stopped.Load() {
		return ErrStopped
	}
	if err := d.engine.Prepare(path); err != nil {
		return fmt.Errorf("decoder: prepare %q: %w", path, err)
	}

	d.exec = executor.New("decode", d.log)
	d.driver = NewDriver(d.pool, d.engine, d.exec, d.metrics, d.retryDelay, d.log)
	d.log.Info("decoder prepared",
		"path", path,
		"width", d.engine.Width(),
		"height", d.engine.Height(),
		"channels", d.engine.Channels(),
		"sample_rate", d.engine.SampleRate(),
		"capacity", d.capacity,
	)
	return d.driver.Start()
}

// Grab blocks until the next decoded unit is available, packs it into out,
// and returns its media type. It returns media.EndOfStream once the stream
// has ended or the decoder is stopped. A buffer the normalizer rejects is
// recycled and its error returned.
func (d *Decoder) Grab(out *media.OutputFrame) (media.MediaType, error) {
	buf, err := d.pool.Take()
	if errors.Is(err, framepool.ErrClosed) {
		return media.EndOfStream, nil
	}
	if err != nil {
		return media.Unknown, err
	}
	defer d.pool.Recycle(buf)

	mt := buf.Type
	if err := normalize.Normalize(buf, mt, out); err != nil {
		d.metrics.NormalizeErrors.Add(context.Background(), 1)
		return media.Unknown, fmt.Errorf("decoder: %w", err)
	}
	d.metrics.FramesConsumed.Add(context.Background(), 1, observe.MediaTypeAttr(mt.String()))
	return mt, nil
}

// Width returns the video width, or 0 before Prepare.
func (d *Decoder) Width() int { return d.engine.Width() }

// Height returns the video height, or 0 before Prepare.
func (d *Decoder) Height() int { return d.engine.Height() }

// Channels returns the audio channel count, or 0 before Prepare.
func (d *Decoder) Channels() int { return d.engine.Channels() }

// SampleRate returns the audio sample rate, or 0 before Prepare.
func (d *Decoder) SampleRate() int { return d.engine.SampleRate() }

// PoolStats returns a snapshot of the buffer pool.
func (d *Decoder) PoolStats() framepool.Stats {
	return d.pool.Stats()
}

// Done is closed when production has stopped. It is nil before Prepare.
func (d *Decoder) Done() <-chan struct{} {
	if d.driver == nil {
		return nil
	}
	return d.driver.Done()
}

// Stop asks production to end. Consumers blocked in Grab return
// media.EndOfStream. Stop may be called at any time; after it, Prepare
// returns ErrStopped.
func (d *Decoder) Stop() {
	d.stopped.Store(true)
	if d.driver != nil {
		d.driver.Stop()
		return
	}
	d.pool.Notify()
}

// Close stops production, waits for the in-flight engine call to return,
// releases the pool and closes the engine. Consumers must not call Grab
// concurrently with Close.
func (d *Decoder) Close() error {
	d.closeOnce.Do(func() {
		d.Stop()
		if d.driver != nil {
			<-d.driver.Done()
			d.exec.Close()
		}
		var errs []error
		if err := d.pool.Clear(); err != nil {
			errs = append(errs, err)
		}
		if err := d.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engine: %w", err))
		}
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}
