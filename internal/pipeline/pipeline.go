// Package pipeline drains a decoder into a sink for a single input, counting
// what it forwards so callers can report progress.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/zsiec/framepump/internal/media"
	"github.com/zsiec/framepump/internal/normalize"
)

// Grabber is the subset of decoder.Decoder the pipeline pulls from.
type Grabber interface {
	Grab(out *media.OutputFrame) (media.MediaType, error)
	Stop()
}

// Sink receives every normalized frame. The frame's buffer is reused by the
// next Grab, so WriteFrame must not retain it.
type Sink interface {
	WriteFrame(frame *media.OutputFrame) error
}

// Snapshot is a point-in-time view of a pipeline's counters.
type Snapshot struct {
	Key           string `json:"key"`
	UptimeMs      int64  `json:"uptimeMs"`
	VideoFrames   int64  `json:"videoFrames"`
	AudioFrames   int64  `json:"audioFrames"`
	Bytes         int64  `json:"bytes"`
	LastVideoSize int64  `json:"lastVideoSize"`
	Errors        int64  `json:"errors"`
}

// Pipeline forwards frames from one Grabber to one Sink.
type Pipeline struct {
	log       *slog.Logger
	key       string
	src       Grabber
	sink      Sink
	startTime time.Time

	videoFrames   atomic.Int64
	audioFrames   atomic.Int64
	bytes         atomic.Int64
	lastVideoSize atomic.Int64
	errors        atomic.Int64
}

// New creates a Pipeline for the input identified by key.
func New(key string, src Grabber, sink Sink) *Pipeline {
	return &Pipeline{
		log:       slog.With("component", "pipeline", "stream", key),
		key:       key,
		src:       src,
		sink:      sink,
		startTime: time.Now(),
	}
}

// Snapshot returns the current counters.
func (p *Pipeline) Snapshot() Snapshot {
	return Snapshot{
		Key:           p.key,
		UptimeMs:      time.Since(p.startTime).Milliseconds(),
		VideoFrames:   p.videoFrames.Load(),
		AudioFrames:   p.audioFrames.Load(),
		Bytes:         p.bytes.Load(),
		LastVideoSize: p.lastVideoSize.Load(),
		Errors:        p.errors.Load(),
	}
}

// Run pulls frames until end of stream or until ctx is cancelled, which stops
// the source so a blocked Grab returns. A frame with malformed planes is
// counted and skipped. A format or media type the normalizer cannot handle
// will not change mid-stream, so it ends the run with an error, as does a
// sink error.
func (p *Pipeline) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, p.src.Stop)
	defer stop()

	var out media.OutputFrame
	for {
		mt, err := p.src.Grab(&out)
		if err != nil {
			if ctx.Err() != nil {
				p.log.Info("pipeline cancelled", "error", err)
				return nil
			}
			p.errors.Add(1)
			if errors.Is(err, normalize.ErrUnsupportedFormat) || errors.Is(err, normalize.ErrUnsupportedMediaType) {
				return fmt.Errorf("pipeline %s: %w", p.key, err)
			}
			p.log.Warn("frame dropped", "error", err)
			continue
		}

		switch mt {
		case media.Video:
			p.videoFrames.Add(1)
			p.lastVideoSize.Store(int64(out.Size))
		case media.Audio:
			p.audioFrames.Add(1)
		default:
			s := p.Snapshot()
			p.log.Info("pipeline finished", "video", s.VideoFrames, "audio", s.AudioFrames,
				"bytes", s.Bytes, "cancelled", ctx.Err() != nil)
			return nil
		}

		if err := p.sink.WriteFrame(&out); err != nil {
			return fmt.Errorf("pipeline %s: write %s frame: %w", p.key, mt, err)
		}
		p.bytes.Add(int64(out.Size))
	}
}

// RawSink writes packed video and audio payloads to separate writers. A nil
// writer discards that media type.
type RawSink struct {
	Video io.Writer
	Audio io.Writer
}

// WriteFrame implements Sink.
func (s *RawSink) WriteFrame(frame *media.OutputFrame) error {
	var w io.Writer
	switch frame.Type {
	case media.Video:
		w = s.Video
	case media.Audio:
		w = s.Audio
	default:
		return fmt.Errorf("raw sink: unexpected %s frame", frame.Type)
	}
	if w == nil {
		return nil
	}
	_, err := w.Write(frame.Bytes())
	return err
}

// Close closes any writer that is also an io.Closer. A writer used for
// both media types is closed once.
func (s *RawSink) Close() error {
	var errs []error
	for i, w := range []io.Writer{s.Video, s.Audio} {
		if i == 1 && sameWriter(w, s.Video) {
			break
		}
		if c, ok := w.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

// sameWriter reports whether a and b hold the same value. Writers whose
// dynamic values cannot be compared are never the same.
func sameWriter(a, b io.Writer) bool {
	if a == nil || b == nil {
		return false
	}
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Type() != vb.Type() || !va.Comparable() {
		return false
	}
	return va.Equal(vb)
}
