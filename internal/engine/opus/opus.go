// Package opus implements a decode engine for Ogg/Opus audio. Pages are read
// with pion's oggreader and decoded with libopus through gopus, then
// deinterleaved into planar float32 buffers.
//
// Each Ogg page is expected to carry one Opus packet, which is how pion's
// oggwriter and most RTP recorders lay out files.
package opus

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"layeh.com/gopus"

	"github.com/zsiec/framepump/internal/engine"
	"github.com/zsiec/framepump/internal/media"
	"github.com/zsiec/framepump/internal/source"
)

const (
	// sampleRate is the rate libopus decodes at.
	sampleRate = 48000
	// maxFrameSize is the largest Opus frame in samples per channel (120ms).
	maxFrameSize = 5760
	// maxBadPackets is how many undecodable packets in a row end the stream.
	maxBadPackets = 16
)

var tagsMagic = []byte("OpusTags")

// ErrChannels is returned for streams gopus cannot decode.
var ErrChannels = errors.New("opus: only mono and stereo streams are supported")

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithContext sets the context used to open the source.
func WithContext(ctx context.Context) Option {
	return func(e *Engine) { e.ctx = ctx }
}

// Engine decodes Ogg/Opus from a file, standard input, or SRT.
type Engine struct {
	log *slog.Logger
	ctx context.Context

	rc       io.ReadCloser
	ogg      *oggreader.OggReader
	dec      *gopus.Decoder
	channels int
	preSkip  int
	pts      int64
}

var _ engine.Engine = (*Engine)(nil)

// New creates an unprepared engine.
func New(opts ...Option) *Engine {
	e := &Engine{ctx: context.Background()}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.log = e.log.With("component", "opus-engine")
	return e
}

// Prepare opens path, reads the OpusHead page, and creates the decoder.
func (e *Engine) Prepare(path string) error {
	rc, err := source.Open(e.ctx, path)
	if err != nil {
		return err
	}
	if err := e.prepareReader(rc); err != nil {
		rc.Close()
		return err
	}
	e.log.Info("stream opened", "path", path, "channels", e.channels, "pre_skip", e.preSkip)
	return nil
}

func (e *Engine) prepareReader(rc io.ReadCloser) error {
	ogg, head, err := oggreader.NewWith(rc)
	if err != nil {
		return fmt.Errorf("opus: read header: %w", err)
	}
	channels := int(head.Channels)
	if channels < 1 || channels > 2 {
		return fmt.Errorf("%w (got %d)", ErrChannels, channels)
	}
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return fmt.Errorf("opus: create decoder: %w", err)
	}
	e.rc = rc
	e.ogg = ogg
	e.dec = dec
	e.channels = channels
	e.preSkip = int(head.PreSkip)
	return nil
}

// Grab decodes the next packet into buf as planar float32 samples. Pages
// that decode to nothing, such as OpusTags or the pre-skip prefix, are
// consumed without returning.
func (e *Engine) Grab(buf *media.NativeBuffer) media.MediaType {
	if e.ogg == nil {
		return media.Unknown
	}

	bad := 0
	for {
		page, hdr, err := e.ogg.ParseNextPage()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return media.EndOfStream
			}
			e.log.Warn("page read failed", "error", err)
			return media.Unknown
		}
		if len(page) == 0 || bytes.HasPrefix(page, tagsMagic) {
			continue
		}

		pcm, err := e.dec.Decode(page, maxFrameSize, false)
		if err != nil {
			bad++
			e.log.Debug("packet decode failed", "granule", hdr.GranulePosition, "error", err)
			if bad >= maxBadPackets {
				e.log.Error("too many undecodable packets", "count", bad)
				return media.Unknown
			}
			continue
		}
		bad = 0

		pcm = e.skip(pcm)
		if len(pcm) == 0 {
			continue
		}
		e.fill(buf, pcm)
		return media.Audio
	}
}

// skip drops samples still owed to the stream's pre-skip.
func (e *Engine) skip(pcm []int16) []int16 {
	if e.preSkip == 0 {
		return pcm
	}
	n := len(pcm) / e.channels
	if n <= e.preSkip {
		e.preSkip -= n
		return nil
	}
	pcm = pcm[e.preSkip*e.channels:]
	e.preSkip = 0
	return pcm
}

func (e *Engine) fill(buf *media.NativeBuffer, pcm []int16) {
	nb := len(pcm) / e.channels

	buf.SampleFormat = media.SampleFormatFltP
	buf.Channels = e.channels
	buf.SampleRate = sampleRate
	buf.NbSamples = nb
	buf.PTS = e.pts
	e.pts += int64(nb)

	buf.SetPlanes(e.channels)
	for ch := 0; ch < e.channels; ch++ {
		plane := buf.Plane(ch, nb*4)
		for i := 0; i < nb; i++ {
			f := float32(pcm[i*e.channels+ch]) / 32768
			binary.LittleEndian.PutUint32(plane[i*4:], math.Float32bits(f))
		}
		buf.Linesize[ch] = nb * 4
	}
}

func (e *Engine) Width() int    { return 0 }
func (e *Engine) Height() int   { return 0 }
func (e *Engine) Channels() int { return e.channels }

// SampleRate returns 48000 once prepared. Opus always decodes at 48kHz
// regardless of the input rate recorded in the header.
func (e *Engine) SampleRate() int {
	if e.dec == nil {
		return 0
	}
	return sampleRate
}

// Close releases the source.
func (e *Engine) Close() error {
	if e.rc == nil {
		return nil
	}
	err := e.rc.Close()
	e.rc = nil
	return err
}
