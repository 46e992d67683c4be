//go:build ffmpeg

// Package ffmpeg implements a decode engine on top of libavformat and
// libavcodec through go-astiav. It decodes the first video and first audio
// stream of any container FFmpeg can open.
package ffmpeg

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/framepump/internal/engine"
	"github.com/zsiec/framepump/internal/media"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

type track struct {
	index   int
	mt      media.MediaType
	cc      *astiav.CodecContext
	flushed bool
	eof     bool
}

// Engine decodes one input with FFmpeg.
type Engine struct {
	log *slog.Logger

	fc     *astiav.FormatContext
	pkt    *astiav.Packet
	frame  *astiav.Frame
	video  *track
	audio  *track
	tracks []*track

	// current is the track whose decoder was last fed and may hold frames.
	current  *track
	draining bool
}

var _ engine.Engine = (*Engine)(nil)

// New creates an unprepared engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	e.log = e.log.With("component", "ffmpeg-engine")
	return e
}

// Prepare opens path, probes its streams, and opens a decoder for the first
// video and first audio stream found.
func (e *Engine) Prepare(path string) error {
	fc := astiav.AllocFormatContext()
	if fc == nil {
		return errors.New("ffmpeg: alloc format context failed")
	}
	if err := fc.OpenInput(path, nil, nil); err != nil {
		fc.Free()
		return fmt.Errorf("ffmpeg: open %s: %w", path, err)
	}
	e.fc = fc

	if err := fc.FindStreamInfo(nil); err != nil {
		e.release()
		return fmt.Errorf("ffmpeg: find stream info: %w", err)
	}

	for _, s := range fc.Streams() {
		cp := s.CodecParameters()
		var mt media.MediaType
		switch cp.MediaType() {
		case astiav.MediaTypeVideo:
			if e.video != nil {
				continue
			}
			mt = media.Video
		case astiav.MediaTypeAudio:
			if e.audio != nil {
				continue
			}
			mt = media.Audio
		default:
			continue
		}

		t, err := openTrack(s, mt)
		if err != nil {
			e.log.Warn("skipping stream", "index", s.Index(), "type", mt, "error", err)
			continue
		}
		if mt == media.Video {
			e.video = t
		} else {
			e.audio = t
		}
		e.tracks = append(e.tracks, t)
	}

	if len(e.tracks) == 0 {
		e.release()
		return fmt.Errorf("ffmpeg: %s: %w", path, engine.ErrNoTracks)
	}

	e.pkt = astiav.AllocPacket()
	e.frame = astiav.AllocFrame()
	e.log.Info("input opened", "path", path, "width", e.Width(), "height", e.Height(),
		"channels", e.Channels(), "sample_rate", e.SampleRate())
	return nil
}

func openTrack(s *astiav.Stream, mt media.MediaType) (*track, error) {
	cp := s.CodecParameters()
	codec := astiav.FindDecoder(cp.CodecID())
	if codec == nil {
		return nil, fmt.Errorf("no decoder for %s", cp.CodecID())
	}
	cc := astiav.AllocCodecContext(codec)
	if cc == nil {
		return nil, errors.New("alloc codec context failed")
	}
	if err := cp.ToCodecContext(cc); err != nil {
		cc.Free()
		return nil, fmt.Errorf("copy codec parameters: %w", err)
	}
	if err := cc.Open(codec, nil); err != nil {
		cc.Free()
		return nil, fmt.Errorf("open codec: %w", err)
	}
	return &track{index: s.Index(), mt: mt, cc: cc}, nil
}

// Grab returns the next decoded frame. It alternates between draining the
// decoder that was last fed and reading the next packet; at end of input
// every decoder is flushed before EndOfStream is returned.
func (e *Engine) Grab(buf *media.NativeBuffer) media.MediaType {
	if e.fc == nil {
		return media.Unknown
	}

	for {
		if t := e.current; t != nil {
			err := t.cc.ReceiveFrame(e.frame)
			switch {
			case err == nil:
				mt, err := e.fill(t, buf)
				e.frame.Unref()
				if err != nil {
					e.log.Warn("frame copy failed", "type", t.mt, "error", err)
					continue
				}
				return mt
			case errors.Is(err, astiav.ErrEof):
				t.eof = true
			case errors.Is(err, astiav.ErrEagain):
				if t.flushed {
					t.eof = true
				}
			default:
				e.log.Error("receive frame failed", "type", t.mt, "error", err)
				return media.Unknown
			}
			e.current = nil
		}

		if e.draining {
			t := e.nextUnflushed()
			if t == nil {
				return media.EndOfStream
			}
			if !t.flushed {
				if err := t.cc.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
					e.log.Debug("flush failed", "type", t.mt, "error", err)
					t.eof = true
					continue
				}
				t.flushed = true
			}
			e.current = t
			continue
		}

		if err := e.fc.ReadFrame(e.pkt); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				e.draining = true
				continue
			}
			e.log.Error("read packet failed", "error", err)
			return media.Unknown
		}

		t := e.trackFor(e.pkt.StreamIndex())
		if t == nil {
			e.pkt.Unref()
			continue
		}
		err := t.cc.SendPacket(e.pkt)
		e.pkt.Unref()
		if err != nil && !errors.Is(err, astiav.ErrEagain) {
			e.log.Debug("send packet failed", "type", t.mt, "error", err)
			continue
		}
		e.current = t
	}
}

func (e *Engine) trackFor(index int) *track {
	for _, t := range e.tracks {
		if t.index == index {
			return t
		}
	}
	return nil
}

func (e *Engine) nextUnflushed() *track {
	for _, t := range e.tracks {
		if !t.eof {
			return t
		}
	}
	return nil
}

// fill copies the current frame into buf with tightly packed planes.
func (e *Engine) fill(t *track, buf *media.NativeBuffer) (media.MediaType, error) {
	f := e.frame
	data, err := f.Data().Bytes(1)
	if err != nil {
		return media.Unknown, err
	}
	buf.PTS = f.Pts()

	if t.mt == media.Video {
		return media.Video, fillVideo(f, data, buf)
	}
	return media.Audio, fillAudio(f, data, buf)
}

func fillVideo(f *astiav.Frame, data []byte, buf *media.NativeBuffer) error {
	w, h := f.Width(), f.Height()
	cw, ch := (w+1)/2, (h+1)/2
	ySize, cSize := w*h, cw*ch

	buf.Width = w
	buf.Height = h
	buf.KeyFrame = f.PictureType() == astiav.PictureTypeI

	switch f.PixelFormat() {
	case astiav.PixelFormatNv12:
		if len(data) < ySize+2*cSize {
			return fmt.Errorf("nv12 buffer is %d bytes, want %d", len(data), ySize+2*cSize)
		}
		buf.PixelFormat = media.PixelFormatNV12
		buf.SetPlanes(2)
		buf.SetPlane(0, data[:ySize], w)
		buf.SetPlane(1, data[ySize:ySize+2*cSize], cw*2)
	case astiav.PixelFormatYuv420P, astiav.PixelFormatYuvj420P:
		if len(data) < ySize+2*cSize {
			return fmt.Errorf("yuv420p buffer is %d bytes, want %d", len(data), ySize+2*cSize)
		}
		buf.PixelFormat = media.PixelFormatI420
		buf.SetPlanes(3)
		buf.SetPlane(0, data[:ySize], w)
		buf.SetPlane(1, data[ySize:ySize+cSize], cw)
		buf.SetPlane(2, data[ySize+cSize:ySize+2*cSize], cw)
	default:
		// Passed through untagged so normalization reports the format.
		buf.PixelFormat = media.PixelFormatNone
		buf.SetPlanes(1)
		buf.SetPlane(0, data, w)
	}
	return nil
}

func fillAudio(f *astiav.Frame, data []byte, buf *media.NativeBuffer) error {
	channels := f.ChannelLayout().Channels()
	nb := f.NbSamples()

	buf.Channels = channels
	buf.SampleRate = f.SampleRate()
	buf.NbSamples = nb

	if f.SampleFormat() != astiav.SampleFormatFltp || channels == 0 {
		buf.SampleFormat = media.SampleFormatNone
		buf.SetPlanes(1)
		buf.SetPlane(0, data, len(data))
		return nil
	}

	size := nb * 4
	if len(data) < size*channels {
		return fmt.Errorf("fltp buffer is %d bytes, want %d", len(data), size*channels)
	}
	buf.SampleFormat = media.SampleFormatFltP
	buf.SetPlanes(channels)
	for i := 0; i < channels; i++ {
		buf.SetPlane(i, data[i*size:(i+1)*size], size)
	}
	return nil
}

// Width returns the video width, or 0 without a video stream.
func (e *Engine) Width() int {
	if e.video == nil {
		return 0
	}
	return e.video.cc.Width()
}

// Height returns the video height, or 0 without a video stream.
func (e *Engine) Height() int {
	if e.video == nil {
		return 0
	}
	return e.video.cc.Height()
}

// Channels returns the audio channel count, or 0 without an audio stream.
func (e *Engine) Channels() int {
	if e.audio == nil {
		return 0
	}
	return e.audio.cc.ChannelLayout().Channels()
}

// SampleRate returns the audio sample rate, or 0 without an audio stream.
func (e *Engine) SampleRate() int {
	if e.audio == nil {
		return 0
	}
	return e.audio.cc.SampleRate()
}

// Close frees every FFmpeg object the engine allocated.
func (e *Engine) Close() error {
	e.release()
	return nil
}

func (e *Engine) release() {
	for _, t := range e.tracks {
		t.cc.Free()
	}
	e.tracks = nil
	e.video = nil
	e.audio = nil
	e.current = nil
	if e.frame != nil {
		e.frame.Free()
		e.frame = nil
	}
	if e.pkt != nil {
		e.pkt.Free()
		e.pkt = nil
	}
	if e.fc != nil {
		e.fc.CloseInput()
		e.fc.Free()
		e.fc = nil
	}
}
