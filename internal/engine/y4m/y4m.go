// Package y4m implements a decode engine for YUV4MPEG2 streams carrying raw
// 4:2:0 video. It needs no codec: each FRAME is copied into the native
// buffer as I420 planes, or as NV12 when the engine is built with
// [WithInterleavedChroma] to stand in for hardware decoders that emit
// semi-planar output.
package y4m

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/zsiec/framepump/internal/engine"
	"github.com/zsiec/framepump/internal/media"
	"github.com/zsiec/framepump/internal/source"
)

const (
	streamMagic = "YUV4MPEG2"
	frameMagic  = "FRAME"

	// maxHeaderLen caps stream and frame header lines.
	maxHeaderLen = 4096
)

// HeaderError reports a malformed stream header.
type HeaderError struct {
	Field string
	Err   error
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("y4m: header %s: %v", e.Field, e.Err)
}

func (e *HeaderError) Unwrap() error {
	return e.Err
}

// Sentinel errors for header parsing.
var (
	ErrBadMagic       = errors.New("y4m: missing YUV4MPEG2 signature")
	ErrUnsupportedCSP = errors.New("y4m: unsupported colorspace")
)

// Header holds the stream parameters.
type Header struct {
	Width      int
	Height     int
	FrameRate  media.Rational
	Colorspace string
}

// ParseHeader parses the stream header line without its trailing newline.
func ParseHeader(line string) (Header, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 || fields[0] != streamMagic {
		return Header{}, ErrBadMagic
	}

	h := Header{Colorspace: "420jpeg"}
	for _, f := range fields[1:] {
		if len(f) < 2 {
			continue
		}
		val := f[1:]
		switch f[0] {
		case 'W':
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return Header{}, &HeaderError{Field: "W", Err: fmt.Errorf("invalid width %q", val)}
			}
			h.Width = n
		case 'H':
			n, err := strconv.Atoi(val)
			if err != nil || n <= 0 {
				return Header{}, &HeaderError{Field: "H", Err: fmt.Errorf("invalid height %q", val)}
			}
			h.Height = n
		case 'F':
			r, err := media.ParseRational(val)
			if err != nil {
				return Header{}, &HeaderError{Field: "F", Err: err}
			}
			h.FrameRate = r
		case 'C':
			h.Colorspace = val
		}
	}

	if h.Width == 0 {
		return Header{}, &HeaderError{Field: "W", Err: errors.New("missing")}
	}
	if h.Height == 0 {
		return Header{}, &HeaderError{Field: "H", Err: errors.New("missing")}
	}
	switch h.Colorspace {
	case "420", "420jpeg", "420paldv", "420mpeg2":
	default:
		return Header{}, &HeaderError{Field: "C", Err: fmt.Errorf("%w %q", ErrUnsupportedCSP, h.Colorspace)}
	}
	return h, nil
}

// Option configures an Engine.
type Option func(*Engine)

// WithInterleavedChroma makes Grab emit NV12 buffers instead of I420.
func WithInterleavedChroma() Option {
	return func(e *Engine) { e.interleaved = true }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithContext sets the context used to open the source.
func WithContext(ctx context.Context) Option {
	return func(e *Engine) { e.ctx = ctx }
}

// Engine reads YUV4MPEG2 from a file, standard input, or SRT.
type Engine struct {
	log         *slog.Logger
	ctx         context.Context
	interleaved bool

	rc     io.ReadCloser
	r      *bufio.Reader
	header Header
	frame  []byte
	pts    int64
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
	e.log = e.log.With("component", "y4m-engine")
	return e
}

// Prepare opens path and parses the stream header.
func (e *Engine) Prepare(path string) error {
	rc, err := source.Open(e.ctx, path)
	if err != nil {
		return err
	}
	if err := e.prepareReader(rc); err != nil {
		rc.Close()
		return err
	}
	e.log.Info("stream opened", "path", path, "width", e.header.Width, "height", e.header.Height,
		"fps", e.header.FrameRate.String(), "colorspace", e.header.Colorspace, "interleaved", e.interleaved)
	return nil
}

func (e *Engine) prepareReader(rc io.ReadCloser) error {
	r := bufio.NewReaderSize(rc, 64*1024)
	line, err := readLine(r)
	if err != nil {
		return fmt.Errorf("y4m: read header: %w", err)
	}
	h, err := ParseHeader(line)
	if err != nil {
		return err
	}
	e.rc = rc
	e.r = r
	e.header = h
	cw, ch := (h.Width+1)/2, (h.Height+1)/2
	e.frame = make([]byte, h.Width*h.Height+2*cw*ch)
	return nil
}

// Grab reads the next FRAME into buf.
func (e *Engine) Grab(buf *media.NativeBuffer) media.MediaType {
	if e.r == nil {
		return media.Unknown
	}

	line, err := readLine(e.r)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return media.EndOfStream
		}
		e.log.Warn("frame header read failed", "error", err)
		return media.Unknown
	}
	if !strings.HasPrefix(line, frameMagic) {
		e.log.Error("malformed frame marker", "line", truncate(line, 32))
		return media.Unknown
	}

	if _, err := io.ReadFull(e.r, e.frame); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			e.log.Debug("truncated final frame", "error", err)
			return media.EndOfStream
		}
		e.log.Warn("frame read failed", "error", err)
		return media.Unknown
	}

	e.fill(buf)
	return media.Video
}

func (e *Engine) fill(buf *media.NativeBuffer) {
	w, h := e.header.Width, e.header.Height
	ySize := w * h
	cw, ch := (w+1)/2, (h+1)/2
	cSize := cw * ch

	buf.Width = w
	buf.Height = h
	buf.KeyFrame = true
	buf.PTS = e.pts
	e.pts++

	y := e.frame[:ySize]
	u := e.frame[ySize : ySize+cSize]
	v := e.frame[ySize+cSize : ySize+2*cSize]

	if !e.interleaved {
		buf.PixelFormat = media.PixelFormatI420
		buf.SetPlanes(3)
		buf.SetPlane(0, y, w)
		buf.SetPlane(1, u, cw)
		buf.SetPlane(2, v, cw)
		return
	}

	buf.PixelFormat = media.PixelFormatNV12
	buf.SetPlanes(2)
	buf.SetPlane(0, y, w)
	uv := buf.Plane(1, cSize*2)
	for i := 0; i < cSize; i++ {
		uv[i*2] = u[i]
		uv[i*2+1] = v[i]
	}
	buf.Linesize[1] = cw * 2
}

// Header returns the parsed stream header.
func (e *Engine) Header() Header { return e.header }

// FrameRate returns the declared frame rate, or the zero rational before
// Prepare.
func (e *Engine) FrameRate() media.Rational { return e.header.FrameRate }

func (e *Engine) Width() int      { return e.header.Width }
func (e *Engine) Height() int     { return e.header.Height }
func (e *Engine) Channels() int   { return 0 }
func (e *Engine) SampleRate() int { return 0 }

// Close releases the source.
func (e *Engine) Close() error {
	if e.rc == nil {
		return nil
	}
	err := e.rc.Close()
	e.rc = nil
	return err
}

// readLine reads a newline-terminated header line.
func readLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				return "", io.ErrUnexpectedEOF
			}
			return "", err
		}
		line = append(line, chunk...)
		if len(line) > maxHeaderLen {
			return "", fmt.Errorf("header line longer than %d bytes", maxHeaderLen)
		}
		if !isPrefix {
			return string(bytes.TrimRight(line, "\r")), nil
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
