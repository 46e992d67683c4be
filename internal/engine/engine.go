// Package engine defines the contract between a decoder and the component
// that demuxes and decodes a source. Concrete engines live in subpackages.
package engine

import (
	"errors"

	"github.com/zsiec/framepump/internal/media"
)

// Sentinel errors shared by engine implementations.
var (
	ErrNotPrepared = errors.New("engine: not prepared")
	ErrNoTracks    = errors.New("engine: source has no decodable track")
)

// Engine demuxes and decodes one source.
//
// Grab is only ever called from a single goroutine at a time. It fills buf
// in place and returns [media.Video] or [media.Audio] for a produced unit,
// retrying internally over packets that yield nothing. It returns
// [media.EndOfStream] when the source is exhausted and [media.Unknown] when
// it cannot continue.
//
// The metadata accessors return 0 until Prepare succeeds.
type Engine interface {
	Prepare(path string) error
	Grab(buf *media.NativeBuffer) media.MediaType
	Width() int
	Height() int
	Channels() int
	SampleRate() int
	Close() error
}
