// Package media defines the frame types that flow between the decode engine,
// the frame pool, and consumers: the reusable native buffer an engine fills,
// and the packed output frame a consumer reads.
package media

import "fmt"

// DefaultPoolCapacity is the number of native buffers a decoder keeps alive.
// It bounds memory when decoding runs ahead of consumption.
const DefaultPoolCapacity = 8

// MediaType classifies one unit produced by a decode engine.
type MediaType int

// Media types returned by engines and decoders.
const (
	Unknown MediaType = iota
	Video
	Audio
	EndOfStream
)

func (t MediaType) String() string {
	switch t {
	case Video:
		return "video"
	case Audio:
		return "audio"
	case EndOfStream:
		return "eos"
	default:
		return "unknown"
	}
}

// PixelFormat identifies the plane layout of a decoded video picture.
type PixelFormat int

const (
	PixelFormatNone PixelFormat = iota
	PixelFormatNV12             // Y plane + one interleaved UV plane
	PixelFormatI420             // Y, U and V planes
)

func (p PixelFormat) String() string {
	switch p {
	case PixelFormatNV12:
		return "nv12"
	case PixelFormatI420:
		return "i420"
	default:
		return "none"
	}
}

// SampleFormat identifies the layout of decoded audio.
type SampleFormat int

const (
	SampleFormatNone SampleFormat = iota
	SampleFormatFltP              // 32-bit float, one plane per channel
)

func (s SampleFormat) String() string {
	switch s {
	case SampleFormatFltP:
		return "fltp"
	default:
		return "none"
	}
}

// NativeBuffer is a decode-output object reused across many decode cycles.
// It is owned by exactly one party at a time: the producer, the pool's free
// or ready queue, or a consumer.
//
// For video, Linesize holds the stride of each plane. For audio, Linesize
// holds the byte length of each channel plane; a non-positive length means
// the channel carries no data.
type NativeBuffer struct {
	Type         MediaType
	PixelFormat  PixelFormat
	SampleFormat SampleFormat
	Width        int
	Height       int
	Planes       [][]byte
	Linesize     []int
	Channels     int
	SampleRate   int
	NbSamples    int
	KeyFrame     bool
	PTS          int64
}

// NewNativeBuffer allocates an empty buffer. It is the default pool factory.
func NewNativeBuffer() *NativeBuffer {
	return &NativeBuffer{}
}

// Reset clears metadata so the buffer can be refilled. Plane capacity is kept.
func (b *NativeBuffer) Reset() {
	b.Type = Unknown
	b.PixelFormat = PixelFormatNone
	b.SampleFormat = SampleFormatNone
	b.Width = 0
	b.Height = 0
	b.Channels = 0
	b.SampleRate = 0
	b.NbSamples = 0
	b.KeyFrame = false
	b.PTS = 0
	for i := range b.Planes {
		b.Planes[i] = b.Planes[i][:0]
	}
	b.Planes = b.Planes[:0]
	b.Linesize = b.Linesize[:0]
}

// SetPlanes sizes Planes and Linesize to n entries, keeping the capacity of
// any plane slices that already exist.
func (b *NativeBuffer) SetPlanes(n int) {
	if cap(b.Planes) < n {
		planes := make([][]byte, n)
		copy(planes, b.Planes[:cap(b.Planes)])
		b.Planes = planes
	}
	b.Planes = b.Planes[:n]
	if cap(b.Linesize) < n {
		b.Linesize = make([]int, n)
	}
	b.Linesize = b.Linesize[:n]
}

// Plane returns plane i resized to n bytes, growing it only when its
// capacity is too small. SetPlanes must have been called with more than i.
func (b *NativeBuffer) Plane(i, n int) []byte {
	p := b.Planes[i]
	if cap(p) < n {
		p = make([]byte, n)
	}
	p = p[:n]
	b.Planes[i] = p
	return p
}

// SetPlane copies src into plane i and records its line size.
func (b *NativeBuffer) SetPlane(i int, src []byte, linesize int) {
	copy(b.Plane(i, len(src)), src)
	b.Linesize[i] = linesize
}

func (b *NativeBuffer) String() string {
	switch b.Type {
	case Audio:
		return fmt.Sprintf("audio %s ch=%d rate=%d samples=%d", b.SampleFormat, b.Channels, b.SampleRate, b.NbSamples)
	case Video:
		return fmt.Sprintf("video %s %dx%d key=%t", b.PixelFormat, b.Width, b.Height, b.KeyFrame)
	default:
		return b.Type.String()
	}
}

// OutputFrame is a caller-owned packed buffer written by the normalizer.
// Offset is always 0 in this design; it is kept so consumers can address the
// payload explicitly.
type OutputFrame struct {
	Data   []byte
	Offset int
	Size   int
	Width  int
	Height int
	Type   MediaType
}

// Bytes returns the packed payload.
func (f *OutputFrame) Bytes() []byte {
	return f.Data[f.Offset : f.Offset+f.Size]
}

// I420Size returns the packed size of a 4:2:0 picture.
func I420Size(width, height int) int {
	size := width * height
	return size * 3 / 2
}
