package normalize

import (
	"bytes"
	"errors"
	"testing"

	"github.com/zsiec/framepump/internal/media"
)

func seq(start, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(start + i)
	}
	return b
}

func TestNormalizeNV12(t *testing.T) {
	t.Parallel()

	src := &media.NativeBuffer{
		PixelFormat: media.PixelFormatNV12,
		Width:       4,
		Height:      4,
		Planes:      [][]byte{seq(0, 16), {100, 101, 102, 103, 104, 105, 106, 107}},
		Linesize:    []int{4, 4},
	}
	var dst media.OutputFrame
	if err := Normalize(src, media.Video, &dst); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	want := append(seq(0, 16), 100, 102, 104, 106, 101, 103, 105, 107)
	if dst.Size != 24 {
		t.Errorf("Size: got %d, want 24", dst.Size)
	}
	if !bytes.Equal(dst.Bytes(), want) {
		t.Errorf("output:\n got %v\nwant %v", dst.Bytes(), want)
	}
	if dst.Width != 4 || dst.Height != 4 || dst.Offset != 0 {
		t.Errorf("metadata: got %dx%d offset %d, want 4x4 offset 0", dst.Width, dst.Height, dst.Offset)
	}
	if dst.Type != media.Video {
		t.Errorf("Type: got %s, want video", dst.Type)
	}
}

func TestNormalizeNV12Padded(t *testing.T) {
	t.Parallel()

	// 4x2 picture, luma stride 6, chroma stride 6 (one chroma row).
	luma := []byte{
		0, 1, 2, 3, 0xEE, 0xEE,
		4, 5, 6, 7, 0xEE, 0xEE,
	}
	chroma := []byte{10, 11, 12, 13, 0xEE, 0xEE}
	src := &media.NativeBuffer{
		PixelFormat: media.PixelFormatNV12,
		Width:       4,
		Height:      2,
		Planes:      [][]byte{luma, chroma},
		Linesize:    []int{6, 6},
	}
	var dst media.OutputFrame
	if err := Normalize(src, media.Video, &dst); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := []byte{0, 1, 2, 3, 4, 5, 6, 7, 10, 12, 11, 13}
	if !bytes.Equal(dst.Bytes(), want) {
		t.Errorf("output:\n got %v\nwant %v", dst.Bytes(), want)
	}
}

func TestNormalizeI420(t *testing.T) {
	t.Parallel()

	y, u, v := seq(0, 16), seq(50, 4), seq(80, 4)
	src := &media.NativeBuffer{
		PixelFormat: media.PixelFormatI420,
		Width:       4,
		Height:      4,
		Planes:      [][]byte{y, u, v},
		Linesize:    []int{4, 2, 2},
	}
	var dst media.OutputFrame
	if err := Normalize(src, media.Video, &dst); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	want := append(append(append([]byte{}, y...), u...), v...)
	if dst.Size != 24 {
		t.Errorf("Size: got %d, want 24", dst.Size)
	}
	if !bytes.Equal(dst.Bytes(), want) {
		t.Errorf("output:\n got %v\nwant %v", dst.Bytes(), want)
	}
}

func TestNormalizeI420Padded(t *testing.T) {
	t.Parallel()

	src := &media.NativeBuffer{
		PixelFormat: media.PixelFormatI420,
		Width:       2,
		Height:      2,
		Planes: [][]byte{
			{1, 2, 0xEE, 3, 4, 0xEE},
			{5, 0xEE},
			{6, 0xEE},
		},
		Linesize: []int{3, 2, 2},
	}
	var dst media.OutputFrame
	if err := Normalize(src, media.Video, &dst); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	want := []byte{1, 2, 3, 4, 5, 6}
	if !bytes.Equal(dst.Bytes(), want) {
		t.Errorf("output: got %v, want %v", dst.Bytes(), want)
	}
}

func TestNormalizeOddDimensionsBlankChromaRemainder(t *testing.T) {
	t.Parallel()

	// 5x3 picture: the packed chroma blocks hold 3 samples each but the
	// source only covers 2x1 of them.
	tests := []struct {
		name string
		src  *media.NativeBuffer
	}{
		{
			name: "i420 padded chroma",
			src: &media.NativeBuffer{
				PixelFormat: media.PixelFormatI420,
				Width:       5,
				Height:      3,
				Planes:      [][]byte{seq(0, 15), {1, 2, 0xEE}, {7, 8, 0xEE}},
				Linesize:    []int{5, 3, 3},
			},
		},
		{
			name: "nv12 padded chroma",
			src: &media.NativeBuffer{
				PixelFormat: media.PixelFormatNV12,
				Width:       5,
				Height:      3,
				Planes:      [][]byte{seq(0, 15), {1, 7, 2, 8, 0xEE, 0xEE}},
				Linesize:    []int{5, 6},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dst := media.OutputFrame{Data: bytes.Repeat([]byte{0xEE}, 21)}
			if err := Normalize(tt.src, media.Video, &dst); err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if dst.Size != 21 {
				t.Fatalf("Size: got %d, want 21", dst.Size)
			}
			want := append(seq(0, 15), 1, 2, 0, 7, 8, 0)
			if !bytes.Equal(dst.Bytes(), want) {
				t.Errorf("output:\n got %v\nwant %v", dst.Bytes(), want)
			}
		})
	}
}

func TestNormalizeAudioSkipsEmptyChannels(t *testing.T) {
	t.Parallel()

	ch0, ch2 := seq(10, 8), seq(40, 6)
	src := &media.NativeBuffer{
		SampleFormat: media.SampleFormatFltP,
		Channels:     3,
		Planes:       [][]byte{ch0, nil, ch2},
		Linesize:     []int{8, 0, 6},
	}
	dst := media.OutputFrame{Width: 640, Height: 480}
	if err := Normalize(src, media.Audio, &dst); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	want := append(append([]byte{}, ch0...), ch2...)
	if dst.Size != 14 {
		t.Errorf("Size: got %d, want 14", dst.Size)
	}
	if !bytes.Equal(dst.Bytes(), want) {
		t.Errorf("output:\n got %v\nwant %v", dst.Bytes(), want)
	}
	if dst.Width != 0 || dst.Height != 0 {
		t.Errorf("audio geometry: got %dx%d, want 0x0", dst.Width, dst.Height)
	}
	if dst.Type != media.Audio {
		t.Errorf("Type: got %s, want audio", dst.Type)
	}
}

func TestNormalizeReusesDestination(t *testing.T) {
	t.Parallel()

	src := &media.NativeBuffer{
		PixelFormat: media.PixelFormatI420,
		Width:       4,
		Height:      4,
		Planes:      [][]byte{seq(0, 16), seq(0, 4), seq(0, 4)},
	}
	dst := media.OutputFrame{Data: make([]byte, 64)}
	backing := &dst.Data[0]
	if err := Normalize(src, media.Video, &dst); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if &dst.Data[0] != backing {
		t.Error("destination was reallocated although it had enough capacity")
	}
	if dst.Size != 24 {
		t.Errorf("Size: got %d, want 24", dst.Size)
	}
}

func TestNormalizeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		src  *media.NativeBuffer
		mt   media.MediaType
		want error
	}{
		{
			name: "unknown pixel format",
			src:  &media.NativeBuffer{Width: 2, Height: 2, Planes: [][]byte{seq(0, 4)}},
			mt:   media.Video,
			want: ErrUnsupportedFormat,
		},
		{
			name: "unknown sample format",
			src:  &media.NativeBuffer{Channels: 1, Planes: [][]byte{seq(0, 4)}, Linesize: []int{4}},
			mt:   media.Audio,
			want: ErrUnsupportedFormat,
		},
		{
			name: "end of stream",
			src:  &media.NativeBuffer{},
			mt:   media.EndOfStream,
			want: ErrUnsupportedMediaType,
		},
		{
			name: "unknown media type",
			src:  &media.NativeBuffer{},
			mt:   media.Unknown,
			want: ErrUnsupportedMediaType,
		},
		{
			name: "short luma",
			src: &media.NativeBuffer{
				PixelFormat: media.PixelFormatI420,
				Width:       4,
				Height:      4,
				Planes:      [][]byte{seq(0, 10), seq(0, 4), seq(0, 4)},
			},
			mt:   media.Video,
			want: ErrShortPlane,
		},
		{
			name: "missing chroma plane",
			src: &media.NativeBuffer{
				PixelFormat: media.PixelFormatNV12,
				Width:       4,
				Height:      4,
				Planes:      [][]byte{seq(0, 16)},
			},
			mt:   media.Video,
			want: ErrShortPlane,
		},
		{
			name: "short audio channel",
			src: &media.NativeBuffer{
				SampleFormat: media.SampleFormatFltP,
				Channels:     1,
				Planes:       [][]byte{seq(0, 4)},
				Linesize:     []int{8},
			},
			mt:   media.Audio,
			want: ErrShortPlane,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var dst media.OutputFrame
			err := Normalize(tt.src, tt.mt, &dst)
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}
