// Package normalize packs native decoded buffers into the single layout
// consumers read: planar YUV 4:2:0 for video and per-channel concatenated
// planes for audio.
package normalize

import (
	"errors"
	"fmt"

	"github.com/zsiec/framepump/internal/media"
)

// Sentinel errors for input the normalizer cannot pack. They indicate a
// misconfigured engine, not a transient condition.
var (
	ErrUnsupportedFormat    = errors.New("normalize: unsupported format")
	ErrUnsupportedMediaType = errors.New("normalize: unsupported media type")
	ErrShortPlane           = errors.New("normalize: plane shorter than frame geometry")
)

// Normalize packs src into dst according to mt. dst.Data is reused when it
// is large enough and grown otherwise. Offset is always 0.
func Normalize(src *media.NativeBuffer, mt media.MediaType, dst *media.OutputFrame) error {
	dst.Offset = 0
	dst.Type = mt

	switch mt {
	case media.Video:
		dst.Width = src.Width
		dst.Height = src.Height
		switch src.PixelFormat {
		case media.PixelFormatNV12:
			return copyNV12(dst, src)
		case media.PixelFormatI420:
			return copyI420(dst, src)
		default:
			return fmt.Errorf("%w: pixel format %s", ErrUnsupportedFormat, src.PixelFormat)
		}
	case media.Audio:
		dst.Width = 0
		dst.Height = 0
		if src.SampleFormat != media.SampleFormatFltP {
			return fmt.Errorf("%w: sample format %s", ErrUnsupportedFormat, src.SampleFormat)
		}
		return copyPlanarAudio(dst, src)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mt)
	}
}

// copyNV12 writes the luma plane verbatim, then splits the interleaved
// chroma plane into a U block (even bytes) and a V block (odd bytes).
func copyNV12(dst *media.OutputFrame, src *media.NativeBuffer) error {
	if len(src.Planes) < 2 {
		return fmt.Errorf("%w: nv12 needs 2 planes, got %d", ErrShortPlane, len(src.Planes))
	}
	w, h := src.Width, src.Height
	size := w * h
	quarter := size / 4
	out := grow(dst, size+quarter*2)

	if err := copyRows(out[:size], src.Planes[0], w, h, stride(src, 0, w)); err != nil {
		return fmt.Errorf("luma: %w", err)
	}

	uv := src.Planes[1]
	uvStride := stride(src, 1, w)
	u := out[size : size+quarter]
	v := out[size+quarter : size+2*quarter]
	if uvStride == w {
		if len(uv) < quarter*2 {
			return fmt.Errorf("chroma: %w: have %d, need %d", ErrShortPlane, len(uv), quarter*2)
		}
		for i := 0; i < quarter; i++ {
			u[i] = uv[i*2]
			v[i] = uv[i*2+1]
		}
		return nil
	}

	pairs := w / 2
	rows := h / 2
	if need := (rows-1)*uvStride + pairs*2; rows > 0 && len(uv) < need {
		return fmt.Errorf("chroma: %w: have %d, need %d", ErrShortPlane, len(uv), need)
	}
	i := 0
	for row := 0; row < rows; row++ {
		line := uv[row*uvStride:]
		for x := 0; x < pairs; x++ {
			u[i] = line[x*2]
			v[i] = line[x*2+1]
			i++
		}
	}
	// Odd dimensions leave part of each block uncovered; dst.Data is
	// reused, so blank it rather than leak the previous frame.
	clear(u[i:])
	clear(v[i:])
	return nil
}

// copyI420 writes the three planes back to back.
func copyI420(dst *media.OutputFrame, src *media.NativeBuffer) error {
	if len(src.Planes) < 3 {
		return fmt.Errorf("%w: i420 needs 3 planes, got %d", ErrShortPlane, len(src.Planes))
	}
	w, h := src.Width, src.Height
	size := w * h
	quarter := size / 4
	out := grow(dst, size+quarter*2)

	if err := copyRows(out[:size], src.Planes[0], w, h, stride(src, 0, w)); err != nil {
		return fmt.Errorf("luma: %w", err)
	}
	for i, off := range []int{size, size + quarter} {
		plane := out[off : off+quarter]
		cw := w / 2
		if cw == 0 || stride(src, i+1, cw) == cw {
			if len(src.Planes[i+1]) < quarter {
				return fmt.Errorf("chroma %d: %w: have %d, need %d", i+1, ErrShortPlane, len(src.Planes[i+1]), quarter)
			}
			copy(plane, src.Planes[i+1][:quarter])
			continue
		}
		if err := copyRows(plane, src.Planes[i+1], cw, h/2, stride(src, i+1, cw)); err != nil {
			return fmt.Errorf("chroma %d: %w", i+1, err)
		}
		clear(plane[cw*(h/2):])
	}
	return nil
}

// copyPlanarAudio appends each channel plane with a positive length.
// Channels with no data contribute nothing; there is no padding.
func copyPlanarAudio(dst *media.OutputFrame, src *media.NativeBuffer) error {
	total := 0
	for i := 0; i < src.Channels && i < len(src.Linesize); i++ {
		if n := src.Linesize[i]; n > 0 {
			if i >= len(src.Planes) || len(src.Planes[i]) < n {
				return fmt.Errorf("channel %d: %w", i, ErrShortPlane)
			}
			total += n
		}
	}

	out := grow(dst, total)
	cursor := 0
	for i := 0; i < src.Channels && i < len(src.Linesize); i++ {
		n := src.Linesize[i]
		if n <= 0 {
			continue
		}
		copy(out[cursor:cursor+n], src.Planes[i][:n])
		cursor += n
	}
	return nil
}

// copyRows copies h rows of w bytes from a plane with the given stride.
func copyRows(out, plane []byte, w, h, stride int) error {
	if h == 0 || w == 0 {
		return nil
	}
	if need := (h-1)*stride + w; len(plane) < need {
		return fmt.Errorf("%w: have %d, need %d", ErrShortPlane, len(plane), need)
	}
	if stride == w {
		copy(out, plane[:w*h])
		return nil
	}
	for row := 0; row < h; row++ {
		copy(out[row*w:(row+1)*w], plane[row*stride:row*stride+w])
	}
	return nil
}

// stride returns the recorded line size of plane i, or fallback when the
// engine left it unset.
func stride(src *media.NativeBuffer, i, fallback int) int {
	if i < len(src.Linesize) && src.Linesize[i] >= fallback && src.Linesize[i] > 0 {
		return src.Linesize[i]
	}
	return fallback
}

// grow sizes dst.Data to n bytes and records the size.
func grow(dst *media.OutputFrame, n int) []byte {
	if cap(dst.Data) < n {
		dst.Data = make([]byte, n)
	}
	dst.Data = dst.Data[:n]
	dst.Size = n
	return dst.Data
}
