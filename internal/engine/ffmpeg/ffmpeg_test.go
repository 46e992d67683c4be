//go:build ffmpeg

package ffmpeg

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/zsiec/framepump/internal/decoder"
	"github.com/zsiec/framepump/internal/engine"
	"github.com/zsiec/framepump/internal/media"
)

// writeY4M writes a raw 8x8 4:2:0 clip FFmpeg can demux without codecs
// beyond rawvideo.
func writeY4M(t *testing.T, frames int) string {
	t.Helper()
	var b bytes.Buffer
	b.WriteString("YUV4MPEG2 W8 H8 F25:1 Ip A1:1 C420\n")
	for n := 0; n < frames; n++ {
		b.WriteString("FRAME\n")
		b.Write(bytes.Repeat([]byte{byte(16 + n)}, 64))
		b.Write(bytes.Repeat([]byte{128}, 32))
	}
	path := filepath.Join(t.TempDir(), "clip.y4m")
	if err := os.WriteFile(path, b.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestGrabRawVideo(t *testing.T) {
	e := New()
	if err := e.Prepare(writeY4M(t, 3)); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer e.Close()

	if e.Width() != 8 || e.Height() != 8 {
		t.Errorf("dimensions: got %dx%d, want 8x8", e.Width(), e.Height())
	}
	if e.Channels() != 0 || e.SampleRate() != 0 {
		t.Errorf("video-only input reported audio %d ch @ %d Hz", e.Channels(), e.SampleRate())
	}

	buf := media.NewNativeBuffer()
	for n := 0; n < 3; n++ {
		buf.Reset()
		if mt := e.Grab(buf); mt != media.Video {
			t.Fatalf("frame %d: got %s, want video", n, mt)
		}
		if buf.PixelFormat != media.PixelFormatI420 {
			t.Fatalf("frame %d: got %s, want i420", n, buf.PixelFormat)
		}
		if buf.Planes[0][0] != byte(16+n) {
			t.Errorf("frame %d: luma %d, want %d", n, buf.Planes[0][0], 16+n)
		}
	}
	if mt := e.Grab(buf); mt != media.EndOfStream {
		t.Errorf("after last frame: got %s, want eos", mt)
	}
}

func TestPrepareMissingInput(t *testing.T) {
	e := New()
	if err := e.Prepare(filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Fatal("Prepare should fail for a missing input")
	}
	if mt := e.Grab(media.NewNativeBuffer()); mt != media.Unknown {
		t.Errorf("Grab on unprepared engine: got %s, want unknown", mt)
	}
}

func TestPrepareNoTracks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.ffmetadata")
	if err := os.WriteFile(path, []byte(";FFMETADATA1\ntitle=none\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := New()
	err := e.Prepare(path)
	if err == nil {
		t.Fatal("Prepare should fail without decodable streams")
	}
	if !errors.Is(err, engine.ErrNoTracks) {
		t.Logf("Prepare failed before stream selection: %v", err)
	}
}

func TestDecoderOverFFmpeg(t *testing.T) {
	d := decoder.New(New(), decoder.WithCapacity(2))
	if err := d.Prepare(writeY4M(t, 4)); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	defer d.Close()

	var out media.OutputFrame
	for n := 0; n < 4; n++ {
		mt, err := d.Grab(&out)
		if err != nil || mt != media.Video {
			t.Fatalf("Grab %d: got %s, %v", n, mt, err)
		}
		if out.Size != media.I420Size(8, 8) {
			t.Errorf("Grab %d: size %d, want %d", n, out.Size, media.I420Size(8, 8))
		}
	}
	if mt, _ := d.Grab(&out); mt != media.EndOfStream {
		t.Errorf("final Grab: got %s, want eos", mt)
	}
}
