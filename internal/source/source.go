// Package source opens the byte streams engines decode from: local files,
// standard input, or remote SRT listeners.
package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// dialTimeout bounds how long Open waits for an SRT handshake.
const dialTimeout = 10 * time.Second

// SRTTarget is a parsed srt:// location.
type SRTTarget struct {
	Address  string
	StreamID string
}

// ParseSRT parses srt://host:port[/key][?streamid=...]. Without an explicit
// streamid the path becomes "live/<key>".
func ParseSRT(raw string) (SRTTarget, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return SRTTarget{}, fmt.Errorf("source: parse %q: %w", raw, err)
	}
	if u.Scheme != "srt" {
		return SRTTarget{}, fmt.Errorf("source: %q is not an srt:// URL", raw)
	}
	if u.Host == "" || u.Port() == "" {
		return SRTTarget{}, fmt.Errorf("source: %q needs host:port", raw)
	}
	t := SRTTarget{Address: u.Host, StreamID: u.Query().Get("streamid")}
	if t.StreamID == "" {
		if key := strings.Trim(u.Path, "/"); key != "" {
			t.StreamID = "live/" + key
		}
	}
	return t, nil
}

// IsSRT reports whether path names an SRT source.
func IsSRT(path string) bool {
	return strings.HasPrefix(path, "srt://")
}

// Open returns a reader for path. "-" is standard input, srt:// URLs are
// dialed as an SRT caller, anything else is opened as a file.
func Open(ctx context.Context, path string) (io.ReadCloser, error) {
	switch {
	case path == "-":
		return io.NopCloser(os.Stdin), nil
	case IsSRT(path):
		t, err := ParseSRT(path)
		if err != nil {
			return nil, err
		}
		return dialSRT(ctx, t)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("source: %w", err)
		}
		return f, nil
	}
}

func dialSRT(ctx context.Context, t SRTTarget) (io.ReadCloser, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	if t.StreamID != "" {
		cfg.StreamID = t.StreamID
	}

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(t.Address, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("source: SRT dial %s: %w", t.Address, res.err)
		}
		return res.conn, nil
	case <-timer.C:
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("source: SRT dial %s timed out after %s", t.Address, dialTimeout)
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
