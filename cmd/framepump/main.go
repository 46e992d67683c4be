package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/framepump/internal/config"
	"github.com/zsiec/framepump/internal/decoder"
	"github.com/zsiec/framepump/internal/observe"
	"github.com/zsiec/framepump/internal/pipeline"
	"github.com/zsiec/framepump/internal/stream"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	engineName := flag.String("engine", string(config.EngineY4M), "engine for a command-line input")
	key := flag.String("key", "input", "session key for a command-line input")
	nv12 := flag.Bool("nv12", false, "emit interleaved chroma from the y4m engine")
	videoOut := flag.String("video-out", "", "file receiving packed I420 video")
	audioOut := flag.String("audio-out", "", "file receiving packed planar float audio")
	capacity := flag.Int("capacity", 0, "decoded buffers kept in flight per input")
	metricsAddr := flag.String("metrics", "", "address serving /metrics and /api/streams")
	flag.Parse()

	cfg, err := loadConfig(*configPath, config.Input{
		Key:               *key,
		Path:              flag.Arg(0),
		Engine:            config.EngineName(*engineName),
		InterleavedChroma: *nv12,
		VideoOut:          *videoOut,
		AudioOut:          *audioOut,
	}, *capacity, *metricsAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "framepump: %v\n", err)
		os.Exit(2)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel.Level()})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	a := &app{
		cfg:       cfg,
		mgr:       stream.NewManager(nil),
		pipelines: make(map[string]*pipeline.Pipeline),
	}

	slog.Info("framepump starting",
		"version", version,
		"inputs", len(cfg.Inputs),
		"engines", engineNames(),
		"pool_capacity", cfg.PoolCapacity,
		"metrics", cfg.MetricsAddr,
	)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		shutdown, err := observe.InitProvider()
		if err != nil {
			slog.Error("failed to init metrics provider", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				slog.Warn("metrics shutdown failed", "error", err)
			}
		}()

		mux := http.NewServeMux()
		mux.Handle("/metrics", observe.Handler())
		mux.HandleFunc("/api/streams", a.handleStreams)
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

		g.Go(func() error {
			slog.Info("metrics server listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		// The process exits once every input has drained.
		defer cancel()
		return a.runInputs(ctx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("framepump error", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file when given, otherwise builds a
// single-input config from the command line.
func loadConfig(path string, in config.Input, capacity int, metricsAddr string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	if in.Path == "" {
		return nil, errors.New("an input path or -config is required")
	}
	cfg := &config.Config{
		PoolCapacity: capacity,
		MetricsAddr:  metricsAddr,
		Inputs:       []config.Input{in},
	}
	config.ApplyDefaults(cfg)
	config.ApplyEnv(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

type app struct {
	cfg *config.Config
	mgr *stream.Manager

	mu        sync.RWMutex
	pipelines map[string]*pipeline.Pipeline
}

func (a *app) runInputs(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, in := range a.cfg.Inputs {
		g.Go(func() error {
			return a.runInput(ctx, in)
		})
	}
	return g.Wait()
}

func (a *app) runInput(ctx context.Context, in config.Input) (err error) {
	log := slog.With("stream", in.Key)

	if _, created := a.mgr.Create(in.Key, in.Path, string(in.Engine)); !created {
		return fmt.Errorf("input %q: duplicate key", in.Key)
	}
	defer a.teardown(in.Key)

	eng, err := newEngine(ctx, in, log)
	if err != nil {
		return fmt.Errorf("input %q: %w", in.Key, err)
	}

	dec := decoder.New(eng,
		decoder.WithCapacity(a.cfg.PoolCapacity),
		decoder.WithRetryDelay(a.cfg.RetryDelay),
		decoder.WithLogger(log),
	)
	defer func() {
		if cerr := dec.Close(); cerr != nil {
			log.Warn("decoder close failed", "error", cerr)
		}
	}()

	if err := dec.Prepare(in.Path); err != nil {
		return fmt.Errorf("input %q: %w", in.Key, err)
	}

	sink, err := openSink(in)
	if err != nil {
		return fmt.Errorf("input %q: %w", in.Key, err)
	}
	defer func() {
		err = errors.Join(err, sink.Close())
	}()

	p := pipeline.New(in.Key, dec, sink)
	a.mu.Lock()
	a.pipelines[in.Key] = p
	a.mu.Unlock()

	if err := p.Run(ctx); err != nil {
		return err
	}
	s := p.Snapshot()
	log.Info("input finished", "video_frames", s.VideoFrames, "audio_frames", s.AudioFrames,
		"bytes", s.Bytes, "dropped", s.Errors, "uptime_ms", s.UptimeMs)
	return nil
}

func (a *app) teardown(key string) {
	a.mu.Lock()
	delete(a.pipelines, key)
	a.mu.Unlock()
	a.mgr.Remove(key)
}

func openSink(in config.Input) (*pipeline.RawSink, error) {
	sink := &pipeline.RawSink{}
	var err error
	if sink.Video, err = createOutput(in.VideoOut); err != nil {
		return nil, err
	}
	if sink.Audio, err = createOutput(in.AudioOut); err != nil {
		sink.Close()
		return nil, err
	}
	return sink, nil
}

// createOutput returns nil for an empty path so the sink discards.
func createOutput(path string) (io.Writer, error) {
	switch path {
	case "":
		return nil, nil
	case "-":
		// Hide Close so the sink never closes stdout.
		return struct{ io.Writer }{os.Stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}
	return f, nil
}

type streamInfo struct {
	Key       string             `json:"key"`
	Path      string             `json:"path"`
	Engine    string             `json:"engine"`
	StartedAt time.Time          `json:"startedAt"`
	Stats     *pipeline.Snapshot `json:"stats,omitempty"`
}

func (a *app) handleStreams(w http.ResponseWriter, _ *http.Request) {
	sessions := a.mgr.List()
	infos := make([]streamInfo, len(sessions))

	a.mu.RLock()
	for i, s := range sessions {
		infos[i] = streamInfo{Key: s.Key, Path: s.Path, Engine: s.Engine, StartedAt: s.StartedAt}
		if p, ok := a.pipelines[s.Key]; ok {
			snap := p.Snapshot()
			infos[i].Stats = &snap
		}
	}
	a.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(infos); err != nil {
		slog.Warn("encode streams response failed", "error", err)
	}
}
