//go:build ffmpeg

package main

import (
	"context"
	"log/slog"

	"github.com/zsiec/framepump/internal/config"
	"github.com/zsiec/framepump/internal/engine"
	"github.com/zsiec/framepump/internal/engine/ffmpeg"
)

func init() {
	engines[config.EngineFFmpeg] = func(_ context.Context, _ config.Input, log *slog.Logger) engine.Engine {
		return ffmpeg.New(ffmpeg.WithLogger(log))
	}
}
