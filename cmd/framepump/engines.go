package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/zsiec/framepump/internal/config"
	"github.com/zsiec/framepump/internal/engine"
	"github.com/zsiec/framepump/internal/engine/opus"
	"github.com/zsiec/framepump/internal/engine/y4m"
)

// engineFactory builds an unprepared engine for one input.
type engineFactory func(ctx context.Context, in config.Input, log *slog.Logger) engine.Engine

var engines = map[config.EngineName]engineFactory{
	config.EngineY4M: func(ctx context.Context, in config.Input, log *slog.Logger) engine.Engine {
		opts := []y4m.Option{y4m.WithContext(ctx), y4m.WithLogger(log)}
		if in.InterleavedChroma {
			opts = append(opts, y4m.WithInterleavedChroma())
		}
		return y4m.New(opts...)
	},
	config.EngineOpus: func(ctx context.Context, _ config.Input, log *slog.Logger) engine.Engine {
		return opus.New(opus.WithContext(ctx), opus.WithLogger(log))
	},
}

func newEngine(ctx context.Context, in config.Input, log *slog.Logger) (engine.Engine, error) {
	f, ok := engines[in.Engine]
	if !ok {
		return nil, fmt.Errorf("engine %q is not available in this build (have %v)", in.Engine, engineNames())
	}
	return f(ctx, in, log), nil
}

func engineNames() []string {
	names := make([]string, 0, len(engines))
	for n := range engines {
		names = append(names, string(n))
	}
	sort.Strings(names)
	return names
}
