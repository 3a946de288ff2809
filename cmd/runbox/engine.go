package main

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/runbox/config"
	"github.com/isdmx/runbox/logger"
	"github.com/isdmx/runbox/pipeline"
	"github.com/isdmx/runbox/runner"
	"github.com/isdmx/runbox/sandbox"
	"github.com/isdmx/runbox/session"
)

const shutdownGrace = 10 * time.Second

// engine bundles the wired components a subcommand works with.
type engine struct {
	Config   *config.Config
	Logger   *zap.Logger
	Runtime  sandbox.Runtime
	Runner   *runner.Runner
	Sessions *session.Manager
}

func newRuntime(log *zap.Logger, cfg *config.Config) (sandbox.Runtime, error) {
	return sandbox.NewRuntime(log, sandbox.Config{
		Endpoint:      cfg.Sandbox.Endpoint,
		MaxConcurrent: cfg.Sandbox.MaxConcurrent,
	})
}

// buildEngine assembles the engine with fx and starts it. The returned
// cleanup tears everything down; callers must invoke it on every path.
func buildEngine(ctx context.Context) (*engine, func(), error) {
	var eng engine
	app := fx.New(
		fx.Provide(
			config.New,
			logger.NewFromConfig,
			newRuntime,
			pipeline.New,
			config.LoadProfiles,
			runner.NewFromConfig,
			session.NewFromConfig,
		),
		fx.Populate(
			&eng.Config,
			&eng.Logger,
			&eng.Runtime,
			&eng.Runner,
			&eng.Sessions,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)
	if err := app.Start(ctx); err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		eng.Sessions.Close()
		if err := eng.Runtime.Close(); err != nil {
			eng.Logger.Warn("runtime close failed", zap.Error(err))
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			eng.Logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}
	return &eng, cleanup, nil
}
