package main

import (
	"context"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/objectfs/imageop/internal/bitmap"
	"github.com/objectfs/imageop/internal/config"
	"github.com/objectfs/imageop/internal/imageop"
	"github.com/objectfs/imageop/internal/logging"
	"github.com/objectfs/imageop/internal/metrics"
	"github.com/objectfs/imageop/internal/session"
)

// env is everything a command needs, torn down by lifecycle.
type env struct {
	cfg       *config.Configuration
	store     *session.Store
	cache     *imageop.Cache
	metrics   *metrics.Collector
	lifecycle *session.Lifecycle
}

// loadConfig layers defaults, the --config file, IMAGEOP_* variables and
// explicit flags, in that order.
func loadConfig(cmd *cli.Command) (*config.Configuration, error) {
	cfg := config.NewDefault()
	if path := cmd.String("config"); path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if cmd.IsSet("log-level") {
		cfg.Global.LogLevel = cmd.String("log-level")
	}
	if cmd.IsSet("log-format") {
		cfg.Global.LogFormat = cmd.String("log-format")
	}
	if cmd.IsSet("scratch-root") {
		cfg.Session.ScratchRoot = cmd.String("scratch-root")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func sessionConfig(c config.SessionConfig) session.Config {
	return session.Config{
		Root:       c.ScratchRoot,
		Prefix:     c.Prefix,
		LockSuffix: c.LockSuffix,
		Reclaim: session.ReclaimConfig{
			InitialDelay: c.Reclaim.InitialDelay,
			MaxDelay:     c.Reclaim.MaxDelay,
			Deadline:     c.Reclaim.Deadline,
		},
	}
}

func cacheConfig(c config.CacheConfig) (imageop.Config, error) {
	retain, err := c.RetainBytes()
	if err != nil {
		return imageop.Config{}, err
	}
	return imageop.Config{
		TileWidth:     c.TileWidth,
		TileHeight:    c.TileHeight,
		Workers:       c.Workers,
		Interpolation: c.Interpolation,
		RetainBytes:   int64(retain),
	}, nil
}

func setup(ctx context.Context, cmd *cli.Command) (*env, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := logging.Init(logging.Config{Level: cfg.Global.LogLevel, Format: cfg.Global.LogFormat}); err != nil {
		return nil, err
	}

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   cmd.Bool("metrics") && cfg.Monitoring.Metrics.Enabled,
		Port:      cfg.Global.MetricsPort,
		Namespace: cfg.Monitoring.Metrics.Namespace,
		Runtime:   true,
	})
	if err != nil {
		return nil, err
	}

	store, err := session.NewStore(sessionConfig(cfg.Session), session.WithRecorder(collector))
	if err != nil {
		return nil, err
	}

	cc, err := cacheConfig(cfg.Cache)
	if err != nil {
		return nil, err
	}
	threshold, err := cfg.Cache.DiskThresholdBytes()
	if err != nil {
		return nil, err
	}
	cache, err := imageop.New(cc,
		imageop.WithAllocator(&bitmap.MappedAllocator{Files: store, Threshold: int64(threshold)}),
		imageop.WithRecorder(collector),
	)
	if err != nil {
		_ = store.Shutdown(ctx, nil)
		return nil, err
	}

	lc := session.NewLifecycle(store, cache, log.Log)
	lc.OnFinalize("metrics", collector.Stop)
	if err := collector.Start(ctx); err != nil {
		_ = lc.Finalize(ctx)
		return nil, err
	}

	return &env{cfg: cfg, store: store, cache: cache, metrics: collector, lifecycle: lc}, nil
}

// withEnv builds the environment, runs fn and always finalizes. A signal
// cancels ctx, so teardown gets a context of its own.
func withEnv(fn func(context.Context, *cli.Command, *env) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		e, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		runErr := fn(ctx, cmd, e)

		// reclaim failures are left to the next sweep
		if err := e.lifecycle.Finalize(context.WithoutCancel(ctx)); err != nil {
			log.WithError(err).Warn("teardown incomplete")
		}
		return runErr
	}
}
