package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohammed-shakir/tileloader/internal/cache"
	"github.com/mohammed-shakir/tileloader/internal/cache/memstore"
	"github.com/mohammed-shakir/tileloader/internal/cache/redisstore"
	"github.com/mohammed-shakir/tileloader/internal/core/config"
	"github.com/mohammed-shakir/tileloader/internal/core/health"
	"github.com/mohammed-shakir/tileloader/internal/core/server"
	"github.com/mohammed-shakir/tileloader/internal/invalidation"
	"github.com/mohammed-shakir/tileloader/internal/logger"
	"github.com/mohammed-shakir/tileloader/internal/metrics"
	"github.com/mohammed-shakir/tileloader/internal/scheduler"
	"github.com/mohammed-shakir/tileloader/internal/tilesource"
	"github.com/mohammed-shakir/tileloader/internal/worker"
	"github.com/mohammed-shakir/tileloader/pkg/invalidation/kafka"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

// pipeline is one tile source with its cache and workers.
type pipeline struct {
	src  *tilesource.Source
	mgr  *scheduler.Manager
	pool *worker.Pool
	view *consumer
}

func run() int {
	lat := flag.Float64("lat", 0, "viewport center latitude (overrides VIEW_LAT)")
	lon := flag.Float64("lon", 0, "viewport center longitude (overrides VIEW_LON)")
	zoom := flag.Int("zoom", -1, "viewport zoom (overrides VIEW_ZOOM)")
	flag.Parse()

	cfg := config.FromEnv()
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "lat":
			cfg.Viewport.Lat = *lat
		case "lon":
			cfg.Viewport.Lon = *lon
		}
	})
	if *zoom >= 0 {
		cfg.Viewport.Zoom = *zoom
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Source:    cfg.Source.Name,
		Component: "tileloader",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)
	slog.SetDefault(appLog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps := server.Deps{
		MetricsPath: cfg.MetricsPath,
		Ready:       map[string]health.CheckFunc{},
		Caches:      map[string]server.TileCache{},
	}
	var reg prometheus.Registerer
	if cfg.MetricsEnabled {
		p := metrics.Init(metrics.Config{
			Enabled: true,
			Path:    cfg.MetricsPath,
			Build: metrics.BuildInfo{
				Version:   firstNonEmpty(os.Getenv("BUILD_VERSION"), Version),
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		deps.Metrics = p.Handler()
		deps.MetricsPath = p.Path()
		reg = p.Registerer()
	}

	store, closeStore, err := openStore(ctx, cfg.Store, deps.Ready)
	if err != nil {
		appLog.Error("store setup failed", "driver", cfg.Store.Driver, "err", err)
		return 1
	}
	defer closeStore()

	tcs, err := cfg.TileSources()
	if err != nil {
		appLog.Error("tile sources", "err", err)
		return 1
	}

	var (
		pipes    []*pipeline
		bindings []invalidation.Binding
	)
	for _, tc := range tcs {
		opts := []tilesource.Option{tilesource.WithLogger(appLog.With("source", tc.Name))}
		if store != nil {
			opts = append(opts, tilesource.WithStore(store))
		}
		src, err := tilesource.New(tc, opts...)
		if err != nil {
			appLog.Error("tile source setup failed", "source", tc.Name, "err", err)
			return 1
		}
		mgr := scheduler.New(cfg.Scheduler,
			scheduler.WithLogger(appLog.With("source", tc.Name)),
			scheduler.WithSource(tc.Name))
		pool := worker.New(mgr, func() (worker.Loader, error) {
			return src.NewLoader()
		}, cfg.Workers, appLog.With("source", tc.Name))

		pipes = append(pipes, &pipeline{src: src, mgr: mgr, pool: pool, view: newConsumer(mgr, appLog)})
		bindings = append(bindings, invalidation.Binding{Source: src, Tiles: mgr})
		deps.Caches[tc.Name] = mgr
	}

	applier := invalidation.NewApplier(bindings, invalidation.WithLogger(appLog))
	runner := kafka.New(cfg.Invalidation, applier, kafka.Options{Logger: appLog, Register: reg})
	if err := runner.Start(ctx); err != nil {
		appLog.Error("invalidation runner failed to start", "err", err)
		return 1
	}
	defer runner.Stop()
	if runner.Enabled() {
		deps.Ready["kafka"] = health.Partitions(runner)
	}

	appLog.Info("starting tileloader",
		"version", Version,
		"addr", cfg.Addr,
		"sources", len(pipes),
		"workers", cfg.Workers,
		"store", cfg.Store.Driver,
		"viewport", fmt.Sprintf("%.4f,%.4f z%d", cfg.Viewport.Lat, cfg.Viewport.Lon, cfg.Viewport.Zoom))

	var wg sync.WaitGroup
	errCh := make(chan error, len(pipes)+1)
	for _, p := range pipes {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := p.pool.Run(ctx); err != nil {
				errCh <- fmt.Errorf("%s workers: %w", p.src.Name(), err)
			}
		}()
		go func() {
			defer wg.Done()
			drive(ctx, cfg.Viewport, cfg.Scheduler.TileSize, p.mgr, p.view)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Run(ctx, cfg.Addr, appLog, server.NewRouter(appLog, deps)); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	code := 0
	select {
	case <-ctx.Done():
	case err := <-errCh:
		appLog.Error("tileloader stopping on error", "err", err)
		code = 1
	}
	stop()
	for _, p := range pipes {
		p.mgr.Close()
	}
	wg.Wait()
	appLog.Info("tileloader stopped")
	return code
}

func openStore(ctx context.Context, sc config.StoreCfg, ready map[string]health.CheckFunc) (cache.Interface, func(), error) {
	switch sc.Driver {
	case config.StoreNone, "":
		return nil, func() {}, nil
	case config.StoreMemory:
		return cache.WithTimeout(memstore.New(sc.Size, sc.TTL), sc.OpTimeout), func() {}, nil
	case config.StoreRedis:
		rc, err := redisstore.New(ctx, sc.RedisAddr)
		if err != nil {
			return nil, nil, err
		}
		ready["redis"] = rc.Ping
		return cache.WithTimeout(rc, sc.OpTimeout), func() { _ = rc.Close() }, nil
	default:
		return nil, nil, errors.New("unknown store driver " + string(sc.Driver))
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
