// Command docflowd runs the document conversion service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/jdziat/docflow/pkg/api"
	"github.com/jdziat/docflow/pkg/cache"
	"github.com/jdziat/docflow/pkg/config"
	"github.com/jdziat/docflow/pkg/engine"
	"github.com/jdziat/docflow/pkg/maintenance"
	"github.com/jdziat/docflow/pkg/queue"
	"github.com/jdziat/docflow/pkg/schedule"
	"github.com/jdziat/docflow/pkg/service"
	"github.com/jdziat/docflow/pkg/stats"
	"github.com/jdziat/docflow/pkg/storage"
)

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("docflowd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	sched, err := cfg.Schedule()
	if err != nil {
		return err
	}
	for _, dir := range []string{cfg.UploadDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var poolOpts []storage.PoolOption
	if cfg.DBPool != "" {
		pool, err := storage.PoolProfile(cfg.DBPool)
		if err != nil {
			return err
		}
		poolOpts = append(poolOpts, storage.WithPoolConfig(pool))
	}
	store, err := storage.Open(cfg.DBDriver, cfg.DBDSN, poolOpts...)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	eng := engine.NewCommandEngine(cfg.EngineCommand,
		engine.WithArgs(cfg.EngineArgs...),
		engine.WithLogger(logger))

	q := queue.New(eng, store,
		queue.Capacity(cfg.Concurrency),
		queue.Timeout(cfg.JobTimeout),
		queue.WithAbandonGrace(cfg.AbandonGrace),
		queue.WithDrainTimeout(cfg.DrainTimeout),
		queue.WithLogger(logger))

	var wg sync.WaitGroup
	background := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	svcOpts := []service.Option{
		service.WithUploadDir(cfg.UploadDir),
		service.WithOutputDir(cfg.OutputDir),
		service.WithLogger(logger),
	}

	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return err
		}
		defer client.Close()
		mirror := cache.NewMirror(client, cfg.MirrorTTL, logger)
		background(func() { mirror.Follow(ctx, q) })
		svcOpts = append(svcOpts, service.WithMirror(mirror))
		logger.Info("status mirror enabled", "redis_addr", cfg.RedisAddr)
	}

	if cfg.StatsEnabled {
		st := stats.NewGormStorage(store.DB())
		if err := st.MigrateStats(ctx); err != nil {
			return err
		}
		collector := stats.NewCollector(q, st,
			stats.WithRetention(cfg.StatsRetention),
			stats.WithLogger(logger))
		background(func() { collector.Start(ctx) })
		collector.WaitReady()
		svcOpts = append(svcOpts, service.WithStats(st))
	}

	svc := service.New(q, store, store, svcOpts...)

	janitor := maintenance.New(maintenance.Config{
		HistoryRetention:  cfg.HistoryRetention,
		QueueRecordTTL:    cfg.QueueRecordTTL,
		ArtifactRetention: cfg.ArtifactRetention,
		Schedule:          sched,
	}, store, q, svc, logger)
	scheduler := schedule.NewScheduler(time.Second, logger)
	janitor.Register(scheduler)
	background(func() { _ = scheduler.Run(ctx) })

	queueDone := make(chan error, 1)
	go func() { queueDone <- q.Start(ctx) }()

	srv := api.New(svc,
		api.WithLogger(logger),
		api.WithUploadRate(rate.Limit(cfg.UploadRate), cfg.UploadBurst),
		api.WithAllowOrigins(cfg.AllowOrigins))

	listenErr := make(chan error, 1)
	go func() { listenErr <- srv.Listen(cfg.HTTPAddr) }()

	logger.Info("docflowd started",
		"addr", cfg.HTTPAddr,
		"capacity", q.Capacity(),
		"db_driver", cfg.DBDriver,
		"engine", cfg.EngineCommand)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-listenErr:
		stop()
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}

	qerr := <-queueDone
	wg.Wait()

	if errors.Is(qerr, context.DeadlineExceeded) {
		logger.Warn("queue drain timed out; processing jobs were cancelled")
		qerr = nil
	}
	return errors.Join(serveErr, qerr)
}
