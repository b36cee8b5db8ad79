package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"mercator-hq/ganymede/pkg/cache"
	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/limits"
	"mercator-hq/ganymede/pkg/limits/session"
	"mercator-hq/ganymede/pkg/storage"
)

var runFlags struct {
	logLevel string
	watch    bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the Ganymede admission core",
	Long: `Start the Ganymede admission core with the specified configuration.

Examples:
  # Start with default config
  ganymede run

  # Start with custom config
  ganymede run --config /etc/ganymede/config.yaml

  # Reload limits configuration on file change
  ganymede run --watch`,
	RunE: runCore,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.watch, "watch", false, "reload configuration on file change")
}

func runCore(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.LogLevel = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.LogLevel = "debug"
	}

	logger := newLogger(cfg.Telemetry)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := cache.NewStore(cache.Config{
		SweepInterval: cfg.Cache.SweepInterval,
		Logger:        logger,
	})
	defer store.Close()

	backend, err := newBackend(cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening storage backend: %w", err)
	}
	defer backend.Close()

	tracker := session.NewTracker(store, session.CacheBindings{Store: store}, logger)
	service := limits.NewService(limits.ServiceConfig{
		Store:    store,
		Repo:     backend,
		Sessions: tracker,
		Logger:   logger,
	})

	// The embedding proxy layer owns the service handle. Running
	// standalone still drives one admission round-trip so a broken
	// cache or database is logged at boot rather than at first
	// request.
	if _, err := service.CheckUserRPM(ctx, "boot-probe", cfg.Limits.UserRPM); err != nil {
		return fmt.Errorf("admission self-check: %w", err)
	}

	retention := storage.NewRetentionScheduler(backend, storage.RetentionConfig{
		RetentionDays: cfg.Storage.RetentionDays,
		PruneSchedule: cfg.Storage.PruneSchedule,
	}, logger)
	if err := retention.Start(ctx); err != nil {
		return fmt.Errorf("starting retention scheduler: %w", err)
	}
	defer retention.Stop()

	if cfg.Telemetry.MetricsEnabled {
		go serveMetrics(ctx, cfg.Telemetry.MetricsAddress, logger)
	}

	if runFlags.watch {
		watcher, err := config.NewWatcher(config.WatcherConfig{Path: cfgFile, Logger: logger})
		if err != nil {
			return fmt.Errorf("creating config watcher: %w", err)
		}
		go watcher.Watch(ctx, func(next *config.Config) {
			logger.Info("limits configuration updated",
				"session_limit", next.Limits.SessionLimit,
				"user_rpm", next.Limits.UserRPM)
		})
	}

	logger.Info("ganymede started",
		"storage_backend", cfg.Storage.Backend,
		"metrics", cfg.Telemetry.MetricsEnabled)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func newBackend(cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemoryBackend(), nil
	default:
		return storage.NewSQLiteBackendWithConfig(storage.SQLiteBackendConfig{
			DBPath:             cfg.SQLitePath,
			CheckpointInterval: cfg.CheckpointInterval,
		})
	}
}

func newLogger(cfg config.TelemetryConfig) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	logger.Info("metrics endpoint listening", "address", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics endpoint failed", "error", err)
	}
}
