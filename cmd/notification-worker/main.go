package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/academic360/notification-worker/internal/api"
	"github.com/academic360/notification-worker/internal/config"
	"github.com/academic360/notification-worker/internal/db"
	"github.com/academic360/notification-worker/internal/metrics"
	"github.com/academic360/notification-worker/internal/repository"
	"github.com/academic360/notification-worker/internal/service"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "notification-worker",
		Short:         "Email notification delivery worker",
		Long:          "Drains the EMAIL notification queue: renders, routes and sends each job, with bounded retries.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runWorker,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Poll the queue until SIGINT/SIGTERM (default)",
		RunE:  runWorker,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "once",
		Short: "Process a single batch and exit",
		RunE:  runOnce,
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations from MIGRATIONS_DIR",
		RunE:  runMigrate,
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runWorker starts the poller and the ops HTTP server, then blocks until a
// shutdown signal arrives.
func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ---- database ----
	sqlDB, err := db.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer sqlDB.Close()

	if cfg.RunMigrations {
		if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}

	// ---- core dependencies ----
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	store := repository.NewPgStore(sqlDB)

	sink, closeSink, err := buildSink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	poller, err := buildPoller(cfg, store, sink, m, logger)
	if err != nil {
		return err
	}

	// ---- HTTP server ----
	svc := service.NewReportService(store, cfg.Mode, logger)
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: api.NewRouter(svc, sqlDB, reg, logger),
	}
	go func() {
		logger.Info("ops server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", zap.Error(err))
			stop()
		}
	}()

	// ---- poll loop ----
	done := make(chan struct{})
	go func() {
		defer close(done)
		poller.Run(ctx)
	}()

	logger.Info("notification worker running",
		zap.String("mode", string(cfg.Mode)),
		zap.String("transport", cfg.MailTransport),
	)
	<-ctx.Done()
	logger.Info("shutdown signal received")

	// 1. Stop accepting ops requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown error", zap.Error(err))
	}

	// 2. Wait for the in-flight job to observe cancellation.
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("poller did not stop before shutdown timeout")
	}

	logger.Info("notification worker stopped cleanly")
	return nil
}

// runOnce processes one batch and reports the result. Useful from cron or
// when draining a backlog by hand.
func runOnce(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sqlDB, err := db.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer sqlDB.Close()

	sink, closeSink, err := buildSink(cfg, logger)
	if err != nil {
		return err
	}
	defer closeSink()

	m := metrics.New(prometheus.NewRegistry())
	poller, err := buildPoller(cfg, repository.NewPgStore(sqlDB), sink, m, logger)
	if err != nil {
		return err
	}

	res := poller.ProcessBatch(ctx)
	fmt.Fprintf(cmd.OutOrStdout(), "fetched=%d sent=%d retried=%d failed=%d skipped=%d aborted=%d\n",
		res.Fetched, res.Sent, res.Retried, res.Failed, res.Skipped, res.Aborted)
	return nil
}

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations applied", zap.String("dir", cfg.MigrationsDir))
	return nil
}

func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
