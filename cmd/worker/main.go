package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/paperless-ai-queue/internal/bootstrap"
	"github.com/kirillkom/paperless-ai-queue/internal/config"
	"github.com/kirillkom/paperless-ai-queue/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.SchedulerEnabled {
		registry, err := app.StartScheduler(gctx)
		if err != nil {
			logger.Error("scheduler_start_failed", "error", err)
			os.Exit(1)
		}
		defer registry.Stop()

		g.Go(func() error {
			return app.Bus.SubscribeInstanceChanged(gctx, func(handlerCtx context.Context, instanceID string) error {
				return app.AutomationUC.SyncSchedule(handlerCtx, instanceID)
			})
		})
	}

	g.Go(func() error {
		return app.Bus.SubscribeQueueWakeup(gctx, func(_ context.Context, _ string) error {
			app.Worker.Wake()
			return nil
		})
	})

	g.Go(func() error {
		return app.Worker.Run(gctx)
	})

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           app.WorkerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("worker_metrics_listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker_stopped", "error", err)
		return
	}
	logger.Info("worker_stopped")
}
