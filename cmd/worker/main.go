package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mlejeune/papierflow/internal/bootstrap"
	"github.com/mlejeune/papierflow/internal/config"
	"github.com/mlejeune/papierflow/internal/core/domain"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, "worker")
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	metricsServer := &http.Server{
		Addr:    ":" + cfg.WorkerMetricsPort,
		Handler: app.WorkerMetrics.Handler(),
	}
	go func() {
		app.Logger.Info("worker_metrics_listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.Logger.Error("metrics_server_error", "error", err)
		}
	}()

	errs := make(chan error, 2)

	go func() {
		app.Logger.Info("worker_subscribed", "subject", cfg.NATSSubmitSubject)
		errs <- app.Queue.SubscribeBatchSubmitted(ctx, func(handlerCtx context.Context, batchID string) error {
			runCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Minute)
			defer cancel()
			return app.Orchestrator.Run(runCtx, batchID)
		})
	}()

	go func() {
		app.Logger.Info("control_subscribed", "subject", cfg.NATSControlSubject)
		errs <- app.Queue.SubscribeControl(ctx, func(handlerCtx context.Context, cmd domain.ControlCommand) domain.ControlReply {
			return app.Orchestrator.HandleControl(handlerCtx, cmd)
		})
	}()

	if err := <-errs; err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}
