package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	httpadapter "github.com/josephwmusso/IntraNest/internal/adapters/http"
	"github.com/josephwmusso/IntraNest/internal/bootstrap"
	"github.com/josephwmusso/IntraNest/internal/config"
	"github.com/josephwmusso/IntraNest/internal/observability/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	logger := logging.NewJSONLogger("api", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, bootstrap.RoleAPI, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	router := httpadapter.NewRouter(cfg, httpadapter.Dependencies{
		Ingestor: app.IngestUC,
		Lister:   app.QueryUC,
		Searcher: app.QueryUC,
		Metrics:  app.HTTPMetrics,
		Health:   app.Health,
	}).Handler()
	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var workers sync.WaitGroup
	if app.Consumer != nil {
		workers.Add(1)
		go func() {
			defer workers.Done()
			logger.Info("workers_started", "backend", cfg.QueueBackend, "concurrency", cfg.WorkerConcurrency)
			if err := app.RunWorkers(ctx); err != nil {
				logger.Error("workers_stopped", "error", err)
			}
		}()
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort, "queue_backend", cfg.QueueBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
	workers.Wait()
	logger.Info("api_stopped")
}
