package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"automation-engine/internal/api"
	"automation-engine/internal/app"
	"automation-engine/internal/config"
	"automation-engine/pkg/db"
	"automation-engine/pkg/logger"
	"automation-engine/pkg/otel"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	tracing := cfg.Tracing
	tracing.ServiceName += "-server"
	shutdownTracing, err := otel.Init(tracing, log)
	if err != nil {
		log.Fatal("Tracing initialization failed", zap.Error(err))
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer pool.Close()

	engine, err := app.NewEngine(cfg, pool, log)
	if err != nil {
		log.Fatal("Engine initialization failed", zap.Error(err))
	}

	handler := api.NewAutomationHandler(engine.Triggers, engine.Reconciler, engine.Drainer, engine.Rules, log)
	router := api.NewRouter(handler, cfg.JWT.Secret, pool)

	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", zap.Error(err))
	}
}
