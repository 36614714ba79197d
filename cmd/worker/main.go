package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	mqcontracts "automation-engine/contracts/mq"
	"automation-engine/internal/api"
	"automation-engine/internal/app"
	"automation-engine/internal/config"
	"automation-engine/internal/mqhandler"
	"automation-engine/internal/service/trial"
	"automation-engine/pkg/db"
	"automation-engine/pkg/logger"
	"automation-engine/pkg/mq"
	"automation-engine/pkg/otel"
	"automation-engine/pkg/outbox"
	redisclient "automation-engine/pkg/redis"
	"automation-engine/pkg/util"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger(cfg.Log.Level)
	defer log.Sync()

	log.Info("Starting automation worker...")

	tracing := cfg.Tracing
	tracing.ServiceName += "-worker"
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

	rdb, err := redisclient.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal("Redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	engine, err := app.NewEngine(cfg, pool, log)
	if err != nil {
		log.Fatal("Engine initialization failed", zap.Error(err))
	}

	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	if err := mq.DeclareDLQExchange(publisher.Channel()); err != nil {
		log.Fatal("Failed to declare DLQ exchange", zap.Error(err))
	}
	if _, err := mq.DeclareDLQQueue(publisher.Channel(), mqcontracts.RoutingKeyAutomationTrigger); err != nil {
		log.Fatal("Failed to declare DLQ queue", zap.Error(err))
	}

	triggerHandler := mqhandler.NewTriggerHandler(
		engine.Triggers,
		util.NewDeduper(rdb, cfg.Dispatch.DedupTTL, log),
		util.NewRetryCounter(rdb, cfg.Dispatch.RetryTTL),
		publisher,
		log,
	)

	consumer, err := mq.NewConsumer(cfg.MQ.URL, mqcontracts.QueueAutomationTrigger, mqcontracts.RoutingKeyAutomationTrigger, cfg.Dispatch.Prefetch, log)
	if err != nil {
		log.Fatal("Failed to init trigger consumer", zap.Error(err))
	}
	defer consumer.Close()
	consumer.SetHandler(triggerHandler.Handle)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := consumer.StartConsuming(ctx); err != nil {
			log.Error("Trigger consumer stopped", zap.Error(err))
			stop()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Drainer.Run(ctx)
	}()

	dispatcher := outbox.NewDispatcher(engine.Outbox, publisher, log).
		WithInterval(cfg.Outbox.Interval).
		WithBatchSize(cfg.Outbox.BatchSize).
		WithMaxRetries(cfg.Outbox.MaxRetries)
	wg.Add(1)
	go func() {
		defer wg.Done()
		dispatcher.Start(ctx)
	}()

	if cfg.Trial.PlatformOrganizationID != "" {
		trials, err := trial.NewScheduler(cfg.Trial, engine.Trials, engine.Triggers, log)
		if err != nil {
			log.Fatal("Failed to init trial scheduler", zap.Error(err))
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			trials.Run(ctx)
		}()
	} else {
		log.Info("Trial scheduler disabled: no platform organization configured")
	}

	healthSrv := &http.Server{
		Addr:              cfg.Dispatch.HealthPort,
		Handler:           api.NewWorkerRouter(pool, publisher).Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("Worker health server listening", zap.String("addr", cfg.Dispatch.HealthPort))
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Worker health server failed", zap.Error(err))
		}
	}()

	log.Info("Worker is ready")
	<-ctx.Done()
	log.Info("Shutting down worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		log.Error("Worker health server shutdown failed", zap.Error(err))
	}
	wg.Wait()
}
