package app

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"automation-engine/internal/config"
	"automation-engine/internal/provider"
	"automation-engine/internal/repository"
	"automation-engine/internal/service/automation"
	"automation-engine/pkg/outbox"
)

// Engine holds the wired automation services shared by the binaries.
type Engine struct {
	Rules      *repository.RuleRepository
	Outbox     *outbox.Repository
	Trials     *repository.TrialRepository
	Provider   *provider.Client
	Triggers   *automation.TriggerService
	Drainer    *automation.Drainer
	Reconciler *automation.Reconciler
}

func NewEngine(cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) (*Engine, error) {
	key, err := repository.ParseSecretKey(cfg.Settings.EncryptionKey)
	if err != nil {
		return nil, err
	}

	events := outbox.NewRepository(pool)
	rules := repository.NewRuleRepository(pool, events, logger)
	contacts := repository.NewContactRepository(pool)
	queue := repository.NewQueueRepository(pool, logger)
	records := repository.NewSendRecordRepository(pool, logger)
	batches := repository.NewBatchRepository(pool)
	settings := repository.NewSettingsRepository(pool, key)

	client := provider.NewClient(cfg.Provider, logger)
	stats := automation.NewStats(rules, batches, records, logger)

	scheduler := automation.NewScheduler(queue, records, batches, client, stats, logger).
		WithConcurrency(cfg.Dispatch.Concurrency)
	triggers := automation.NewTriggerService(
		automation.NewMatcher(rules, logger),
		automation.NewResolver(contacts, logger),
		scheduler,
		settings,
		logger,
	)
	drainer := automation.NewDrainer(queue, records, settings, client, stats, logger).
		WithInterval(cfg.Dispatch.DrainInterval).
		WithBatchSize(cfg.Dispatch.DrainBatchSize).
		WithConcurrency(cfg.Dispatch.Concurrency)
	reconciler := automation.NewReconciler(batches, records, settings, client, stats, logger).
		WithPaging(cfg.Dispatch.ReconcilePageSize, cfg.Dispatch.ReconcileMaxPages)

	return &Engine{
		Rules:      rules,
		Outbox:     events,
		Trials:     repository.NewTrialRepository(pool),
		Provider:   client,
		Triggers:   triggers,
		Drainer:    drainer,
		Reconciler: reconciler,
	}, nil
}
