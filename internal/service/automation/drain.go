package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"automation-engine/internal/model"
	"automation-engine/pkg/logger"
	"automation-engine/pkg/metrics"
	"automation-engine/pkg/trace"
)

// DrainResult counts what one tick did.
type DrainResult struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

// Drainer claims due queue items and sends them. Failed sends are not retried.
type Drainer struct {
	queue       QueueStore
	records     SendRecordStore
	configs     ProviderConfigStore
	sender      Sender
	stats       *Stats
	logger      *zap.Logger
	now         Clock
	interval    time.Duration
	batchSize   int
	concurrency int
}

func NewDrainer(
	queue QueueStore,
	records SendRecordStore,
	configs ProviderConfigStore,
	sender Sender,
	stats *Stats,
	logger *zap.Logger,
) *Drainer {
	return &Drainer{
		queue:       queue,
		records:     records,
		configs:     configs,
		sender:      sender,
		stats:       stats,
		logger:      logger,
		now:         systemClock,
		interval:    time.Minute,
		batchSize:   100,
		concurrency: defaultSendConcurrency,
	}
}

func (d *Drainer) WithClock(now Clock) *Drainer {
	d.now = now
	return d
}

// WithInterval sets the Run tick interval.
func (d *Drainer) WithInterval(interval time.Duration) *Drainer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// WithBatchSize caps how many items a tick claims.
func (d *Drainer) WithBatchSize(n int) *Drainer {
	if n > 0 {
		d.batchSize = n
	}
	return d
}

func (d *Drainer) WithConcurrency(n int) *Drainer {
	if n > 0 {
		d.concurrency = n
	}
	return d
}

// Run ticks until ctx is cancelled.
func (d *Drainer) Run(ctx context.Context) {
	d.logger.Info("Starting queue drain worker",
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Queue drain worker stopped")
			return
		case <-ticker.C:
			tickCtx := trace.WithContext(ctx, trace.GenerateTraceID())
			if _, err := d.Tick(tickCtx); err != nil {
				logger.WithTrace(tickCtx, d.logger).Error("Queue drain tick failed", zap.Error(err))
			}
		}
	}
}

// Tick claims every item due at now and dispatches it exactly once.
// Only a failed claim is returned as an error; per-item failures are counted.
func (d *Drainer) Tick(ctx context.Context) (DrainResult, error) {
	now := d.now()
	log := logger.WithTrace(ctx, d.logger)

	items, err := d.queue.ClaimDue(ctx, now, d.batchSize)
	if err != nil {
		return DrainResult{}, fmt.Errorf("failed to claim due queue items: %w", err)
	}
	result := DrainResult{Claimed: len(items)}
	if len(items) == 0 {
		return result, nil
	}
	metrics.AddQueueItemsClaimed(len(items))
	log.Debug("Claimed due queue items", zap.Int("count", len(items)))

	byOrg := make(map[uuid.UUID][]model.QueueItem)
	var orgs []uuid.UUID
	for _, item := range items {
		if _, ok := byOrg[item.OrganizationID]; !ok {
			orgs = append(orgs, item.OrganizationID)
		}
		byOrg[item.OrganizationID] = append(byOrg[item.OrganizationID], item)
	}

	configs := newProviderConfigs(d.configs)
	touched := make(map[uuid.UUID]struct{})
	for _, orgID := range orgs {
		orgItems := byOrg[orgID]
		msgs := make([]model.OutboundMessage, len(orgItems))
		for i, item := range orgItems {
			msgs[i] = model.OutboundMessage{
				TemplateID: item.TemplateID,
				Email:      item.RecipientEmail,
				Name:       item.RecipientName,
				Variables:  item.MergeVariables,
				Tags:       []string{model.FiringTag(item.AutomationID, item.BatchID)},
			}
		}

		var outcomes []Outcome
		cfg, err := configs.get(ctx, orgID)
		if err != nil {
			log.Warn("Provider config unavailable, failing queued sends",
				zap.String("organization_id", orgID.String()),
				zap.Error(err),
			)
			outcomes = failAll(msgs, fmt.Errorf("%w: %v", ErrProviderNotSet, err))
		} else {
			outcomes = sendAll(ctx, d.sender, cfg, msgs, d.concurrency)
		}

		doneAt := d.now()
		for i, o := range outcomes {
			item := orgItems[i]
			if o.OK() {
				result.Sent++
				if err := d.queue.MarkSent(ctx, item.ID, doneAt); err != nil {
					log.Error("Failed to mark queue item sent", zap.String("item_id", item.ID.String()), zap.Error(err))
				}
			} else {
				result.Failed++
				if err := d.queue.MarkFailed(ctx, item.ID, o.Err.Error(), doneAt); err != nil {
					log.Error("Failed to mark queue item failed", zap.String("item_id", item.ID.String()), zap.Error(err))
				}
			}
			itemLog := log.With(zap.String("rule_id", item.AutomationID.String()), zap.String("batch_id", item.BatchID.String()))
			recordOutcome(ctx, d.records, itemLog, item.BatchID, o, doneAt, "queue")
			touched[item.BatchID] = struct{}{}
		}
	}

	for batchID := range touched {
		if _, err := d.stats.RefreshBatchCounts(ctx, batchID); err != nil {
			log.Error("Failed to refresh batch counts", zap.String("batch_id", batchID.String()), zap.Error(err))
		}
	}

	log.Info("Queue drain tick finished",
		zap.Int("claimed", result.Claimed),
		zap.Int("sent", result.Sent),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}
