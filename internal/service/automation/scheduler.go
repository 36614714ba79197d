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
)

// FiringSummary describes one rule firing.
type FiringSummary struct {
	RuleID     uuid.UUID `json:"rule_id"`
	BatchID    uuid.UUID `json:"batch_id"`
	Recipients int       `json:"recipients"`
	Sent       int       `json:"sent"`
	Failed     int       `json:"failed"`
	Enqueued   int       `json:"enqueued"`
}

// Scheduler sends a firing right away or queues it for later, depending on the rule delay.
type Scheduler struct {
	queue       QueueStore
	records     SendRecordStore
	batches     BatchStore
	sender      Sender
	stats       *Stats
	logger      *zap.Logger
	now         Clock
	concurrency int
}

func NewScheduler(
	queue QueueStore,
	records SendRecordStore,
	batches BatchStore,
	sender Sender,
	stats *Stats,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		queue:       queue,
		records:     records,
		batches:     batches,
		sender:      sender,
		stats:       stats,
		logger:      logger,
		now:         systemClock,
		concurrency: defaultSendConcurrency,
	}
}

// WithClock sets the time source.
func (s *Scheduler) WithClock(now Clock) *Scheduler {
	s.now = now
	return s
}

// WithConcurrency caps in-flight provider calls per firing.
func (s *Scheduler) WithConcurrency(n int) *Scheduler {
	if n > 0 {
		s.concurrency = n
	}
	return s
}

// Fire dispatches or enqueues one message per recipient, then records the firing once.
// Per-recipient failures are counted in the summary; only storage failures that
// prevent the firing from being recorded are returned as errors.
func (s *Scheduler) Fire(
	ctx context.Context,
	rule model.AutomationRule,
	event model.DomainEvent,
	recipients []model.Contact,
	configs *providerConfigs,
) (FiringSummary, error) {
	now := s.now()
	summary := FiringSummary{RuleID: rule.ID, Recipients: len(recipients)}
	log := logger.WithTrace(ctx, s.logger).With(
		zap.String("rule_id", rule.ID.String()),
		zap.String("organization_id", rule.OrganizationID.String()),
	)

	batch := newFiringBatch(rule, now)
	if err := s.batches.CreateBatch(ctx, batch); err != nil {
		return summary, fmt.Errorf("failed to create batch for rule %s: %w", rule.ID, err)
	}
	summary.BatchID = batch.ID
	log = log.With(zap.String("batch_id", batch.ID.String()))

	msgs := make([]model.OutboundMessage, len(recipients))
	for i, c := range recipients {
		msgs[i] = model.OutboundMessage{
			TemplateID: rule.TemplateID,
			Email:      c.Email,
			Name:       c.Name,
			Variables:  BuildMergeVariables(event.Record, c, now),
			Tags:       []string{batch.Tag},
		}
	}

	if rule.Delay > 0 {
		items := make([]model.QueueItem, len(msgs))
		for i, msg := range msgs {
			items[i] = model.QueueItem{
				ID:             uuid.New(),
				AutomationID:   rule.ID,
				BatchID:        batch.ID,
				OrganizationID: rule.OrganizationID,
				RecipientEmail: msg.Email,
				RecipientName:  msg.Name,
				MergeVariables: msg.Variables,
				TemplateID:     msg.TemplateID,
				ScheduledFor:   now.Add(rule.Delay),
				Status:         model.QueueStatusPending,
				CreatedAt:      now,
			}
		}
		if err := s.queue.Enqueue(ctx, items); err != nil {
			return summary, fmt.Errorf("failed to enqueue sends for rule %s: %w", rule.ID, err)
		}
		summary.Enqueued = len(items)
		log.Info("Queued delayed sends",
			zap.Int("count", len(items)),
			zap.Time("scheduled_for", now.Add(rule.Delay)),
		)
	} else {
		var outcomes []Outcome
		cfg, err := configs.get(ctx, rule.OrganizationID)
		if err != nil {
			log.Warn("Provider config unavailable, failing immediate sends", zap.Error(err))
			outcomes = failAll(msgs, fmt.Errorf("%w: %v", ErrProviderNotSet, err))
		} else {
			outcomes = sendAll(ctx, s.sender, cfg, msgs, s.concurrency)
		}

		for _, o := range outcomes {
			recordOutcome(ctx, s.records, log, batch.ID, o, now, "immediate")
			if o.OK() {
				summary.Sent++
			} else {
				summary.Failed++
			}
		}
	}

	if err := s.stats.RecordRuleFired(ctx, rule, now); err != nil {
		log.Error("Failed to record rule firing", zap.Error(err))
	}
	if summary.Sent+summary.Failed > 0 {
		if _, err := s.stats.RefreshBatchCounts(ctx, batch.ID); err != nil {
			log.Error("Failed to refresh batch counts", zap.Error(err))
		}
	}

	log.Info("Rule fired",
		zap.Int("recipients", summary.Recipients),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
		zap.Int("enqueued", summary.Enqueued),
	)
	return summary, nil
}

// newFiringBatch opens the batch that one firing's sends are recorded and reconciled on.
func newFiringBatch(rule model.AutomationRule, at time.Time) model.Batch {
	id := uuid.New()
	ruleID := rule.ID
	return model.Batch{
		ID:             id,
		OrganizationID: rule.OrganizationID,
		AutomationID:   &ruleID,
		Kind:           model.BatchKindAutomation,
		Name:           rule.Name,
		Tag:            model.FiringTag(rule.ID, id),
		CreatedAt:      at,
	}
}

// recordOutcome stores a send result on the batch. Storage errors are logged only.
func recordOutcome(
	ctx context.Context,
	records SendRecordStore,
	log *zap.Logger,
	batchID uuid.UUID,
	o Outcome,
	at time.Time,
	source string,
) {
	rec := model.SendRecord{
		BatchID:           batchID,
		RecipientEmail:    model.NormalizeEmail(o.Email),
		RecipientName:     o.Name,
		ProviderMessageID: o.MessageID,
		Status:            model.SendStatusSent,
		UpdatedAt:         at,
	}
	status := "success"
	if o.OK() {
		sentAt := at
		rec.SentAt = &sentAt
	} else {
		status = "failed"
		rec.Status = model.SendStatusFailed
		rec.ErrorMessage = o.Err.Error()
		log.Warn("Send failed",
			zap.String("recipient", o.Email),
			zap.String("source", source),
			zap.Error(o.Err),
		)
	}
	metrics.IncrementSend(source, status)

	if err := records.RecordDispatch(ctx, rec); err != nil {
		log.Error("Failed to record dispatch",
			zap.String("recipient", o.Email),
			zap.Error(err),
		)
	}
}
