package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"automation-engine/internal/model"
	"automation-engine/pkg/metrics"
)

// Stats keeps rule and batch counters. It holds no state of its own.
type Stats struct {
	rules   RuleStore
	batches BatchStore
	records SendRecordStore
	logger  *zap.Logger
}

func NewStats(rules RuleStore, batches BatchStore, records SendRecordStore, logger *zap.Logger) *Stats {
	return &Stats{rules: rules, batches: batches, records: records, logger: logger}
}

// RecordRuleFired bumps total_triggered and last_triggered_at once per firing.
func (s *Stats) RecordRuleFired(ctx context.Context, rule model.AutomationRule, at time.Time) error {
	mode := "immediate"
	if rule.Delay > 0 {
		mode = "scheduled"
	}
	metrics.IncrementRuleFired(string(rule.TriggerType), mode)

	if err := s.rules.MarkRuleFired(ctx, rule.ID, at); err != nil {
		return fmt.Errorf("failed to mark rule %s fired: %w", rule.ID, err)
	}
	return nil
}

func (s *Stats) RecordBatchCounts(ctx context.Context, batchID uuid.UUID, counts model.BatchCounts) error {
	if err := s.batches.UpdateBatchCounts(ctx, batchID, counts); err != nil {
		return fmt.Errorf("failed to update counts of batch %s: %w", batchID, err)
	}
	return nil
}

// RefreshBatchCounts recomputes the counters from every send record of the batch.
func (s *Stats) RefreshBatchCounts(ctx context.Context, batchID uuid.UUID) (model.BatchCounts, error) {
	records, err := s.records.ListSendRecords(ctx, batchID)
	if err != nil {
		return model.BatchCounts{}, fmt.Errorf("failed to list send records of batch %s: %w", batchID, err)
	}
	counts := model.CountRecords(records)
	if err := s.RecordBatchCounts(ctx, batchID, counts); err != nil {
		return counts, err
	}
	return counts, nil
}
