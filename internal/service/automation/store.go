package automation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"automation-engine/internal/model"
)

type RuleStore interface {
	ListActiveRules(ctx context.Context, orgID uuid.UUID, triggerType model.TriggerType) ([]model.AutomationRule, error)
	MarkRuleFired(ctx context.Context, ruleID uuid.UUID, at time.Time) error
}

// Directory is the recipient directory the engine reads lists from.
type Directory interface {
	ListMembers(ctx context.Context, orgID, listID uuid.UUID) ([]model.Contact, error)
}

type QueueStore interface {
	Enqueue(ctx context.Context, items []model.QueueItem) error
	// ClaimDue moves up to limit due pending items to processing and returns them.
	// Concurrent callers never receive the same item.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error
}

type SendRecordStore interface {
	ListSendRecords(ctx context.Context, batchID uuid.UUID) ([]model.SendRecord, error)
	// UpsertSendRecord writes rec keyed on (batch_id, recipient_email) and reports whether a row was inserted.
	UpsertSendRecord(ctx context.Context, rec model.SendRecord) (inserted bool, err error)
	// RecordDispatch stores the outcome of a send. It never downgrades a status set by reconciliation.
	RecordDispatch(ctx context.Context, rec model.SendRecord) error
}

type BatchStore interface {
	GetBatch(ctx context.Context, orgID, batchID uuid.UUID) (*model.Batch, error)
	CreateBatch(ctx context.Context, batch model.Batch) error
	UpdateBatchCounts(ctx context.Context, batchID uuid.UUID, counts model.BatchCounts) error
}

type ProviderConfigStore interface {
	GetProviderConfig(ctx context.Context, orgID uuid.UUID) (model.ProviderConfig, error)
}

// Sender delivers one templated message and returns the provider message id.
type Sender interface {
	Send(ctx context.Context, cfg model.ProviderConfig, msg model.OutboundMessage) (string, error)
}

// EventFeed lists provider delivery events.
type EventFeed interface {
	ListEvents(ctx context.Context, cfg model.ProviderConfig, q model.EventQuery) (model.EventPage, error)
}

// Clock is swapped in tests.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
