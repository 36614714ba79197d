package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"automation-engine/internal/model"
	"automation-engine/pkg/logger"
	"automation-engine/pkg/metrics"
)

const (
	defaultPageSize            = 100
	defaultMaxPages            = 50
	maxConsecutivePageFailures = 3
)

type ReconcileRequest struct {
	BatchID        string `json:"batch_id"`
	OrganizationID string `json:"organization_id"`
}

// IDs validates and parses the batch and organization ids.
func (r ReconcileRequest) IDs() (batchID, orgID uuid.UUID, err error) {
	batchID, err = uuid.Parse(r.BatchID)
	if err != nil {
		return uuid.Nil, uuid.Nil, newValidationError("batch_id", "must be a UUID")
	}
	orgID, err = uuid.Parse(r.OrganizationID)
	if err != nil {
		return uuid.Nil, uuid.Nil, newValidationError("organization_id", "must be a UUID")
	}
	return batchID, orgID, nil
}

type ReconcileResult struct {
	Inserted         int `json:"inserted"`
	Updated          int `json:"updated"`
	Errors           int `json:"errors"`
	UniqueRecipients int `json:"unique_recipients"`
	Pages            int `json:"pages"`
	Events           int `json:"events"`
}

// Reconciler folds provider delivery events into per-recipient send records.
type Reconciler struct {
	batches  BatchStore
	records  SendRecordStore
	configs  ProviderConfigStore
	feed     EventFeed
	stats    *Stats
	logger   *zap.Logger
	now      Clock
	pageSize int
	maxPages int
}

func NewReconciler(
	batches BatchStore,
	records SendRecordStore,
	configs ProviderConfigStore,
	feed EventFeed,
	stats *Stats,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		batches:  batches,
		records:  records,
		configs:  configs,
		feed:     feed,
		stats:    stats,
		logger:   logger,
		now:      systemClock,
		pageSize: defaultPageSize,
		maxPages: defaultMaxPages,
	}
}

func (r *Reconciler) WithClock(now Clock) *Reconciler {
	r.now = now
	return r
}

// WithPaging overrides the page size and the hard page cap.
func (r *Reconciler) WithPaging(pageSize, maxPages int) *Reconciler {
	if pageSize > 0 {
		r.pageSize = pageSize
	}
	if maxPages > 0 {
		r.maxPages = maxPages
	}
	return r
}

// Reconcile re-reads the provider events of a batch and upserts one record per recipient.
// Running it again over the same events leaves the records unchanged.
func (r *Reconciler) Reconcile(ctx context.Context, req ReconcileRequest) (ReconcileResult, error) {
	var result ReconcileResult

	batchID, orgID, err := req.IDs()
	if err != nil {
		return result, err
	}

	batch, err := r.batches.GetBatch(ctx, orgID, batchID)
	if err != nil {
		return result, fmt.Errorf("failed to load batch %s: %w", batchID, err)
	}
	if batch.Tag == "" && batch.Subject == "" {
		return result, newValidationError("batch_id", "batch has neither a tag nor a subject to correlate events")
	}

	cfg, err := r.configs.GetProviderConfig(ctx, orgID)
	if err != nil {
		return result, fmt.Errorf("%w: %v", ErrProviderNotSet, err)
	}

	log := logger.WithTrace(ctx, r.logger).With(
		zap.String("batch_id", batchID.String()),
		zap.String("organization_id", orgID.String()),
	)

	now := r.now()
	events, pages, pageErrors := r.fetchEvents(ctx, log, cfg, batch, now)
	result.Pages = pages
	result.Errors += pageErrors
	result.Events = len(events)

	existingRecords, err := r.records.ListSendRecords(ctx, batchID)
	if err != nil {
		return result, fmt.Errorf("failed to list send records: %w", err)
	}
	existing := make(map[string]model.SendRecord, len(existingRecords))
	for _, rec := range existingRecords {
		existing[model.NormalizeEmail(rec.RecipientEmail)] = rec
	}

	folded := FoldEvents(batchID, existing, events)
	result.UniqueRecipients = len(folded)

	for _, rec := range folded {
		rec.UpdatedAt = now
		inserted, err := r.records.UpsertSendRecord(ctx, rec)
		if err != nil {
			result.Errors++
			log.Error("Failed to upsert send record",
				zap.String("recipient", rec.RecipientEmail),
				zap.Error(err),
			)
			continue
		}
		if inserted {
			result.Inserted++
		} else {
			result.Updated++
		}
	}

	if _, err := r.stats.RefreshBatchCounts(ctx, batchID); err != nil {
		result.Errors++
		log.Error("Failed to refresh batch counts", zap.Error(err))
	}

	log.Info("Batch reconciled",
		zap.Int("pages", result.Pages),
		zap.Int("events", result.Events),
		zap.Int("inserted", result.Inserted),
		zap.Int("updated", result.Updated),
		zap.Int("errors", result.Errors),
		zap.Int("unique_recipients", result.UniqueRecipients),
	)
	return result, nil
}

// fetchEvents pages through the provider feed until a short page, the page cap,
// or too many consecutive failed pages. A failed page is skipped and counted.
func (r *Reconciler) fetchEvents(
	ctx context.Context,
	log *zap.Logger,
	cfg model.ProviderConfig,
	batch *model.Batch,
	now time.Time,
) (events []model.ProviderEvent, pages int, pageErrors int) {
	consecutive := 0
	for page := 0; page < r.maxPages; page++ {
		if ctx.Err() != nil {
			pageErrors++
			return events, pages, pageErrors
		}
		pages++

		res, err := r.feed.ListEvents(ctx, cfg, model.EventQuery{
			From:     batch.CreatedAt,
			To:       now,
			Page:     page,
			PageSize: r.pageSize,
			Tag:      batch.Tag,
		})
		if err != nil {
			pageErrors++
			consecutive++
			metrics.IncrementReconcilePageError()
			log.Warn("Failed to load provider event page",
				zap.Int("page", page),
				zap.Bool("provider_unavailable", errors.Is(err, ErrProviderUnavailable)),
				zap.Error(err),
			)
			if consecutive >= maxConsecutivePageFailures {
				log.Warn("Giving up after consecutive page failures", zap.Int("failures", consecutive))
				return events, pages, pageErrors
			}
			continue
		}
		consecutive = 0

		for _, ev := range res.Events {
			if batch.Tag == "" && ev.Subject != batch.Subject {
				continue
			}
			kind := "other"
			if st, ok := ev.Status(); ok {
				kind = string(st)
			}
			metrics.IncrementReconcileEvent(kind)
			events = append(events, ev)
		}

		if len(res.Events) < r.pageSize || !res.HasMore {
			return events, pages, pageErrors
		}
	}

	log.Warn("Stopped at page cap", zap.Int("max_pages", r.maxPages))
	return events, pages, pageErrors
}
