package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"automation-engine/internal/model"
)

type QueueRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewQueueRepository(db *pgxpool.Pool, logger *zap.Logger) *QueueRepository {
	return &QueueRepository{
		db:     db,
		logger: logger,
	}
}

// Enqueue inserts all items in one transaction.
func (r *QueueRepository) Enqueue(ctx context.Context, items []model.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	query := `
        INSERT INTO automation_queue
            (id, automation_id, batch_id, organization_id, recipient_email, recipient_name,
             merge_variables, template_id, scheduled_for, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, it := range items {
			vars, err := json.Marshal(it.MergeVariables)
			if err != nil {
				return fmt.Errorf("failed to encode merge variables: %w", err)
			}
			id := it.ID
			if id == uuid.Nil {
				id = uuid.New()
			}
			status := it.Status
			if status == "" {
				status = model.QueueStatusPending
			}
			batch.Queue(query, id, it.AutomationID, it.BatchID, it.OrganizationID, it.RecipientEmail, it.RecipientName,
				vars, it.TemplateID, it.ScheduledFor, string(status))
		}

		br := tx.SendBatch(ctx, batch)
		for range items {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("failed to enqueue item: %w", err)
			}
		}
		return br.Close()
	})
}

// ClaimDue moves due pending items to processing. SKIP LOCKED keeps concurrent
// drains from claiming the same row.
func (r *QueueRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	query := `
        WITH due AS (
            SELECT id FROM automation_queue
            WHERE status = 'pending' AND scheduled_for <= $1
            ORDER BY scheduled_for
            LIMIT $2
            FOR UPDATE SKIP LOCKED
        )
        UPDATE automation_queue q
        SET status = 'processing'
        FROM due
        WHERE q.id = due.id
        RETURNING q.id, q.automation_id, q.batch_id, q.organization_id, q.recipient_email, q.recipient_name,
                  q.merge_variables, q.template_id, q.scheduled_for, q.status, q.created_at
    `
	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue items: %w", err)
	}
	defer rows.Close()

	var items []model.QueueItem
	for rows.Next() {
		var (
			it     model.QueueItem
			vars   []byte
			status string
		)
		err := rows.Scan(&it.ID, &it.AutomationID, &it.BatchID, &it.OrganizationID, &it.RecipientEmail, &it.RecipientName,
			&vars, &it.TemplateID, &it.ScheduledFor, &status, &it.CreatedAt)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(vars, &it.MergeVariables); err != nil {
			r.logger.Warn("Queue item has unreadable merge variables",
				zap.String("item_id", it.ID.String()),
				zap.Error(err),
			)
		}
		it.Status = model.QueueStatus(status)
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *QueueRepository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.finish(ctx, id, model.QueueStatusSent, nil, at)
}

func (r *QueueRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string, at time.Time) error {
	return r.finish(ctx, id, model.QueueStatusFailed, &reason, at)
}

// finish is the single terminal transition; it only applies to a claimed item.
func (r *QueueRepository) finish(ctx context.Context, id uuid.UUID, status model.QueueStatus, reason *string, at time.Time) error {
	query := `
        UPDATE automation_queue
        SET status = $2, last_error = $3, processed_at = $4
        WHERE id = $1 AND status = 'processing'
    `
	tag, err := r.db.Exec(ctx, query, id, string(status), reason, at)
	if err != nil {
		return fmt.Errorf("failed to mark queue item %s: %w", status, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("queue item %s is not processing", id)
	}
	return nil
}
