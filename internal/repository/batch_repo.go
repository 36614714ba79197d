package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"automation-engine/internal/model"
	"automation-engine/internal/service/automation"
)

type BatchRepository struct {
	db *pgxpool.Pool
}

func NewBatchRepository(db *pgxpool.Pool) *BatchRepository {
	return &BatchRepository{db: db}
}

const batchColumns = `id, organization_id, automation_id, kind, name, subject, tag, created_at, total_recipients, sent_count, failed_count`

func scanBatch(row pgx.Row) (*model.Batch, error) {
	var (
		b    model.Batch
		kind string
	)
	err := row.Scan(&b.ID, &b.OrganizationID, &b.AutomationID, &kind, &b.Name, &b.Subject, &b.Tag,
		&b.CreatedAt, &b.TotalRecipients, &b.SentCount, &b.FailedCount)
	if err != nil {
		return nil, err
	}
	b.Kind = model.BatchKind(kind)
	return &b, nil
}

func (r *BatchRepository) GetBatch(ctx context.Context, orgID, batchID uuid.UUID) (*model.Batch, error) {
	query := `SELECT ` + batchColumns + ` FROM email_batches WHERE id = $1 AND organization_id = $2`
	b, err := scanBatch(r.db.QueryRow(ctx, query, batchID, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, automation.ErrBatchNotFound
	}
	return b, err
}

// CreateBatch stores a new batch; automation firings open one each.
func (r *BatchRepository) CreateBatch(ctx context.Context, b model.Batch) error {
	query := `
        INSERT INTO email_batches (id, organization_id, automation_id, kind, name, subject, tag, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err := r.db.Exec(ctx, query, b.ID, b.OrganizationID, b.AutomationID, string(b.Kind), b.Name, b.Subject, b.Tag, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

func (r *BatchRepository) UpdateBatchCounts(ctx context.Context, batchID uuid.UUID, counts model.BatchCounts) error {
	query := `
        UPDATE email_batches
        SET sent_count = $2, failed_count = $3, total_recipients = $4
        WHERE id = $1
    `
	tag, err := r.db.Exec(ctx, query, batchID, counts.Sent, counts.Failed, counts.Total)
	if err != nil {
		return fmt.Errorf("failed to update batch counts: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return automation.ErrBatchNotFound
	}
	return nil
}
