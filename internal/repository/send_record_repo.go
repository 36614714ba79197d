package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"automation-engine/internal/model"
)

type SendRecordRepository struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

func NewSendRecordRepository(db *pgxpool.Pool, logger *zap.Logger) *SendRecordRepository {
	return &SendRecordRepository{
		db:     db,
		logger: logger,
	}
}

func (r *SendRecordRepository) ListSendRecords(ctx context.Context, batchID uuid.UUID) ([]model.SendRecord, error) {
	query := `
        SELECT id, batch_id, recipient_email, recipient_name, provider_message_id, status,
               sent_at, opened_at, clicked_at, error_message, updated_at
        FROM email_sends
        WHERE batch_id = $1
        ORDER BY recipient_email
    `
	rows, err := r.db.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query send records: %w", err)
	}
	defer rows.Close()

	var records []model.SendRecord
	for rows.Next() {
		var (
			rec    model.SendRecord
			status string
		)
		err := rows.Scan(&rec.ID, &rec.BatchID, &rec.RecipientEmail, &rec.RecipientName, &rec.ProviderMessageID,
			&status, &rec.SentAt, &rec.OpenedAt, &rec.ClickedAt, &rec.ErrorMessage, &rec.UpdatedAt)
		if err != nil {
			return nil, err
		}
		rec.Status = model.SendStatus(status)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpsertSendRecord writes the folded state of one recipient. xmax = 0 only on a fresh insert.
func (r *SendRecordRepository) UpsertSendRecord(ctx context.Context, rec model.SendRecord) (bool, error) {
	query := `
        INSERT INTO email_sends
            (id, batch_id, recipient_email, recipient_name, provider_message_id, status,
             sent_at, opened_at, clicked_at, error_message, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (batch_id, recipient_email) DO UPDATE SET
            recipient_name      = COALESCE(NULLIF(EXCLUDED.recipient_name, ''), email_sends.recipient_name),
            provider_message_id = EXCLUDED.provider_message_id,
            status              = EXCLUDED.status,
            sent_at             = EXCLUDED.sent_at,
            opened_at           = EXCLUDED.opened_at,
            clicked_at          = EXCLUDED.clicked_at,
            error_message       = EXCLUDED.error_message,
            updated_at          = EXCLUDED.updated_at
        RETURNING (xmax = 0)
    `
	id := rec.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	var inserted bool
	err := r.db.QueryRow(ctx, query, id, rec.BatchID, model.NormalizeEmail(rec.RecipientEmail), rec.RecipientName,
		rec.ProviderMessageID, string(rec.Status), rec.SentAt, rec.OpenedAt, rec.ClickedAt, rec.ErrorMessage, rec.UpdatedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("failed to upsert send record: %w", err)
	}
	return inserted, nil
}

// RecordDispatch stores a send outcome. An existing record only takes the new
// status while it is still a local dispatch failure.
func (r *SendRecordRepository) RecordDispatch(ctx context.Context, rec model.SendRecord) error {
	query := `
        INSERT INTO email_sends
            (id, batch_id, recipient_email, recipient_name, provider_message_id, status,
             sent_at, error_message, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (batch_id, recipient_email) DO UPDATE SET
            recipient_name = CASE WHEN email_sends.status = 'failed'
                                  THEN EXCLUDED.recipient_name ELSE email_sends.recipient_name END,
            provider_message_id = COALESCE(NULLIF(EXCLUDED.provider_message_id, ''), email_sends.provider_message_id),
            status = CASE WHEN email_sends.status = 'failed'
                          THEN EXCLUDED.status ELSE email_sends.status END,
            sent_at = COALESCE(email_sends.sent_at, EXCLUDED.sent_at),
            error_message = CASE WHEN email_sends.status = 'failed'
                                 THEN EXCLUDED.error_message ELSE email_sends.error_message END,
            updated_at = EXCLUDED.updated_at
    `
	_, err := r.db.Exec(ctx, query, uuid.New(), rec.BatchID, model.NormalizeEmail(rec.RecipientEmail), rec.RecipientName,
		rec.ProviderMessageID, string(rec.Status), rec.SentAt, rec.ErrorMessage, rec.UpdatedAt)
	if err != nil {
		r.logger.Error("Failed to record dispatch",
			zap.String("batch_id", rec.BatchID.String()),
			zap.String("recipient", rec.RecipientEmail),
			zap.Error(err),
		)
		return fmt.Errorf("failed to record dispatch: %w", err)
	}
	return nil
}
