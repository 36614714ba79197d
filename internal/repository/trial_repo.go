package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"automation-engine/internal/model"
)

type TrialRepository struct {
	db *pgxpool.Pool
}

func NewTrialRepository(db *pgxpool.Pool) *TrialRepository {
	return &TrialRepository{db: db}
}

// ListExpiringTrials returns trials ending in (now, until].
func (r *TrialRepository) ListExpiringTrials(ctx context.Context, now, until time.Time) ([]model.Trial, error) {
	query := `
        SELECT organization_id, organization_name, owner_email, owner_name, trial_ends_at
        FROM organization_trials
        WHERE trial_ends_at > $1 AND trial_ends_at <= $2
        ORDER BY trial_ends_at
    `
	rows, err := r.db.Query(ctx, query, now, until)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring trials: %w", err)
	}
	defer rows.Close()

	var trials []model.Trial
	for rows.Next() {
		var t model.Trial
		if err := rows.Scan(&t.OrganizationID, &t.OrganizationName, &t.OwnerEmail, &t.OwnerName, &t.TrialEndsAt); err != nil {
			return nil, err
		}
		trials = append(trials, t)
	}
	return trials, rows.Err()
}

// ClaimTrialNotification records that a window was notified. It reports false
// when another run already claimed it.
func (r *TrialRepository) ClaimTrialNotification(ctx context.Context, orgID uuid.UUID, daysBefore int, at time.Time) (bool, error) {
	query := `
        INSERT INTO trial_notifications (organization_id, days_before, notified_at)
        VALUES ($1, $2, $3)
        ON CONFLICT DO NOTHING
    `
	tag, err := r.db.Exec(ctx, query, orgID, daysBefore, at)
	if err != nil {
		return false, fmt.Errorf("failed to claim trial notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseTrialNotification undoes a claim whose trigger did not go out.
func (r *TrialRepository) ReleaseTrialNotification(ctx context.Context, orgID uuid.UUID, daysBefore int) error {
	_, err := r.db.Exec(ctx, `DELETE FROM trial_notifications WHERE organization_id = $1 AND days_before = $2`, orgID, daysBefore)
	return err
}
