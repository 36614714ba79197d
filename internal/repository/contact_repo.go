package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"automation-engine/internal/model"
)

// ContactRepository is the recipient directory.
type ContactRepository struct {
	db *pgxpool.Pool
}

func NewContactRepository(db *pgxpool.Pool) *ContactRepository {
	return &ContactRepository{db: db}
}

// ListMembers returns every contact of a list owned by the organization.
func (r *ContactRepository) ListMembers(ctx context.Context, orgID, listID uuid.UUID) ([]model.Contact, error) {
	query := `
        SELECT c.id, c.email, c.name, c.subscribed
        FROM contact_list_members m
        JOIN contact_lists l ON l.id = m.list_id
        JOIN contacts c ON c.id = m.contact_id
        WHERE m.list_id = $1 AND l.organization_id = $2
        ORDER BY m.added_at, c.email
    `
	rows, err := r.db.Query(ctx, query, listID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to query list members: %w", err)
	}
	defer rows.Close()

	var contacts []model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.Email, &c.Name, &c.Subscribed); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}
