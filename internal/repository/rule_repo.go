package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	mqcontracts "automation-engine/contracts/mq"
	"automation-engine/internal/model"
	"automation-engine/internal/service/automation"
	"automation-engine/pkg/outbox"
	"automation-engine/pkg/trace"
)

type RuleRepository struct {
	db     *pgxpool.Pool
	outbox *outbox.Repository
	logger *zap.Logger
}

// NewRuleRepository builds the rule store. A nil outbox disables rule_fired events.
func NewRuleRepository(db *pgxpool.Pool, events *outbox.Repository, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{
		db:     db,
		outbox: events,
		logger: logger,
	}
}

const ruleColumns = `
    id, organization_id, name, trigger_type, trigger_config, target_list_id,
    template_id, delay_minutes, is_active, last_triggered_at, total_triggered, created_at
`

func scanRule(row pgx.Row) (model.AutomationRule, error) {
	var (
		r            model.AutomationRule
		triggerType  string
		config       []byte
		delayMinutes int
	)
	err := row.Scan(
		&r.ID,
		&r.OrganizationID,
		&r.Name,
		&triggerType,
		&config,
		&r.TargetListID,
		&r.TemplateID,
		&delayMinutes,
		&r.IsActive,
		&r.LastTriggeredAt,
		&r.TotalTriggered,
		&r.CreatedAt,
	)
	if err != nil {
		return r, err
	}
	r.TriggerType = model.TriggerType(triggerType)
	r.TriggerConfig = config
	r.Delay = time.Duration(delayMinutes) * time.Minute
	return r, nil
}

// ListActiveRules returns the active rules of an organization for one trigger type.
func (r *RuleRepository) ListActiveRules(ctx context.Context, orgID uuid.UUID, triggerType model.TriggerType) ([]model.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + `
        FROM automation_rules
        WHERE organization_id = $1 AND trigger_type = $2 AND is_active
        ORDER BY created_at
    `
	rows, err := r.db.Query(ctx, query, orgID, string(triggerType))
	if err != nil {
		return nil, fmt.Errorf("failed to query automation rules: %w", err)
	}
	defer rows.Close()

	var rules []model.AutomationRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan automation rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *RuleRepository) GetRule(ctx context.Context, orgID, ruleID uuid.UUID) (*model.AutomationRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM automation_rules WHERE id = $1 AND organization_id = $2`
	rule, err := scanRule(r.db.QueryRow(ctx, query, ruleID, orgID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, automation.ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

// MarkRuleFired bumps total_triggered, stamps last_triggered_at and queues an
// automation.rule_fired event in the same transaction.
func (r *RuleRepository) MarkRuleFired(ctx context.Context, ruleID uuid.UUID, at time.Time) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var (
			orgID       uuid.UUID
			triggerType string
			total       int64
		)
		err := tx.QueryRow(ctx, `
            UPDATE automation_rules
            SET total_triggered = total_triggered + 1,
                last_triggered_at = $2
            WHERE id = $1
            RETURNING organization_id, trigger_type, total_triggered
        `, ruleID, at).Scan(&orgID, &triggerType, &total)
		if errors.Is(err, pgx.ErrNoRows) {
			return automation.ErrRuleNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to mark rule fired: %w", err)
		}

		if r.outbox == nil {
			return nil
		}
		payload := mqcontracts.RuleFiredPayload{
			EventID:        fmt.Sprintf("%s:%d", ruleID, total),
			RuleID:         ruleID.String(),
			OrganizationID: orgID.String(),
			TriggerType:    triggerType,
			TotalTriggered: total,
			FiredAt:        at,
			TraceID:        trace.FromContext(ctx),
		}
		return outbox.InsertEventInTx(ctx, tx, r.outbox, "automation_rule", ruleID.String(), mqcontracts.RoutingKeyRuleFired, payload)
	})
}

// DeleteRule removes a rule unless pending or processing queue items still reference it.
func (r *RuleRepository) DeleteRule(ctx context.Context, orgID, ruleID uuid.UUID) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var id uuid.UUID
		err := tx.QueryRow(ctx,
			`SELECT id FROM automation_rules WHERE id = $1 AND organization_id = $2 FOR UPDATE`,
			ruleID, orgID,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return automation.ErrRuleNotFound
		}
		if err != nil {
			return err
		}

		var inFlight int
		err = tx.QueryRow(ctx, `
            SELECT COUNT(*) FROM automation_queue
            WHERE automation_id = $1 AND status IN ('pending', 'processing')
        `, ruleID).Scan(&inFlight)
		if err != nil {
			return err
		}
		if inFlight > 0 {
			r.logger.Info("Refusing to delete automation with queued sends",
				zap.String("rule_id", ruleID.String()),
				zap.Int("queued", inFlight),
			)
			return automation.ErrRuleInUse
		}

		if _, err := tx.Exec(ctx, `DELETE FROM automation_rules WHERE id = $1`, ruleID); err != nil {
			return deleteRuleError(err)
		}
		return nil
	})
}

// restrictViolation is raised by the automation_rules delete trigger while sends are queued.
const restrictViolation = "23001"

func deleteRuleError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == restrictViolation {
		return automation.ErrRuleInUse
	}
	return fmt.Errorf("failed to delete automation rule: %w", err)
}
