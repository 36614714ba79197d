package automation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"automation-engine/internal/model"
	"automation-engine/pkg/logger"
)

type Resolver struct {
	directory Directory
	logger    *zap.Logger
}

func NewResolver(directory Directory, logger *zap.Logger) *Resolver {
	return &Resolver{directory: directory, logger: logger}
}

// Resolve expands the rule's target list to subscribed recipients with an email.
// An empty result is not an error; it is logged and the firing is skipped by the caller.
func (r *Resolver) Resolve(ctx context.Context, rule model.AutomationRule) ([]model.Contact, error) {
	log := logger.WithTrace(ctx, r.logger).With(zap.String("rule_id", rule.ID.String()))

	if rule.TargetListID == nil {
		log.Info("Rule has no target list, nothing to send")
		return nil, nil
	}

	members, err := r.directory.ListMembers(ctx, rule.OrganizationID, *rule.TargetListID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of %s: %w", *rule.TargetListID, err)
	}

	seen := make(map[string]struct{}, len(members))
	recipients := make([]model.Contact, 0, len(members))
	for _, c := range members {
		if !c.IsSubscribed() {
			continue
		}
		email := strings.TrimSpace(c.Email)
		if email == "" {
			continue
		}
		key := model.NormalizeEmail(email)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		c.Email = email
		c.Name = strings.TrimSpace(c.Name)
		recipients = append(recipients, c)
	}

	if len(recipients) == 0 {
		log.Info("Target list resolved to zero recipients",
			zap.String("list_id", rule.TargetListID.String()),
			zap.Int("members", len(members)),
		)
	}
	return recipients, nil
}
