package automation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"automation-engine/internal/model"
	"automation-engine/pkg/logger"
)

// Matcher selects the active rules a domain event fires.
type Matcher struct {
	rules  RuleStore
	logger *zap.Logger
}

func NewMatcher(rules RuleStore, logger *zap.Logger) *Matcher {
	return &Matcher{rules: rules, logger: logger}
}

// Match returns every active rule of the event's organization whose trigger type
// equals the event's and whose predicate holds. Order carries no meaning.
func (m *Matcher) Match(ctx context.Context, event model.DomainEvent) ([]model.AutomationRule, error) {
	rules, err := m.rules.ListActiveRules(ctx, event.OrganizationID, event.TriggerType)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}

	log := logger.WithTrace(ctx, m.logger)
	matched := make([]model.AutomationRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.IsActive || rule.TriggerType != event.TriggerType || rule.OrganizationID != event.OrganizationID {
			continue
		}

		cfg, err := rule.ParsedConfig()
		if err != nil {
			log.Warn("Skipping rule with invalid trigger config",
				zap.String("rule_id", rule.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if cfg.Matches(event) {
			matched = append(matched, rule)
		}
	}
	return matched, nil
}
