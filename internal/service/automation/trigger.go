package automation

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"automation-engine/internal/model"
	"automation-engine/pkg/logger"
)

// TriggerRequest is the inbound domain event, as received over HTTP or the bus.
type TriggerRequest struct {
	EventID        string         `json:"event_id,omitempty"`
	TriggerType    string         `json:"trigger_type"`
	OrganizationID string         `json:"organization_id"`
	Record         map[string]any `json:"record"`
	OldRecord      map[string]any `json:"old_record,omitempty"`
}

// Event validates the request and converts it to a domain event.
func (r TriggerRequest) Event() (model.DomainEvent, error) {
	triggerType := strings.TrimSpace(r.TriggerType)
	if triggerType == "" {
		return model.DomainEvent{}, newValidationError("trigger_type", "is required")
	}
	if !model.TriggerType(triggerType).Valid() {
		return model.DomainEvent{}, newValidationError("trigger_type", "unknown trigger type %q", triggerType)
	}
	if strings.TrimSpace(r.OrganizationID) == "" {
		return model.DomainEvent{}, newValidationError("organization_id", "is required")
	}
	orgID, err := uuid.Parse(strings.TrimSpace(r.OrganizationID))
	if err != nil {
		return model.DomainEvent{}, newValidationError("organization_id", "must be a UUID")
	}
	if r.Record == nil {
		return model.DomainEvent{}, newValidationError("record", "is required")
	}

	return model.DomainEvent{
		EventID:        r.EventID,
		TriggerType:    model.TriggerType(triggerType),
		OrganizationID: orgID,
		Record:         r.Record,
		OldRecord:      r.OldRecord,
	}, nil
}

type TriggerResult struct {
	Triggered int             `json:"triggered"`
	Sent      int             `json:"sent"`
	Failed    int             `json:"failed"`
	Enqueued  int             `json:"enqueued"`
	Errors    int             `json:"errors"`
	Firings   []FiringSummary `json:"firings,omitempty"`
}

// TriggerService is the entrypoint for domain events.
type TriggerService struct {
	matcher   *Matcher
	resolver  *Resolver
	scheduler *Scheduler
	configs   ProviderConfigStore
	logger    *zap.Logger
}

func NewTriggerService(
	matcher *Matcher,
	resolver *Resolver,
	scheduler *Scheduler,
	configs ProviderConfigStore,
	logger *zap.Logger,
) *TriggerService {
	return &TriggerService{
		matcher:   matcher,
		resolver:  resolver,
		scheduler: scheduler,
		configs:   configs,
		logger:    logger,
	}
}

// Process fires every matching rule for the event. Triggered counts rules that
// actually fired; rules with no recipients are skipped and not counted.
// A rule that fails does not stop the others; it is counted in Errors.
func (s *TriggerService) Process(ctx context.Context, req TriggerRequest) (TriggerResult, error) {
	var result TriggerResult

	event, err := req.Event()
	if err != nil {
		return result, err
	}

	log := logger.WithTrace(ctx, s.logger).With(
		zap.String("trigger_type", string(event.TriggerType)),
		zap.String("organization_id", event.OrganizationID.String()),
	)

	rules, err := s.matcher.Match(ctx, event)
	if err != nil {
		return result, fmt.Errorf("failed to match rules: %w", err)
	}
	if len(rules) == 0 {
		log.Debug("No automation rules matched")
		return result, nil
	}

	configs := newProviderConfigs(s.configs)
	for _, rule := range rules {
		recipients, err := s.resolver.Resolve(ctx, rule)
		if err != nil {
			result.Errors++
			log.Error("Failed to resolve recipients", zap.String("rule_id", rule.ID.String()), zap.Error(err))
			continue
		}
		if len(recipients) == 0 {
			continue
		}

		summary, err := s.scheduler.Fire(ctx, rule, event, recipients, configs)
		if err != nil {
			result.Errors++
			log.Error("Failed to fire rule", zap.String("rule_id", rule.ID.String()), zap.Error(err))
			continue
		}

		result.Triggered++
		result.Sent += summary.Sent
		result.Failed += summary.Failed
		result.Enqueued += summary.Enqueued
		result.Firings = append(result.Firings, summary)
	}
	return result, nil
}
