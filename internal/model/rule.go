package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TriggerType is the kind of domain event a rule listens to.
type TriggerType string

const (
	TriggerLeadCreated          TriggerType = "lead_created"
	TriggerLeadStatusChanged    TriggerType = "lead_status_changed"
	TriggerClientCreated        TriggerType = "client_created"
	TriggerSubscriptionCreated  TriggerType = "subscription_created"
	TriggerSubscriptionRenewed  TriggerType = "subscription_renewed"
	TriggerSubscriptionCanceled TriggerType = "subscription_canceled"
	TriggerTrialExpiring        TriggerType = "trial_expiring"
)

var knownTriggerTypes = map[TriggerType]struct{}{
	TriggerLeadCreated:          {},
	TriggerLeadStatusChanged:    {},
	TriggerClientCreated:        {},
	TriggerSubscriptionCreated:  {},
	TriggerSubscriptionRenewed:  {},
	TriggerSubscriptionCanceled: {},
	TriggerTrialExpiring:        {},
}

// Valid reports whether t is one of the known trigger types.
func (t TriggerType) Valid() bool {
	_, ok := knownTriggerTypes[t]
	return ok
}

// AutomationRule binds a trigger to a template and a recipient list.
// The engine only mutates LastTriggeredAt and TotalTriggered.
type AutomationRule struct {
	ID              uuid.UUID
	OrganizationID  uuid.UUID
	Name            string
	TriggerType     TriggerType
	TriggerConfig   json.RawMessage
	TargetListID    *uuid.UUID
	TemplateID      int64
	Delay           time.Duration
	IsActive        bool
	LastTriggeredAt *time.Time
	TotalTriggered  int64
	CreatedAt       time.Time
}

// ParsedConfig decodes the stored trigger config into its typed variant.
func (r AutomationRule) ParsedConfig() (TriggerConfig, error) {
	return ParseTriggerConfig(r.TriggerType, r.TriggerConfig)
}

// FiringTag is the provider-side tag attached to every send of one rule firing.
func FiringTag(ruleID, batchID uuid.UUID) string {
	return "automation-" + ruleID.String() + "-" + batchID.String()
}
