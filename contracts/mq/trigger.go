package mq

import "time"

const (
	RoutingKeyAutomationTrigger = "automation.trigger"
	QueueAutomationTrigger      = "automation-engine.trigger"
)

// TriggerPayload is a domain event published by the CRM and billing services.
type TriggerPayload struct {
	EventID        string         `json:"event_id"`
	TriggerType    string         `json:"trigger_type"`
	OrganizationID string         `json:"organization_id"`
	Record         map[string]any `json:"record"`
	OldRecord      map[string]any `json:"old_record,omitempty"`
	TraceID        string         `json:"trace_id,omitempty"`
}

const RoutingKeyRuleFired = "automation.rule_fired"

// RuleFiredPayload announces one firing of an automation rule to downstream consumers.
type RuleFiredPayload struct {
	EventID        string    `json:"event_id"`
	RuleID         string    `json:"rule_id"`
	OrganizationID string    `json:"organization_id"`
	TriggerType    string    `json:"trigger_type"`
	TotalTriggered int64     `json:"total_triggered"`
	FiredAt        time.Time `json:"fired_at"`
	TraceID        string    `json:"trace_id,omitempty"`
}
