package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ConditionMode distinguishes a condition that is not configured from a wildcard
// and from a concrete value.
type ConditionMode int

const (
	ConditionAbsent ConditionMode = iota
	ConditionAny
	ConditionEquals
)

const wildcard = "any"

// StatusCondition is one side of a status transition predicate.
type StatusCondition struct {
	Mode  ConditionMode
	Value string
}

func Absent() StatusCondition             { return StatusCondition{Mode: ConditionAbsent} }
func AnyStatus() StatusCondition          { return StatusCondition{Mode: ConditionAny} }
func Equals(v string) StatusCondition     { return StatusCondition{Mode: ConditionEquals, Value: v} }
func (c StatusCondition) Evaluated() bool { return c.Mode != ConditionAbsent }

func conditionFrom(raw *string) StatusCondition {
	if raw == nil {
		return Absent()
	}
	if *raw == wildcard {
		return AnyStatus()
	}
	return Equals(*raw)
}

func (c StatusCondition) raw() *string {
	switch c.Mode {
	case ConditionAny:
		v := wildcard
		return &v
	case ConditionEquals:
		v := c.Value
		return &v
	default:
		return nil
	}
}

// TriggerConfig is the typed predicate attached to a rule.
type TriggerConfig interface {
	Matches(event DomainEvent) bool
}

// StatusTransition matches on record.status and old_record.status.
type StatusTransition struct {
	From StatusCondition
	To   StatusCondition
}

// Matches evaluates the configured sides only. A concrete From value never
// matches when the event has no old record.
func (s StatusTransition) Matches(event DomainEvent) bool {
	if s.To.Mode == ConditionEquals {
		status, ok := StringField(event.Record, "status")
		if !ok || status != s.To.Value {
			return false
		}
	}

	if s.From.Mode == ConditionEquals {
		if event.OldRecord == nil {
			return false
		}
		status, ok := StringField(event.OldRecord, "status")
		if !ok || status != s.From.Value {
			return false
		}
	}
	return true
}

// TrialWindow matches trial_expiring events for a given number of days before expiry.
type TrialWindow struct {
	DaysBefore *int
}

func (w TrialWindow) Matches(event DomainEvent) bool {
	if w.DaysBefore == nil {
		return true
	}
	days, ok := IntField(event.Record, "days_remaining")
	return ok && days == *w.DaysBefore
}

type statusTransitionJSON struct {
	FromStatus *string `json:"from_status,omitempty"`
	ToStatus   *string `json:"to_status,omitempty"`
}

type trialWindowJSON struct {
	DaysBefore *int `json:"days_before,omitempty"`
}

// ParseTriggerConfig decodes raw into the variant for triggerType.
// Empty input, null and {} all yield the unconditional variant.
func ParseTriggerConfig(triggerType TriggerType, raw json.RawMessage) (TriggerConfig, error) {
	if !triggerType.Valid() {
		return nil, fmt.Errorf("unknown trigger type %q", triggerType)
	}

	trimmed := bytes.TrimSpace(raw)
	empty := len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))

	if triggerType == TriggerTrialExpiring {
		var cfg trialWindowJSON
		if !empty {
			if err := json.Unmarshal(trimmed, &cfg); err != nil {
				return nil, fmt.Errorf("invalid %s trigger config: %w", triggerType, err)
			}
		}
		if cfg.DaysBefore != nil && *cfg.DaysBefore < 0 {
			return nil, fmt.Errorf("invalid %s trigger config: days_before must not be negative", triggerType)
		}
		return TrialWindow{DaysBefore: cfg.DaysBefore}, nil
	}

	var cfg statusTransitionJSON
	if !empty {
		if err := json.Unmarshal(trimmed, &cfg); err != nil {
			return nil, fmt.Errorf("invalid %s trigger config: %w", triggerType, err)
		}
	}
	if cfg.FromStatus != nil && *cfg.FromStatus == "" {
		return nil, fmt.Errorf("invalid %s trigger config: from_status must not be empty", triggerType)
	}
	if cfg.ToStatus != nil && *cfg.ToStatus == "" {
		return nil, fmt.Errorf("invalid %s trigger config: to_status must not be empty", triggerType)
	}
	return StatusTransition{
		From: conditionFrom(cfg.FromStatus),
		To:   conditionFrom(cfg.ToStatus),
	}, nil
}

// MarshalTriggerConfig encodes cfg in its stored JSON form.
func MarshalTriggerConfig(cfg TriggerConfig) (json.RawMessage, error) {
	switch c := cfg.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case StatusTransition:
		return json.Marshal(statusTransitionJSON{FromStatus: c.From.raw(), ToStatus: c.To.raw()})
	case TrialWindow:
		return json.Marshal(trialWindowJSON{DaysBefore: c.DaysBefore})
	default:
		return nil, fmt.Errorf("unsupported trigger config %T", cfg)
	}
}

// StringField reads a scalar field as a string.
func StringField(record map[string]any, key string) (string, bool) {
	v, ok := record[key]
	if !ok || v == nil {
		return "", false
	}
	switch val := v.(type) {
	case string:
		return val, true
	case json.Number:
		return val.String(), true
	case fmt.Stringer:
		return val.String(), true
	case bool, int, int32, int64, float32, float64:
		return ScalarString(val)
	default:
		return "", false
	}
}

// IntField reads a numeric or numeric-string field as an int.
func IntField(record map[string]any, key string) (int, bool) {
	switch val := record[key].(type) {
	case int:
		return val, true
	case int32:
		return int(val), true
	case int64:
		return int(val), true
	case float64:
		if val != float64(int(val)) {
			return 0, false
		}
		return int(val), true
	case json.Number:
		n, err := val.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		return n, err == nil
	default:
		return 0, false
	}
}

// ScalarString renders strings, numbers and bools; other values are rejected.
func ScalarString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.Itoa(val), true
	case int32:
		return strconv.FormatInt(int64(val), 10), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case json.Number:
		return val.String(), true
	default:
		return "", false
	}
}
