package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statusEvent(status string, oldStatus *string) DomainEvent {
	ev := DomainEvent{
		TriggerType: TriggerLeadStatusChanged,
		Record:      map[string]any{"status": status},
	}
	if oldStatus != nil {
		ev.OldRecord = map[string]any{"status": *oldStatus}
	}
	return ev
}

func strPtr(s string) *string { return &s }

func TestParseTriggerConfig_StatusTransitionModes(t *testing.T) {
	cases := []struct {
		raw  string
		from StatusCondition
		to   StatusCondition
	}{
		{``, Absent(), Absent()},
		{`null`, Absent(), Absent()},
		{`{}`, Absent(), Absent()},
		{`{"to_status":"won"}`, Absent(), Equals("won")},
		{`{"from_status":"any","to_status":"won"}`, AnyStatus(), Equals("won")},
		{`{"from_status":"new"}`, Equals("new"), Absent()},
		{`{"from_status":null,"to_status":"any"}`, Absent(), AnyStatus()},
	}

	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			cfg, err := ParseTriggerConfig(TriggerLeadStatusChanged, json.RawMessage(tc.raw))
			require.NoError(t, err)
			st, ok := cfg.(StatusTransition)
			require.True(t, ok)
			assert.Equal(t, tc.from, st.From)
			assert.Equal(t, tc.to, st.To)
		})
	}
}

func TestParseTriggerConfig_Errors(t *testing.T) {
	_, err := ParseTriggerConfig("deal_closed", nil)
	assert.Error(t, err)

	_, err = ParseTriggerConfig(TriggerLeadCreated, json.RawMessage(`{"to_status":`))
	assert.Error(t, err)

	_, err = ParseTriggerConfig(TriggerTrialExpiring, json.RawMessage(`{"days_before":-1}`))
	assert.Error(t, err)
}

func TestParseTriggerConfig_RejectsEmptyStatus(t *testing.T) {
	for _, raw := range []string{`{"to_status":""}`, `{"from_status":"","to_status":"won"}`} {
		t.Run(raw, func(t *testing.T) {
			cfg, err := ParseTriggerConfig(TriggerLeadStatusChanged, json.RawMessage(raw))
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestStatusTransition_ToStatusOnly(t *testing.T) {
	cfg, err := ParseTriggerConfig(TriggerLeadStatusChanged, json.RawMessage(`{"to_status":"won"}`))
	require.NoError(t, err)

	assert.True(t, cfg.Matches(statusEvent("won", nil)))
	assert.True(t, cfg.Matches(statusEvent("won", strPtr("proposal"))))
	assert.True(t, cfg.Matches(statusEvent("won", strPtr("won"))))
	assert.False(t, cfg.Matches(statusEvent("lost", strPtr("proposal"))))
	assert.False(t, cfg.Matches(DomainEvent{Record: map[string]any{}}))
}

func TestStatusTransition_FromStatus(t *testing.T) {
	anyFrom := StatusTransition{From: AnyStatus(), To: Equals("won")}
	assert.True(t, anyFrom.Matches(statusEvent("won", nil)))
	assert.True(t, anyFrom.Matches(statusEvent("won", strPtr("new"))))

	fromNew := StatusTransition{From: Equals("new")}
	assert.False(t, fromNew.Matches(statusEvent("contacted", nil)))
	assert.True(t, fromNew.Matches(statusEvent("contacted", strPtr("new"))))
	assert.False(t, fromNew.Matches(statusEvent("contacted", strPtr("qualified"))))

	unconditional := StatusTransition{}
	assert.True(t, unconditional.Matches(statusEvent("anything", nil)))
}

func TestTrialWindow(t *testing.T) {
	cfg, err := ParseTriggerConfig(TriggerTrialExpiring, json.RawMessage(`{"days_before":3}`))
	require.NoError(t, err)

	assert.True(t, cfg.Matches(DomainEvent{Record: map[string]any{"days_remaining": float64(3)}}))
	assert.True(t, cfg.Matches(DomainEvent{Record: map[string]any{"days_remaining": "3"}}))
	assert.False(t, cfg.Matches(DomainEvent{Record: map[string]any{"days_remaining": 7}}))
	assert.False(t, cfg.Matches(DomainEvent{Record: map[string]any{}}))

	always, err := ParseTriggerConfig(TriggerTrialExpiring, nil)
	require.NoError(t, err)
	assert.True(t, always.Matches(DomainEvent{Record: map[string]any{"days_remaining": 1}}))
}

func TestMarshalTriggerConfig(t *testing.T) {
	raw, err := MarshalTriggerConfig(StatusTransition{From: AnyStatus(), To: Equals("won")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"from_status":"any","to_status":"won"}`, string(raw))

	raw, err = MarshalTriggerConfig(StatusTransition{})
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))
}
