package automation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automation-engine/internal/model"
)

func TestTriggerRequest_Validation(t *testing.T) {
	org := uuid.NewString()
	cases := []struct {
		name  string
		req   TriggerRequest
		field string
	}{
		{"missing trigger type", TriggerRequest{OrganizationID: org, Record: map[string]any{}}, "trigger_type"},
		{"unknown trigger type", TriggerRequest{TriggerType: "deal_won", OrganizationID: org, Record: map[string]any{}}, "trigger_type"},
		{"missing organization", TriggerRequest{TriggerType: "lead_created", Record: map[string]any{}}, "organization_id"},
		{"malformed organization", TriggerRequest{TriggerType: "lead_created", OrganizationID: "acme", Record: map[string]any{}}, "organization_id"},
		{"missing record", TriggerRequest{TriggerType: "lead_created", OrganizationID: org}, "record"},
	}

	e := newEngine()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.triggers.Process(context.Background(), tc.req)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestTriggerService_EndToEndImmediate(t *testing.T) {
	e := newEngine()
	e.store.lists[e.listID] = []model.Contact{{Email: "a@x.com", Name: "Ann"}}
	rule := e.rule("proposal", model.TriggerLeadStatusChanged, `{"to_status":"proposal"}`, 0)

	res, err := e.triggers.Process(context.Background(), TriggerRequest{
		TriggerType:    "lead_status_changed",
		OrganizationID: e.orgID.String(),
		Record:         map[string]any{"status": "proposal", "company": "Acme"},
		OldRecord:      map[string]any{"status": "qualified"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Triggered)
	assert.Equal(t, 1, res.Sent)

	sends := e.sender.sends()
	require.Len(t, sends, 1)
	assert.Equal(t, "a@x.com", sends[0].Email)
	assert.Equal(t, int64(42), sends[0].TemplateID)
	assert.Equal(t, "Acme", sends[0].Variables["company"])
	require.Len(t, res.Firings, 1)
	batchID := res.Firings[0].BatchID
	assert.Equal(t, []string{model.FiringTag(rule.ID, batchID)}, sends[0].Tags)

	stored := e.store.rule(rule.ID)
	assert.Equal(t, int64(1), stored.TotalTriggered)
	require.NotNil(t, stored.LastTriggeredAt)
	assert.Equal(t, e.clock.Now(), *stored.LastTriggeredAt)

	records, err := e.store.ListSendRecords(context.Background(), batchID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.SendStatusSent, records[0].Status)
	assert.Equal(t, "<a@x.com@provider>", records[0].ProviderMessageID)

	batch := e.store.batch(batchID)
	assert.Equal(t, model.BatchKindAutomation, batch.Kind)
	require.NotNil(t, batch.AutomationID)
	assert.Equal(t, rule.ID, *batch.AutomationID)
	assert.Equal(t, model.FiringTag(rule.ID, batchID), batch.Tag)
	assert.Equal(t, 1, batch.SentCount)
	assert.Equal(t, 1, batch.TotalRecipients)
}

func TestTriggerService_FailuresAreIndependent(t *testing.T) {
	e := newEngine()
	e.store.lists[e.listID] = []model.Contact{
		{Email: "a@x.com"}, {Email: "bad@x.com"}, {Email: "c@x.com"},
	}
	e.sender.fail["bad@x.com"] = errors.New("invalid address")
	rule := e.rule("welcome", model.TriggerClientCreated, `{}`, 0)

	res, err := e.triggers.Process(context.Background(), TriggerRequest{
		TriggerType:    "client_created",
		OrganizationID: e.orgID.String(),
		Record:         map[string]any{"name": "Acme"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Triggered)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, e.sender.sends(), 3)
	assert.Equal(t, 1, e.store.markFiredCalls)

	batches := e.store.ruleBatches(rule.ID)
	require.Len(t, batches, 1)
	batch := batches[0]
	assert.Equal(t, 2, batch.SentCount)
	assert.Equal(t, 1, batch.FailedCount)
}

func TestTriggerService_EmptyRecipientsNotCounted(t *testing.T) {
	e := newEngine()
	e.store.lists[e.listID] = []model.Contact{{Email: "gone@x.com", Subscribed: boolPtr(false)}}
	rule := e.rule("welcome", model.TriggerLeadCreated, `{}`, 0)

	res, err := e.triggers.Process(context.Background(), TriggerRequest{
		TriggerType:    "lead_created",
		OrganizationID: e.orgID.String(),
		Record:         map[string]any{},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, res.Triggered)
	assert.Empty(t, e.sender.sends())
	assert.Equal(t, int64(0), e.store.rule(rule.ID).TotalTriggered)
}

func TestTriggerService_MissingProviderConfigFailsSends(t *testing.T) {
	e := newEngine()
	delete(e.store.configs, e.orgID)
	e.store.lists[e.listID] = []model.Contact{{Email: "a@x.com"}}
	rule := e.rule("welcome", model.TriggerLeadCreated, `{}`, 0)

	res, err := e.triggers.Process(context.Background(), TriggerRequest{
		TriggerType:    "lead_created",
		OrganizationID: e.orgID.String(),
		Record:         map[string]any{},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Triggered)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, e.sender.sends())

	require.Len(t, res.Firings, 1)
	assert.Equal(t, rule.ID, res.Firings[0].RuleID)
	records, _ := e.store.ListSendRecords(context.Background(), res.Firings[0].BatchID)
	require.Len(t, records, 1)
	assert.Equal(t, model.SendStatusFailed, records[0].Status)
	assert.Contains(t, records[0].ErrorMessage, ErrProviderNotSet.Error())
}

func TestTriggerService_DelayedRuleEnqueues(t *testing.T) {
	e := newEngine()
	e.store.lists[e.listID] = []model.Contact{{Email: "a@x.com", Name: "Ann"}, {Email: "b@x.com"}}
	rule := e.rule("follow-up", model.TriggerLeadCreated, `{}`, 15*time.Minute)
	firedAt := e.clock.Now()

	res, err := e.triggers.Process(context.Background(), TriggerRequest{
		TriggerType:    "lead_created",
		OrganizationID: e.orgID.String(),
		Record:         map[string]any{"source": "web"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Triggered)
	assert.Equal(t, 2, res.Enqueued)
	assert.Empty(t, e.sender.sends())
	assert.Equal(t, int64(1), e.store.rule(rule.ID).TotalTriggered)

	items := e.store.queueItems()
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, model.QueueStatusPending, it.Status)
		assert.Equal(t, firedAt.Add(15*time.Minute), it.ScheduledFor)
		assert.Equal(t, rule.ID, it.AutomationID)
		assert.Equal(t, "web", it.MergeVariables["source"])
	}
}

func TestTriggerService_MultipleRulesAllFire(t *testing.T) {
	e := newEngine()
	e.store.lists[e.listID] = []model.Contact{{Email: "a@x.com"}}
	r1 := e.rule("one", model.TriggerSubscriptionCanceled, `{}`, 0)
	r2 := e.rule("two", model.TriggerSubscriptionCanceled, `{"to_status":"canceled"}`, 0)

	res, err := e.triggers.Process(context.Background(), TriggerRequest{
		TriggerType:    "subscription_canceled",
		OrganizationID: e.orgID.String(),
		Record:         map[string]any{"status": "canceled"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Triggered)
	assert.Len(t, e.sender.sends(), 2)
	assert.Equal(t, int64(1), e.store.rule(r1.ID).TotalTriggered)
	assert.Equal(t, int64(1), e.store.rule(r2.ID).TotalTriggered)
}
