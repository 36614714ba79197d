package mqhandler

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	mqcontracts "automation-engine/contracts/mq"
	"automation-engine/internal/service/automation"
)

type memDeduper struct {
	seen     map[string]bool
	released []string
}

func (d *memDeduper) AcquireOnce(_ context.Context, handler, key string) bool {
	k := handler + ":" + key
	if d.seen[k] {
		return false
	}
	d.seen[k] = true
	return true
}

func (d *memDeduper) Release(_ context.Context, handler, key string) {
	delete(d.seen, handler+":"+key)
	d.released = append(d.released, key)
}

type memCounter struct{ counts map[string]int64 }

func (c *memCounter) IncrementAndGet(_ context.Context, key string) (int64, error) {
	c.counts[key]++
	return c.counts[key], nil
}

func (c *memCounter) Reset(_ context.Context, key string) error {
	delete(c.counts, key)
	return nil
}

type dlqMessage struct {
	routingKey string
	reason     string
}

type memDLQ struct{ messages []dlqMessage }

func (q *memDLQ) PublishToDLQ(_ context.Context, routingKey string, _ []byte, reason string) error {
	q.messages = append(q.messages, dlqMessage{routingKey, reason})
	return nil
}

type stubTrigger struct {
	calls int
	err   error
}

func (s *stubTrigger) Process(_ context.Context, req automation.TriggerRequest) (automation.TriggerResult, error) {
	s.calls++
	if s.err != nil {
		return automation.TriggerResult{}, s.err
	}
	if _, err := req.Event(); err != nil {
		return automation.TriggerResult{}, err
	}
	return automation.TriggerResult{Triggered: 1, Sent: 1}, nil
}

type handlerFixture struct {
	handler *TriggerHandler
	trigger *stubTrigger
	deduper *memDeduper
	counter *memCounter
	dlq     *memDLQ
}

func newHandlerFixture() *handlerFixture {
	f := &handlerFixture{
		trigger: &stubTrigger{},
		deduper: &memDeduper{seen: map[string]bool{}},
		counter: &memCounter{counts: map[string]int64{}},
		dlq:     &memDLQ{},
	}
	f.handler = NewTriggerHandler(f.trigger, f.deduper, f.counter, f.dlq, zap.NewNop())
	return f
}

func payload(t *testing.T, p mqcontracts.TriggerPayload) []byte {
	t.Helper()
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return b
}

var validPayload = mqcontracts.TriggerPayload{
	EventID:        "evt-1",
	TriggerType:    "lead_created",
	OrganizationID: "6f1c2b8e-1d2a-4a57-9a43-52b0f4c8e001",
	Record:         map[string]any{"status": "new"},
}

func TestTriggerHandler_DuplicateEventProcessedOnce(t *testing.T) {
	f := newHandlerFixture()
	data := payload(t, validPayload)

	require.NoError(t, f.handler.Handle(context.Background(), data))
	require.NoError(t, f.handler.Handle(context.Background(), data))
	assert.Equal(t, 1, f.trigger.calls)
}

func TestTriggerHandler_ValidationErrorIsAcked(t *testing.T) {
	f := newHandlerFixture()
	p := validPayload
	p.TriggerType = "deal_won"

	assert.NoError(t, f.handler.Handle(context.Background(), payload(t, p)))
	assert.Empty(t, f.dlq.messages)
	assert.Empty(t, f.deduper.released)
}

func TestTriggerHandler_BadJSONGoesToDLQ(t *testing.T) {
	f := newHandlerFixture()

	assert.NoError(t, f.handler.Handle(context.Background(), []byte(`{"event_id":`)))
	require.Len(t, f.dlq.messages, 1)
	assert.Equal(t, mqcontracts.RoutingKeyAutomationTrigger, f.dlq.messages[0].routingKey)
	assert.Zero(t, f.trigger.calls)
}

func TestTriggerHandler_TransientErrorRequeuesThenDeadLetters(t *testing.T) {
	f := newHandlerFixture()
	f.trigger.err = &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	data := payload(t, validPayload)

	for i := 0; i < maxRetries; i++ {
		err := f.handler.Handle(context.Background(), data)
		require.Error(t, err)
	}
	assert.Empty(t, f.dlq.messages)
	assert.Len(t, f.deduper.released, maxRetries)

	assert.NoError(t, f.handler.Handle(context.Background(), data))
	require.Len(t, f.dlq.messages, 1)
	assert.Contains(t, f.dlq.messages[0].reason, "network_error")
	assert.Equal(t, maxRetries+1, f.trigger.calls)
}

func TestTriggerHandler_PermanentErrorDeadLettersImmediately(t *testing.T) {
	f := newHandlerFixture()
	f.trigger.err = errors.New("rule store exploded")

	assert.NoError(t, f.handler.Handle(context.Background(), payload(t, validPayload)))
	require.Len(t, f.dlq.messages, 1)
	assert.Contains(t, f.dlq.messages[0].reason, "unknown_error")
}
