package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"automation-engine/pkg/trace"
)

type memStore struct {
	pending []*Event
	sent    []int64
	failed  map[int64]int
}

func (s *memStore) GetPendingEvents(_ context.Context, limit int) ([]*Event, error) {
	if len(s.pending) > limit {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *memStore) MarkAsSent(_ context.Context, id int64) error {
	s.sent = append(s.sent, id)
	return nil
}

func (s *memStore) MarkAsFailed(_ context.Context, id int64, maxRetries int) error {
	s.failed[id] = maxRetries
	return nil
}

type published struct {
	routingKey string
	body       json.RawMessage
	traceID    string
}

type memPublisher struct {
	out  []published
	fail map[string]bool
}

func (p *memPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	body := payload.(json.RawMessage)
	if p.fail[string(body)] {
		return errors.New("channel closed")
	}
	p.out = append(p.out, published{routingKey: routingKey, body: body, traceID: trace.FromContext(ctx)})
	return nil
}

func TestDispatcher_Tick(t *testing.T) {
	store := &memStore{
		pending: []*Event{
			{ID: 1, RoutingKey: "automation.rule_fired", Payload: json.RawMessage(`{"rule_id":"a","trace_id":"t-1"}`)},
			{ID: 2, RoutingKey: "automation.rule_fired", Payload: json.RawMessage(`{"rule_id":"b"}`)},
		},
		failed: map[int64]int{},
	}
	pub := &memPublisher{fail: map[string]bool{`{"rule_id":"b"}`: true}}

	n := NewDispatcher(store, pub, zap.NewNop()).WithMaxRetries(3).Tick(context.Background())

	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{1}, store.sent)
	assert.Equal(t, map[int64]int{2: 3}, store.failed)
	if assert.Len(t, pub.out, 1) {
		assert.Equal(t, "automation.rule_fired", pub.out[0].routingKey)
		assert.Equal(t, "t-1", pub.out[0].traceID)
	}
}

func TestDispatcher_TickRespectsBatchSize(t *testing.T) {
	store := &memStore{failed: map[int64]int{}}
	for i := int64(1); i <= 5; i++ {
		store.pending = append(store.pending, &Event{ID: i, Payload: json.RawMessage(`{}`)})
	}
	pub := &memPublisher{}

	n := NewDispatcher(store, pub, zap.NewNop()).WithBatchSize(2).Tick(context.Background())

	assert.Equal(t, 2, n)
	assert.Equal(t, []int64{1, 2}, store.sent)
}
