package automation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"automation-engine/internal/model"
)

type memStore struct {
	mu sync.Mutex

	rules   map[uuid.UUID]*model.AutomationRule
	lists   map[uuid.UUID][]model.Contact
	queue   map[uuid.UUID]*model.QueueItem
	batches map[uuid.UUID]*model.Batch
	records map[uuid.UUID]map[string]model.SendRecord
	configs map[uuid.UUID]model.ProviderConfig

	markFiredCalls int
	upsertErr      error
}

func newMemStore() *memStore {
	return &memStore{
		rules:   map[uuid.UUID]*model.AutomationRule{},
		lists:   map[uuid.UUID][]model.Contact{},
		queue:   map[uuid.UUID]*model.QueueItem{},
		batches: map[uuid.UUID]*model.Batch{},
		records: map[uuid.UUID]map[string]model.SendRecord{},
		configs: map[uuid.UUID]model.ProviderConfig{},
	}
}

func (s *memStore) addRule(r model.AutomationRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule := r
	s.rules[r.ID] = &rule
}

func (s *memStore) rule(id uuid.UUID) model.AutomationRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.rules[id]
}

func (s *memStore) ListActiveRules(_ context.Context, orgID uuid.UUID, t model.TriggerType) ([]model.AutomationRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AutomationRule
	for _, r := range s.rules {
		if r.OrganizationID == orgID && r.TriggerType == t && r.IsActive {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memStore) MarkRuleFired(_ context.Context, ruleID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[ruleID]
	if !ok {
		return ErrRuleNotFound
	}
	s.markFiredCalls++
	r.TotalTriggered++
	t := at
	r.LastTriggeredAt = &t
	return nil
}

func (s *memStore) ListMembers(_ context.Context, _ uuid.UUID, listID uuid.UUID) ([]model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Contact(nil), s.lists[listID]...), nil
}

func (s *memStore) Enqueue(_ context.Context, items []model.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		item := it
		s.queue[it.ID] = &item
	}
	return nil
}

func (s *memStore) ClaimDue(_ context.Context, now time.Time, limit int) ([]model.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.QueueItem
	for _, it := range s.queue {
		if len(out) >= limit {
			break
		}
		if it.Status == model.QueueStatusPending && !it.ScheduledFor.After(now) {
			it.Status = model.QueueStatusProcessing
			out = append(out, *it)
		}
	}
	return out, nil
}

func (s *memStore) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	return s.finish(id, model.QueueStatusSent, "", at)
}

func (s *memStore) MarkFailed(_ context.Context, id uuid.UUID, reason string, at time.Time) error {
	return s.finish(id, model.QueueStatusFailed, reason, at)
}

func (s *memStore) finish(id uuid.UUID, status model.QueueStatus, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.queue[id]
	if !ok || it.Status != model.QueueStatusProcessing {
		return errors.New("queue item not in processing")
	}
	it.Status = status
	it.LastError = reason
	t := at
	it.ProcessedAt = &t
	return nil
}

func (s *memStore) queueItems() []model.QueueItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.QueueItem
	for _, it := range s.queue {
		out = append(out, *it)
	}
	return out
}

func (s *memStore) ListSendRecords(_ context.Context, batchID uuid.UUID) ([]model.SendRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SendRecord
	for _, r := range s.records[batchID] {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecipientEmail < out[j].RecipientEmail })
	return out, nil
}

func (s *memStore) UpsertSendRecord(_ context.Context, rec model.SendRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return false, s.upsertErr
	}
	byEmail, ok := s.records[rec.BatchID]
	if !ok {
		byEmail = map[string]model.SendRecord{}
		s.records[rec.BatchID] = byEmail
	}
	existing, found := byEmail[rec.RecipientEmail]
	if found {
		rec.ID = existing.ID
	} else {
		rec.ID = uuid.New()
	}
	byEmail[rec.RecipientEmail] = rec.Clone()
	return !found, nil
}

func (s *memStore) RecordDispatch(_ context.Context, rec model.SendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byEmail, ok := s.records[rec.BatchID]
	if !ok {
		byEmail = map[string]model.SendRecord{}
		s.records[rec.BatchID] = byEmail
	}
	existing, found := byEmail[rec.RecipientEmail]
	if found && existing.Status != model.SendStatusFailed {
		if rec.ProviderMessageID != "" {
			existing.ProviderMessageID = rec.ProviderMessageID
		}
		byEmail[rec.RecipientEmail] = existing
		return nil
	}
	rec.ID = uuid.New()
	byEmail[rec.RecipientEmail] = rec.Clone()
	return nil
}

func (s *memStore) GetBatch(_ context.Context, orgID, batchID uuid.UUID) (*model.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok || b.OrganizationID != orgID {
		return nil, ErrBatchNotFound
	}
	out := *b
	return &out, nil
}

func (s *memStore) CreateBatch(_ context.Context, batch model.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batch.ID]; ok {
		return errors.New("duplicate batch id")
	}
	b := batch
	s.batches[batch.ID] = &b
	return nil
}

func (s *memStore) UpdateBatchCounts(_ context.Context, batchID uuid.UUID, counts model.BatchCounts) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return ErrBatchNotFound
	}
	b.SentCount = counts.Sent
	b.FailedCount = counts.Failed
	b.TotalRecipients = counts.Total
	return nil
}

func (s *memStore) batch(id uuid.UUID) model.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.batches[id]
}

// ruleBatches returns the batches opened by a rule's firings, oldest first.
func (s *memStore) ruleBatches(ruleID uuid.UUID) []model.Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Batch
	for _, b := range s.batches {
		if b.AutomationID != nil && *b.AutomationID == ruleID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *memStore) GetProviderConfig(_ context.Context, orgID uuid.UUID) (model.ProviderConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[orgID]
	if !ok {
		return model.ProviderConfig{}, errors.New("no provider settings")
	}
	return cfg, nil
}

// fakeSender records sends; emails listed in fail return an error.
type fakeSender struct {
	mu    sync.Mutex
	sent  []model.OutboundMessage
	fail  map[string]error
	delay time.Duration
}

func (f *fakeSender) Send(ctx context.Context, _ model.ProviderConfig, msg model.OutboundMessage) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	if err, ok := f.fail[msg.Email]; ok {
		return "", err
	}
	return "<" + msg.Email + "@provider>", nil
}

func (f *fakeSender) sends() []model.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.OutboundMessage(nil), f.sent...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type engine struct {
	store    *memStore
	sender   *fakeSender
	clock    *fakeClock
	stats    *Stats
	triggers *TriggerService
	drainer  *Drainer
	orgID    uuid.UUID
	listID   uuid.UUID
}

func newEngine() *engine {
	store := newMemStore()
	sender := &fakeSender{fail: map[string]error{}}
	clock := &fakeClock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	log := zap.NewNop()

	stats := NewStats(store, store, store, log)
	scheduler := NewScheduler(store, store, store, sender, stats, log).WithClock(clock.Now).WithConcurrency(4)
	triggers := NewTriggerService(NewMatcher(store, log), NewResolver(store, log), scheduler, store, log)
	drainer := NewDrainer(store, store, store, sender, stats, log).WithClock(clock.Now)

	orgID := uuid.New()
	store.configs[orgID] = model.ProviderConfig{APIKey: "key", BaseURL: "http://provider.test"}

	return &engine{
		store:    store,
		sender:   sender,
		clock:    clock,
		stats:    stats,
		triggers: triggers,
		drainer:  drainer,
		orgID:    orgID,
		listID:   uuid.New(),
	}
}

func (e *engine) rule(name string, triggerType model.TriggerType, cfg string, delay time.Duration) model.AutomationRule {
	listID := e.listID
	r := model.AutomationRule{
		ID:             uuid.New(),
		OrganizationID: e.orgID,
		Name:           name,
		TriggerType:    triggerType,
		TriggerConfig:  []byte(cfg),
		TargetListID:   &listID,
		TemplateID:     42,
		Delay:          delay,
		IsActive:       true,
	}
	e.store.addRule(r)
	return r
}

func boolPtr(b bool) *bool { return &b }
