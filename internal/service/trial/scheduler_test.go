package trial

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"automation-engine/internal/model"
	"automation-engine/internal/service/automation"
)

type claimKey struct {
	org  uuid.UUID
	days int
}

type memTrials struct {
	mu       sync.Mutex
	trials   []model.Trial
	notified map[claimKey]bool
	until    time.Time
}

func (m *memTrials) ListExpiringTrials(_ context.Context, now, until time.Time) ([]model.Trial, error) {
	m.until = until
	var out []model.Trial
	for _, t := range m.trials {
		if t.TrialEndsAt.After(now) && !t.TrialEndsAt.After(until) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memTrials) ClaimTrialNotification(_ context.Context, orgID uuid.UUID, days int, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := claimKey{orgID, days}
	if m.notified[k] {
		return false, nil
	}
	m.notified[k] = true
	return true, nil
}

func (m *memTrials) ReleaseTrialNotification(_ context.Context, orgID uuid.UUID, days int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.notified, claimKey{orgID, days})
	return nil
}

type recordingTrigger struct {
	requests []automation.TriggerRequest
	err      error
}

func (r *recordingTrigger) Process(_ context.Context, req automation.TriggerRequest) (automation.TriggerResult, error) {
	r.requests = append(r.requests, req)
	if r.err != nil {
		return automation.TriggerResult{}, r.err
	}
	return automation.TriggerResult{Triggered: 1}, nil
}

func newTestScheduler(t *testing.T, now time.Time, trials ...model.Trial) (*Scheduler, *memTrials, *recordingTrigger, uuid.UUID) {
	t.Helper()
	store := &memTrials{trials: trials, notified: map[claimKey]bool{}}
	trigger := &recordingTrigger{}
	platform := uuid.New()
	s, err := NewScheduler(Config{PlatformOrganizationID: platform.String()}, store, trigger, zap.NewNop())
	require.NoError(t, err)
	return s.WithClock(func() time.Time { return now }), store, trigger, platform
}

func TestScheduler_TickNotifiesMatchingWindows(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	week := model.Trial{OrganizationID: uuid.New(), OrganizationName: "Acme", OwnerEmail: "o@acme.io", OwnerName: "Olga", TrialEndsAt: now.Add(6*24*time.Hour + time.Hour)}
	five := model.Trial{OrganizationID: uuid.New(), OrganizationName: "Beta", OwnerEmail: "b@beta.io", TrialEndsAt: now.Add(5 * 24 * time.Hour)}
	tomorrow := model.Trial{OrganizationID: uuid.New(), OrganizationName: "Gamma", OwnerEmail: "g@gamma.io", TrialEndsAt: now.Add(12 * time.Hour)}

	s, store, trigger, platform := newTestScheduler(t, now, week, five, tomorrow)

	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickResult{Checked: 3, Triggered: 2}, res)
	assert.Equal(t, now.Add(7*24*time.Hour), store.until)

	require.Len(t, trigger.requests, 2)
	req := trigger.requests[0]
	assert.Equal(t, "trial_expiring", req.TriggerType)
	assert.Equal(t, platform.String(), req.OrganizationID)
	assert.Equal(t, 7, req.Record["days_remaining"])
	assert.Equal(t, "Acme", req.Record["organization_name"])
	assert.Equal(t, "o@acme.io", req.Record["email"])
	assert.Equal(t, "trialing", req.Record["status"])
	assert.Equal(t, 1, trigger.requests[1].Record["days_remaining"])

	res, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Triggered)
	assert.Len(t, trigger.requests, 2)
}

func TestScheduler_FailedTriggerIsRetried(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	tr := model.Trial{OrganizationID: uuid.New(), OwnerEmail: "o@acme.io", TrialEndsAt: now.Add(3 * 24 * time.Hour)}
	s, _, trigger, _ := newTestScheduler(t, now, tr)

	trigger.err = errors.New("database unavailable")
	res, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickResult{Checked: 1, Errors: 1}, res)

	trigger.err = nil
	res, err = s.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, TickResult{Checked: 1, Triggered: 1}, res)
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := NewScheduler(Config{PlatformOrganizationID: "platform"}, &memTrials{}, &recordingTrigger{}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewScheduler(Config{PlatformOrganizationID: uuid.NewString(), Windows: []int{0, -2}}, &memTrials{}, &recordingTrigger{}, zap.NewNop())
	assert.Error(t, err)

	s, err := NewScheduler(Config{PlatformOrganizationID: uuid.NewString(), Windows: []int{3, 14, 3}}, &memTrials{}, &recordingTrigger{}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []int{3, 14}, s.windows)
}
