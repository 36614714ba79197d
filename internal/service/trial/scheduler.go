package trial

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"automation-engine/internal/model"
	"automation-engine/internal/service/automation"
	"automation-engine/pkg/logger"
	"automation-engine/pkg/trace"
)

var DefaultWindows = []int{7, 3, 1}

type Store interface {
	ListExpiringTrials(ctx context.Context, now, until time.Time) ([]model.Trial, error)
	ClaimTrialNotification(ctx context.Context, orgID uuid.UUID, daysBefore int, at time.Time) (bool, error)
	ReleaseTrialNotification(ctx context.Context, orgID uuid.UUID, daysBefore int) error
}

// Trigger is the automation entrypoint trial events are fed into.
type Trigger interface {
	Process(ctx context.Context, req automation.TriggerRequest) (automation.TriggerResult, error)
}

type Config struct {
	PlatformOrganizationID string        `yaml:"platform_organization_id"`
	Windows                []int         `yaml:"windows"`
	Interval               time.Duration `yaml:"interval"`
}

type TickResult struct {
	Checked   int `json:"checked"`
	Triggered int `json:"triggered"`
	Errors    int `json:"errors"`
}

// Scheduler emits one trial_expiring trigger per trial and window.
type Scheduler struct {
	store      Store
	trigger    Trigger
	platformID uuid.UUID
	windows    []int
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewScheduler(cfg Config, store Store, trigger Trigger, logger *zap.Logger) (*Scheduler, error) {
	platformID, err := uuid.Parse(cfg.PlatformOrganizationID)
	if err != nil {
		return nil, fmt.Errorf("invalid platform organization id: %w", err)
	}

	windows := slices.Clone(cfg.Windows)
	if len(windows) == 0 {
		windows = slices.Clone(DefaultWindows)
	}
	windows = slices.DeleteFunc(windows, func(d int) bool { return d <= 0 })
	slices.Sort(windows)
	windows = slices.Compact(windows)
	if len(windows) == 0 {
		return nil, fmt.Errorf("trial windows must be positive day counts")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}

	return &Scheduler{
		store:      store,
		trigger:    trigger,
		platformID: platformID,
		windows:    windows,
		interval:   interval,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Starting trial expiry scheduler",
		zap.Duration("interval", s.interval),
		zap.Ints("windows", s.windows),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Trial expiry scheduler stopped")
			return
		case <-ticker.C:
			tickCtx := trace.WithContext(ctx, trace.GenerateTraceID())
			if _, err := s.Tick(tickCtx); err != nil {
				logger.WithTrace(tickCtx, s.logger).Error("Trial tick failed", zap.Error(err))
			}
		}
	}
}

// Tick notifies every trial whose remaining days hit a window that has not
// been notified yet. A failed trigger releases its claim so the next tick retries.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult
	now := s.now()
	log := logger.WithTrace(ctx, s.logger)

	horizon := now.Add(time.Duration(s.windows[len(s.windows)-1]) * 24 * time.Hour)
	trials, err := s.store.ListExpiringTrials(ctx, now, horizon)
	if err != nil {
		return result, fmt.Errorf("failed to list expiring trials: %w", err)
	}

	for _, t := range trials {
		result.Checked++
		days := t.DaysRemaining(now)
		if !slices.Contains(s.windows, days) {
			continue
		}

		tlog := log.With(
			zap.String("trial_organization_id", t.OrganizationID.String()),
			zap.Int("days_remaining", days),
		)

		claimed, err := s.store.ClaimTrialNotification(ctx, t.OrganizationID, days, now)
		if err != nil {
			result.Errors++
			tlog.Error("Failed to claim trial notification", zap.Error(err))
			continue
		}
		if !claimed {
			continue
		}

		if _, err := s.trigger.Process(ctx, s.request(t, days)); err != nil {
			result.Errors++
			tlog.Error("Failed to trigger trial expiry automation", zap.Error(err))
			if err := s.store.ReleaseTrialNotification(ctx, t.OrganizationID, days); err != nil {
				tlog.Error("Failed to release trial notification", zap.Error(err))
			}
			continue
		}
		result.Triggered++
	}

	log.Info("Trial tick completed",
		zap.Int("checked", result.Checked),
		zap.Int("triggered", result.Triggered),
		zap.Int("errors", result.Errors),
	)
	return result, nil
}

func (s *Scheduler) request(t model.Trial, days int) automation.TriggerRequest {
	return automation.TriggerRequest{
		EventID:        fmt.Sprintf("trial_expiring:%s:%d", t.OrganizationID, days),
		TriggerType:    string(model.TriggerTrialExpiring),
		OrganizationID: s.platformID.String(),
		Record: map[string]any{
			"status":            "trialing",
			"days_remaining":    days,
			"organization_id":   t.OrganizationID.String(),
			"organization_name": t.OrganizationName,
			"email":             t.OwnerEmail,
			"name":              t.OwnerName,
			"trial_ends_at":     t.TrialEndsAt.UTC().Format(time.RFC3339),
		},
	}
}
