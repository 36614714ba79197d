package model

import (
	"time"

	"github.com/google/uuid"
)

// Trial is an organization whose trial subscription is about to end.
type Trial struct {
	OrganizationID   uuid.UUID
	OrganizationName string
	OwnerEmail       string
	OwnerName        string
	TrialEndsAt      time.Time
}

// DaysRemaining counts whole days from now until the trial ends, rounding up.
func (t Trial) DaysRemaining(now time.Time) int {
	d := t.TrialEndsAt.Sub(now)
	if d <= 0 {
		return 0
	}
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days
}
