package model

import (
	"time"

	"github.com/google/uuid"
)

type BatchKind string

const (
	BatchKindCampaign   BatchKind = "campaign"
	BatchKindAutomation BatchKind = "automation"
)

// Batch is the unit provider events are reconciled against: a campaign, or
// one firing of an automation.
type Batch struct {
	ID              uuid.UUID
	OrganizationID  uuid.UUID
	AutomationID    *uuid.UUID
	Kind            BatchKind
	Name            string
	Subject         string
	Tag             string
	CreatedAt       time.Time
	TotalRecipients int
	SentCount       int
	FailedCount     int
}

// BatchCounts are the aggregate counters written back to a batch.
type BatchCounts struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// CountRecords splits records into delivered-so-far and failed.
func CountRecords(records []SendRecord) BatchCounts {
	counts := BatchCounts{Total: len(records)}
	for _, r := range records {
		if r.Status.IsFailure() {
			counts.Failed++
		} else {
			counts.Sent++
		}
	}
	return counts
}
