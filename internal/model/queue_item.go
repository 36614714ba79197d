package model

import (
	"time"

	"github.com/google/uuid"
)

type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
)

// QueueItem is a delayed send waiting for its scheduled time.
type QueueItem struct {
	ID             uuid.UUID
	AutomationID   uuid.UUID
	BatchID        uuid.UUID
	OrganizationID uuid.UUID
	RecipientEmail string
	RecipientName  string
	MergeVariables map[string]string
	TemplateID     int64
	ScheduledFor   time.Time
	Status         QueueStatus
	LastError      string
	CreatedAt      time.Time
	ProcessedAt    *time.Time
}
