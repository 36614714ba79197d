package model

import (
	"time"

	"github.com/google/uuid"
)

type SendStatus string

const (
	SendStatusSent      SendStatus = "sent"
	SendStatusDelivered SendStatus = "delivered"
	SendStatusOpened    SendStatus = "opened"
	SendStatusClicked   SendStatus = "clicked"
	SendStatusBounced   SendStatus = "bounced"
	SendStatusBlocked   SendStatus = "blocked"
	SendStatusSpam      SendStatus = "spam"
	// SendStatusFailed marks a dispatch the provider never accepted.
	SendStatusFailed SendStatus = "failed"
)

var progressRank = map[SendStatus]int{
	SendStatusSent:      1,
	SendStatusDelivered: 2,
	SendStatusOpened:    3,
	SendStatusClicked:   4,
}

// IsFailure reports whether the status counts against the batch.
func (s SendStatus) IsFailure() bool {
	switch s {
	case SendStatusBounced, SendStatusBlocked, SendStatusSpam, SendStatusFailed:
		return true
	}
	return false
}

// Advance returns the status after observing next.
// Provider failures are sticky and win over progress; progress only moves forward.
// A local dispatch failure is replaced by whatever the provider reports.
func Advance(current, next SendStatus) SendStatus {
	switch {
	case current == "" || current == SendStatusFailed:
		return next
	case current.IsFailure():
		return current
	case next.IsFailure():
		return next
	case progressRank[next] > progressRank[current]:
		return next
	default:
		return current
	}
}

// SendRecord is the per-recipient delivery state of a batch.
type SendRecord struct {
	ID                uuid.UUID
	BatchID           uuid.UUID
	RecipientEmail    string
	RecipientName     string
	ProviderMessageID string
	Status            SendStatus
	SentAt            *time.Time
	OpenedAt          *time.Time
	ClickedAt         *time.Time
	ErrorMessage      string
	UpdatedAt         time.Time
}

// Apply folds one provider event into the record.
func (r *SendRecord) Apply(ev ProviderEvent) {
	if r.ProviderMessageID == "" && ev.MessageID != "" {
		r.ProviderMessageID = ev.MessageID
	}
	if r.SentAt == nil {
		r.SentAt = timePtr(ev.Date)
	}

	next, ok := ev.Status()
	if !ok {
		return
	}

	before := r.Status
	r.Status = Advance(r.Status, next)

	switch next {
	case SendStatusOpened:
		if r.OpenedAt == nil {
			r.OpenedAt = timePtr(ev.Date)
		}
	case SendStatusClicked:
		if r.ClickedAt == nil {
			r.ClickedAt = timePtr(ev.Date)
		}
	}

	if r.Status != before {
		switch {
		case r.Status.IsFailure():
			r.ErrorMessage = ev.Reason
			if r.ErrorMessage == "" {
				r.ErrorMessage = ev.Event
			}
		case before == SendStatusFailed:
			r.ErrorMessage = ""
		}
	}
}

// Clone returns a deep copy.
func (r SendRecord) Clone() SendRecord {
	out := r
	out.SentAt = copyTime(r.SentAt)
	out.OpenedAt = copyTime(r.OpenedAt)
	out.ClickedAt = copyTime(r.ClickedAt)
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
