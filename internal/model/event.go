package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DomainEvent is one business event offered to the rule matcher.
// A nil OldRecord means the event carries no previous state.
type DomainEvent struct {
	EventID        string
	TriggerType    TriggerType
	OrganizationID uuid.UUID
	Record         map[string]any
	OldRecord      map[string]any
}

// ProviderEvent is one raw delivery event reported by the provider.
type ProviderEvent struct {
	Email     string
	Date      time.Time
	MessageID string
	Event     string
	Subject   string
	Tag       string
	Reason    string
}

// providerEventStatus maps provider event names onto send statuses.
// Names without an entry (deferred, unsubscribed, ...) only seed a record.
var providerEventStatus = map[string]SendStatus{
	"requests":      SendStatusSent,
	"request":       SendStatusSent,
	"sent":          SendStatusSent,
	"delivered":     SendStatusDelivered,
	"opened":        SendStatusOpened,
	"open":          SendStatusOpened,
	"uniqueopened":  SendStatusOpened,
	"loadedbyproxy": SendStatusOpened,
	"clicks":        SendStatusClicked,
	"click":         SendStatusClicked,
	"clicked":       SendStatusClicked,
	"hardbounces":   SendStatusBounced,
	"hard_bounce":   SendStatusBounced,
	"hardbounce":    SendStatusBounced,
	"softbounces":   SendStatusBounced,
	"soft_bounce":   SendStatusBounced,
	"softbounce":    SendStatusBounced,
	"bounced":       SendStatusBounced,
	"invalid":       SendStatusBounced,
	"blocked":       SendStatusBlocked,
	"spam":          SendStatusSpam,
	"complaint":     SendStatusSpam,
}

// Status returns the send status the event implies, if any.
func (e ProviderEvent) Status() (SendStatus, bool) {
	s, ok := providerEventStatus[strings.ToLower(strings.TrimSpace(e.Event))]
	return s, ok
}

// NormalizeEmail is the key recipients are grouped and stored under.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
