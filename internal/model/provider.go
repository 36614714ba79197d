package model

import "time"

// ProviderConfig is the delivery provider account of one organization.
type ProviderConfig struct {
	APIKey      string
	BaseURL     string
	SenderEmail string
	SenderName  string
}

// OutboundMessage is one templated send to one recipient.
type OutboundMessage struct {
	TemplateID int64
	Email      string
	Name       string
	Variables  map[string]string
	Tags       []string
}

// EventQuery selects one page of provider events.
type EventQuery struct {
	From     time.Time
	To       time.Time
	Page     int
	PageSize int
	Tag      string
}

// EventPage is one page of provider events.
type EventPage struct {
	Events  []ProviderEvent
	HasMore bool
}
