package model

import "github.com/google/uuid"

// Contact is a member of a recipient list. A nil Subscribed means subscribed.
type Contact struct {
	ID         uuid.UUID
	Email      string
	Name       string
	Subscribed *bool
}

func (c Contact) IsSubscribed() bool {
	return c.Subscribed == nil || *c.Subscribed
}
