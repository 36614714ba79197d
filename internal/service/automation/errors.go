package automation

import (
	"errors"
	"fmt"
)

var (
	ErrBatchNotFound       = errors.New("batch not found")
	ErrRuleNotFound        = errors.New("automation rule not found")
	ErrRuleInUse           = errors.New("automation rule is referenced by queued sends")
	ErrProviderUnavailable = errors.New("delivery provider unavailable")
	ErrProviderNotSet      = errors.New("delivery provider not configured for organization")
)

// ValidationError is a malformed request. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Retryable() bool { return false }

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Outcome is the result of one send attempt.
type Outcome struct {
	Email     string
	Name      string
	MessageID string
	Err       error
}

func (o Outcome) OK() bool { return o.Err == nil }
