package distribution

import (
	"errors"
	"fmt"
	"time"

	"syndicate/internal/platform"
)

var (
	ErrRetryLimit  = errors.New("retry limit reached")
	ErrBreakerOpen = errors.New("circuit breaker open")
	ErrRateLimited = errors.New("rate limited")
	ErrNoChannel   = errors.New("no enabled channel")
	ErrDisabled    = errors.New("distribution disabled")
)

// ValidationError rejects malformed input before any record is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the kind ("record", "channel", "content") and id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

type StateTransitionError struct {
	ID   string
	From Status
	To   Status
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("record %s: cannot move from %s to %s", e.ID, e.From, e.To)
}

// ConnectorError is a failed platform call. It only lives inside a single
// dispatch; callers see it as the record's Error field.
type ConnectorError struct {
	Platform    platform.Platform
	Message     string
	RateLimited bool
	RetryAfter  time.Duration
}

func (e *ConnectorError) Error() string {
	if e.RateLimited {
		return fmt.Sprintf("%s: rate limited: %s", e.Platform, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Platform, e.Message)
}

func (e *ConnectorError) Is(target error) bool {
	return e.RateLimited && target == ErrRateLimited
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var v *NotFoundError
	return errors.As(err, &v)
}

func IsStateTransition(err error) bool {
	var v *StateTransitionError
	return errors.As(err, &v)
}
