package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/Slipstreamm/openguard/pkg/util"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotAppealable     = errors.New("infraction is not appealable")
	ErrAppealExists      = errors.New("a pending appeal already exists")
	ErrGuildRemoved      = errors.New("guild removed")
)

// ExtractionError means an external classifier was unavailable. The event
// continues with no signal from that extractor.
type ExtractionError struct {
	Extractor string
	Err       error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extractor %s: %v", e.Extractor, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// PolicyUnavailableError means the policy store could not be read. The
// engine fails closed and skips enforcement.
type PolicyUnavailableError struct {
	GuildID util.Snowflake
	Err     error
}

func (e *PolicyUnavailableError) Error() string {
	return fmt.Sprintf("policy for guild %s unavailable: %v", e.GuildID, e.Err)
}

func (e *PolicyUnavailableError) Unwrap() error { return e.Err }

// EnforcementError is a failed platform action. Transient errors are retried
// by the executor; permanent ones are surfaced and never retried.
type EnforcementError struct {
	Action     ActionKind
	StatusCode int
	Transient  bool
	RetryAfter time.Duration
	Err        error
}

func (e *EnforcementError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s enforcement failure (status %d): %v", kind, e.Action, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s enforcement failure: %v", kind, e.Action, e.Err)
}

func (e *EnforcementError) Unwrap() error { return e.Err }

func IsTransient(err error) bool {
	var ee *EnforcementError
	return errors.As(err, &ee) && ee.Transient
}

// ConfirmationTimeoutError is the expected terminal state of a confirmation
// nobody answered. It is reported, not treated as a failure.
type ConfirmationTimeoutError struct {
	ConfirmationID string
	Key            ConfirmationKey
	After          time.Duration
}

func (e *ConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("confirmation %s for %s on %s expired after %s", e.ConfirmationID, e.Key.Action, e.Key.TargetID, e.After)
}
