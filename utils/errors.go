package utils

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOutsideSchedule means the account's sending window is closed.
	ErrOutsideSchedule = errors.New("outside sending schedule")

	// ErrReputationTooLow means the account is below the sending floor.
	ErrReputationTooLow = errors.New("account reputation below sending threshold")

	// ErrAlreadySyncing means another worker holds the inbox sync slot.
	ErrAlreadySyncing = errors.New("inbox sync already in progress")

	// ErrCircuitOpen means the SMTP circuit breaker is rejecting sends.
	ErrCircuitOpen = errors.New("mail transport circuit open")
)

// QuotaExceededError is returned when a daily or hourly quota denies a
// reservation. RetryAfter tells the caller when trying again makes sense.
type QuotaExceededError struct {
	Scope      string // "daily" or "hourly"
	RetryAfter time.Duration
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%s sending quota exceeded, retry after %s", e.Scope, e.RetryAfter.Round(time.Second))
}

// IsQuotaExceeded reports whether err is a quota denial and returns it.
func IsQuotaExceeded(err error) (*QuotaExceededError, bool) {
	var qe *QuotaExceededError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// TransportError wraps an SMTP-level failure so callers can distinguish
// delivery faults from quota or schedule denials.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mail transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
