package finnhub

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrKind classifies a fetch failure for retry decisions.
type ErrKind int

const (
	// ErrKindTransient covers transport failures and 5xx responses.
	ErrKindTransient ErrKind = iota
	// ErrKindRateLimited covers HTTP 429 responses.
	ErrKindRateLimited
	// ErrKindPermanent covers everything that retrying will not fix.
	ErrKindPermanent
)

// String returns a human-readable name for the error kind.
func (k ErrKind) String() string {
	switch k {
	case ErrKindTransient:
		return "transient"
	case ErrKindRateLimited:
		return "rate_limited"
	case ErrKindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is a classified fetch failure.
type Error struct {
	Kind ErrKind
	Err  error
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is worth retrying.
func (e *Error) Retryable() bool {
	return e.Kind == ErrKindTransient || e.Kind == ErrKindRateLimited
}

// IsRetryable reports whether err is a classified, retryable fetch error.
func IsRetryable(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Retryable()
}

// RetryPolicy controls retries of transient fetch failures: bounded attempt
// count with exponential backoff between attempts.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy mirrors the upstream rate-limit guidance: five attempts,
// delays doubling from 2s and capped at 20s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    20 * time.Second,
	}
}

// Do runs fn until it succeeds, fails permanently, or attempts are
// exhausted. The last error is surfaced; data is never silently dropped.
func (p RetryPolicy) Do(ctx context.Context, log zerolog.Logger, fn func() error) error {
	delay := p.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}

		log.Warn().
			Err(lastErr).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Msg("Retryable fetch failure, backing off")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return lastErr
}
