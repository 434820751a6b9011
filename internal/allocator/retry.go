package allocator

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/ttani03/lan-ipam/internal/ledger"
	"github.com/ttani03/lan-ipam/internal/metrics"
)

// IsContention reports whether err came from a concurrent claim on the same
// row; such attempts are rolled back and retried.
func IsContention(err error) bool {
	return errors.Is(err, ledger.ErrConflict) || errors.Is(err, ledger.ErrRowInUse)
}

// retry runs fn up to attempts times while it fails with contention.
func retry(ctx context.Context, log *logrus.Entry, op string, attempts int, fn func() error) error {
	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn()
		if !IsContention(err) {
			return err
		}
		metrics.IncClaimRetry(op)
		log.WithError(err).WithField("attempt", attempt).Warn("concurrent claim detected, retrying")
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return ErrRetriesExhausted
}

// Outcome classifies an engine error for metrics and logs. Callers outside
// the service collapse every non-success outcome into one generic failure.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrInvalidAddress):
		return "invalid"
	case errors.Is(err, ErrAddressInUse):
		return "in_use"
	case errors.Is(err, ErrNoFreeAddress):
		return "exhausted"
	case errors.Is(err, ErrRetriesExhausted):
		return "contention"
	case errors.Is(err, ErrSubnetNotFound), errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
