package database

import (
	"errors"
	"fmt"
	"strings"
)

// ErrTransient marks persistence failures that are safe to retry:
// busy/locked databases, interrupted connections. Callers retry these
// with backoff; after the retry budget they surface as run failures.
var ErrTransient = errors.New("transient persistence error")

// ErrPermanent marks persistence failures that retrying cannot fix:
// constraint violations, schema mismatches. These are never retried.
var ErrPermanent = errors.New("permanent persistence error")

// Transient wraps err as a retriable persistence error.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Permanent wraps err as a non-retriable persistence error.
func Permanent(err error) error {
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Classify wraps a raw driver error as transient or permanent based on
// the failure mode. SQLite reports lock contention and constraint
// violations through error text; modernc.org/sqlite preserves these.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrPermanent) {
		return err
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "constraint"),
		strings.Contains(msg, "no such table"),
		strings.Contains(msg, "no such column"),
		strings.Contains(msg, "datatype mismatch"):
		return Permanent(err)
	default:
		return Transient(err)
	}
}

// IsTransient reports whether err is retriable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsPermanent reports whether err is a non-retriable persistence failure.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}
