// Package faults defines the error taxonomy shared across the ingestion and
// query pipelines. Components wrap their own sentinel errors over these kinds
// so callers can decide between rejecting, retrying, and failing terminally
// with errors.Is.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned for bad input shape or range. Validation
	// errors are surfaced to the caller immediately and never retried.
	ErrValidation = errors.New("validation error")

	// ErrTransient is returned for network and rate-limit failures from an
	// external backend. Transient errors are retried with backoff and only
	// escalate once the retry budget is exhausted.
	ErrTransient = errors.New("transient backend error")

	// ErrIrrecoverable is returned when a stage cannot make progress at all,
	// e.g. a document that cannot be parsed or an exceeded error tolerance.
	ErrIrrecoverable = errors.New("irrecoverable error")
)

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsTransient reports whether err is a transient backend error.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// IsIrrecoverable reports whether err is an irrecoverable error.
func IsIrrecoverable(err error) bool { return errors.Is(err, ErrIrrecoverable) }

// Validation wraps err as a validation error.
func Validation(err error) error { return fmt.Errorf("%w: %w", ErrValidation, err) }

// Transient wraps err as a transient backend error.
func Transient(err error) error { return fmt.Errorf("%w: %w", ErrTransient, err) }

// Irrecoverable wraps err as an irrecoverable error.
func Irrecoverable(err error) error { return fmt.Errorf("%w: %w", ErrIrrecoverable, err) }
