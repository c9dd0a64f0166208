// Package retry implements bounded exponential backoff for transient backend
// failures. Validation and shape errors are never retried; callers gate on
// faults.IsTransient before handing an error back to Do.
package retry

import (
	"context"
	"time"

	"github.com/knowledgeco/companion/pkg/faults"
)

const (
	// DefaultAttempts is the total call budget including the first attempt.
	DefaultAttempts = 3

	// DefaultBaseDelay is the delay before the first retry; it doubles per
	// attempt.
	DefaultBaseDelay = 200 * time.Millisecond

	// DefaultMaxDelay caps the per-retry delay.
	DefaultMaxDelay = 5 * time.Second
)

// Policy bounds a retry loop.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultPolicy returns the policy used by the embedding engine and the
// vector index adapters.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:  DefaultAttempts,
		BaseDelay: DefaultBaseDelay,
		MaxDelay:  DefaultMaxDelay,
	}
}

func (p Policy) normalized() Policy {
	if p.Attempts <= 0 {
		p.Attempts = DefaultAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	return p
}

// Do invokes fn until it succeeds, returns a non-transient error, the
// attempt budget is exhausted, or ctx is done. The last error seen is
// returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	p = p.normalized()

	var err error
	delay := p.BaseDelay

	for attempt := 0; attempt < p.Attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !faults.IsTransient(err) {
			return err
		}
	}

	return err
}
