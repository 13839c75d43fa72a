package vcs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerInspector wraps an Inspector with a circuit breaker so that a git
// that keeps failing or hanging is skipped quickly in a long-lived process.
// An open breaker surfaces as an ordinary query error.
type BreakerInspector struct {
	next Inspector
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerInspector trips after five consecutive failures and probes again
// after cooldown.
func NewBreakerInspector(next Inspector, cooldown time.Duration) *BreakerInspector {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "git",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// answers about the repository are not failures of git itself
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotRepository) || errors.Is(err, ErrDetachedHead)
		},
	})
	return &BreakerInspector{next: next, cb: cb}
}

func (b *BreakerInspector) CurrentBranch(ctx context.Context, dir string) (string, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.CurrentBranch(ctx, dir)
	})
	if err != nil {
		return "", breakerErr(err)
	}
	return res.(string), nil
}

func (b *BreakerInspector) HeadPushed(ctx context.Context, dir string) (bool, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.HeadPushed(ctx, dir)
	})
	if err != nil {
		return false, breakerErr(err)
	}
	return res.(bool), nil
}

func (b *BreakerInspector) RewritePushed(ctx context.Context, dir, base string) (bool, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.RewritePushed(ctx, dir, base)
	})
	if err != nil {
		return false, breakerErr(err)
	}
	return res.(bool), nil
}

// State reports the breaker state for health output.
func (b *BreakerInspector) State() string {
	return b.cb.State().String()
}

func breakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("git queries suspended: %w", err)
	}
	return err
}
