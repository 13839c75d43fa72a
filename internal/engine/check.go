package engine

import "context"

// Check is the interface every policy check must implement.
// Implementations own their rule sets, never mutate the event, and must
// respect context deadlines.
type Check interface {
	// Name returns the check's unique identifier.
	Name() string

	// Evaluate runs the check against the event. A returned error is a
	// fault: the dispatcher logs it and treats the check as allowing.
	Evaluate(ctx context.Context, ev *Event) (*CheckResult, error)
}
