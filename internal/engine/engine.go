package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DispatchConfig controls a single dispatch.
type DispatchConfig struct {
	CheckTimeout time.Duration // per check; <= 0 means DefaultCheckTimeout
	Logger       *zap.Logger   // nil means no logging
}

// checkOutput holds a single check's outcome as sent over the result channel.
type checkOutput struct {
	result *CheckResult
	err    error
}

// Dispatch runs checks against ev sequentially, in order, and stops at the
// first block. A check that returns an error, panics or exceeds the check
// timeout is a fault: it is logged, recorded in Faults and counted as allow.
//
// Dispatch holds no state between calls.
func Dispatch(ctx context.Context, ev *Event, checks []Check, cfg DispatchConfig) *DispatchDecision {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.CheckTimeout
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}

	results := make([]*CheckResult, 0, len(checks))
	var faults []string
	for _, c := range checks {
		name := c.Name()
		res, err := runCheck(ctx, c, ev, timeout)
		if err != nil {
			logger.Warn("check fault, treating as allow",
				zap.String("check", name),
				zap.String("tool", ev.ToolName()),
				zap.Error(err),
			)
			faults = append(faults, name+": "+err.Error())
			results = append(results, &CheckResult{Verdict: VerdictAllow, CheckName: name})
			continue
		}
		results = append(results, normalize(name, res))
		if res != nil && res.Verdict == VerdictBlock {
			break
		}
	}

	d := Aggregate(results)
	d.Faults = faults
	return d
}

// runCheck evaluates one check in its own goroutine so that a hung check is
// abandoned at the deadline and a panic is recovered as an error.
func runCheck(ctx context.Context, c Check, ev *Event, timeout time.Duration) (*CheckResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch := make(chan checkOutput, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- checkOutput{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		res, err := c.Evaluate(ctx, ev)
		ch <- checkOutput{result: res, err: err}
	}()

	select {
	case out := <-ch:
		return out.result, out.err
	case <-ctx.Done():
		return nil, fmt.Errorf("check did not finish within %s: %w", timeout, ctx.Err())
	}
}

// normalize copies res, stamps the check name and restores the invariants
// the rest of the pipeline relies on: a nil or unknown verdict is allow and
// a warn or block always carries a reason.
func normalize(name string, res *CheckResult) *CheckResult {
	if res == nil {
		return &CheckResult{Verdict: VerdictAllow, CheckName: name}
	}
	out := *res
	out.CheckName = name
	switch out.Verdict {
	case VerdictWarn, VerdictBlock:
		if out.Reason == "" {
			out.Reason = name + " policy matched"
		}
	default:
		out.Verdict = VerdictAllow
		out.Reason = ""
	}
	return &out
}

// GuardEngine selects the check set for each event and dispatches it.
// It is safe for concurrent use: check sets are fixed at construction.
type GuardEngine struct {
	sets    CheckSets
	timeout time.Duration
	logger  *zap.Logger
}

// NewGuardEngine creates an engine over the given check sets.
func NewGuardEngine(sets CheckSets, timeout time.Duration, logger *zap.Logger) *GuardEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GuardEngine{
		sets:    sets,
		timeout: timeout,
		logger:  logger,
	}
}

// Dispatch evaluates ev against the check set for its kind.
func (g *GuardEngine) Dispatch(ctx context.Context, ev *Event) *DispatchDecision {
	return Dispatch(ctx, ev, g.sets.For(ev.Kind()), DispatchConfig{
		CheckTimeout: g.timeout,
		Logger:       g.logger,
	})
}

// Checks returns the names of the checks that would run for kind, in order.
func (g *GuardEngine) Checks(kind ToolKind) []string {
	set := g.sets.For(kind)
	names := make([]string, len(set))
	for i, c := range set {
		names[i] = c.Name()
	}
	return names
}
