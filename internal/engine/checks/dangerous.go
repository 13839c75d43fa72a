package checks

import (
	"context"
	"fmt"

	"github.com/triage-ai/palisade/services/hook_guard/internal/engine"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine/matchers"
)

// DangerousOperationCheck blocks destructive shell commands and warns on
// commands that are merely risky.
type DangerousOperationCheck struct {
	rules *matchers.DangerousRules
}

func NewDangerousOperationCheck(rules *matchers.DangerousRules) *DangerousOperationCheck {
	return &DangerousOperationCheck{rules: rules}
}

func (c *DangerousOperationCheck) Name() string {
	return "dangerous_operation"
}

func (c *DangerousOperationCheck) Evaluate(_ context.Context, ev *engine.Event) (*engine.CheckResult, error) {
	if ev.Kind() != engine.KindShell {
		return engine.Allow(), nil
	}
	m, ok := c.rules.Match(ev.Command())
	if !ok {
		return engine.Allow(), nil
	}
	switch m.Tier {
	case matchers.TierDestructive:
		return engine.Block(fmt.Sprintf("destructive command blocked: %s", m.Rule)), nil
	case matchers.TierCaution:
		return engine.Warn(fmt.Sprintf("use with caution: %s", m.Rule)), nil
	}
	return engine.Allow(), nil
}
