package checks

import (
	"context"
	"errors"
	"fmt"

	"github.com/triage-ai/palisade/services/hook_guard/internal/engine"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine/matchers"
	"github.com/triage-ai/palisade/services/hook_guard/internal/vcs"
)

// AmendSafetyCheck blocks history rewrites that would replace commits already
// pushed to the upstream: commit --amend when HEAD is pushed, and rebase or
// reset to HEAD~n when any commit after the rewrite base is pushed.
type AmendSafetyCheck struct {
	inspector vcs.Inspector
}

func NewAmendSafetyCheck(inspector vcs.Inspector) *AmendSafetyCheck {
	return &AmendSafetyCheck{inspector: inspector}
}

func (c *AmendSafetyCheck) Name() string {
	return "amend_safety"
}

func (c *AmendSafetyCheck) Evaluate(ctx context.Context, ev *engine.Event) (*engine.CheckResult, error) {
	if ev.Kind() != engine.KindShell {
		return engine.Allow(), nil
	}

	for _, g := range matchers.ParseGit(ev.Command()) {
		rw, ok := g.RewritesHistory()
		if !ok {
			continue
		}
		dir := gitDir(ev, g)
		var pushed bool
		var err error
		if rw.Op == "amend" {
			pushed, err = c.inspector.HeadPushed(ctx, dir)
		} else {
			pushed, err = c.inspector.RewritePushed(ctx, dir, rw.Base)
		}
		if errors.Is(err, vcs.ErrNotRepository) {
			continue
		}
		if err != nil {
			return engine.Warn(fmt.Sprintf("could not tell whether git %s rewrites pushed commits: %v", g.Sub, err)), nil
		}
		if pushed {
			return engine.Block(fmt.Sprintf("git %s would rewrite commits already pushed upstream; add a new commit instead", g.Sub)), nil
		}
	}
	return engine.Allow(), nil
}
