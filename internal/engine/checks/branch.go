package checks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/triage-ai/palisade/services/hook_guard/internal/engine"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine/matchers"
	"github.com/triage-ai/palisade/services/hook_guard/internal/vcs"
)

// BranchProtectionCheck blocks git write operations (commit, push, merge,
// reset --hard) that target a protected branch. Read-only git commands are
// always allowed. When the target is the checked-out branch it is looked up
// through the inspector; a failed lookup degrades to a warning.
type BranchProtectionCheck struct {
	protected []string
	inspector vcs.Inspector
}

func NewBranchProtectionCheck(protected []string, inspector vcs.Inspector) *BranchProtectionCheck {
	return &BranchProtectionCheck{protected: protected, inspector: inspector}
}

func (c *BranchProtectionCheck) Name() string {
	return "branch_protection"
}

func (c *BranchProtectionCheck) Evaluate(ctx context.Context, ev *engine.Event) (*engine.CheckResult, error) {
	if ev.Kind() != engine.KindShell || len(c.protected) == 0 {
		return engine.Allow(), nil
	}

	var unknown []string
	// switched tracks branches checked out earlier in the same command line.
	switched := map[string]string{}
	for _, g := range matchers.ParseGit(ev.Command()) {
		dir := gitDir(ev, g)
		if b := c.switchTarget(g); b != "" {
			switched[dir] = b
			continue
		}

		t, write := g.WriteTargets()
		if !write {
			continue
		}
		if t.All {
			return engine.Block(fmt.Sprintf("git %s updates every branch, including protected %s", t.Op, strings.Join(c.protected, ", "))), nil
		}
		for _, b := range t.Branches {
			if matchers.IsProtected(b, c.protected) {
				return engine.Block(fmt.Sprintf("git %s targets protected branch %q; use a feature branch and a pull request", t.Op, b)), nil
			}
		}
		if !t.Current {
			continue
		}

		branch, ok := switched[dir]
		if !ok {
			var err error
			branch, err = c.inspector.CurrentBranch(ctx, dir)
			switch {
			case errors.Is(err, vcs.ErrDetachedHead), errors.Is(err, vcs.ErrNotRepository):
				continue
			case err != nil:
				unknown = append(unknown, fmt.Sprintf("git %s: %v", t.Op, err))
				continue
			}
		}
		if matchers.IsProtected(branch, c.protected) {
			return engine.Block(fmt.Sprintf("git %s on protected branch %q; use a feature branch and a pull request", t.Op, branch)), nil
		}
	}

	if len(unknown) > 0 {
		return engine.Warn("branch unknown, could not verify protection (" + strings.Join(unknown, "; ") + ")"), nil
	}
	return engine.Allow(), nil
}

// switchTarget returns the branch a checkout/switch moves to, or "" when the
// invocation does not change branch. A plain "checkout X" may name a file,
// so it only counts when X is protected.
func (c *BranchProtectionCheck) switchTarget(g matchers.GitCommand) string {
	if g.Sub != "checkout" && g.Sub != "switch" {
		return ""
	}
	if len(g.Args) != 1 || g.Args[0] == "." || g.Args[0] == "-" || g.HasFlag("--detach") {
		return ""
	}
	if g.Sub == "switch" || g.HasFlag("-b", "-B") || matchers.IsProtected(g.Args[0], c.protected) {
		return g.Args[0]
	}
	return ""
}
