package checks

import (
	"context"
	"errors"
	"fmt"

	"github.com/triage-ai/palisade/services/hook_guard/internal/engine"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine/matchers"
)

// WorkspaceBoundsCheck blocks file operations whose resolved target lies
// outside the workspace root. An empty root disables the check.
type WorkspaceBoundsCheck struct {
	root string
}

func NewWorkspaceBoundsCheck(root string) *WorkspaceBoundsCheck {
	return &WorkspaceBoundsCheck{root: root}
}

func (c *WorkspaceBoundsCheck) Name() string {
	return "workspace_bounds"
}

func (c *WorkspaceBoundsCheck) Evaluate(_ context.Context, ev *engine.Event) (*engine.CheckResult, error) {
	if !ev.Kind().IsFile() || c.root == "" {
		return engine.Allow(), nil
	}

	base := ev.Cwd()
	if base == "" {
		base = c.root
	}
	for _, p := range targetPaths(ev) {
		resolved, err := matchers.ResolvePath(base, p)
		if errors.Is(err, matchers.ErrSymlinkLoop) {
			return engine.Block(fmt.Sprintf("%s cannot be resolved: %v", p, err)), nil
		}
		if err != nil {
			return nil, fmt.Errorf("workspace_bounds: %w", err)
		}
		inside, err := matchers.Within(c.root, resolved)
		if err != nil {
			return nil, fmt.Errorf("workspace_bounds: %w", err)
		}
		if !inside {
			return engine.Block(fmt.Sprintf("%s resolves to %s, outside the workspace root %s", p, resolved, c.root)), nil
		}
	}
	return engine.Allow(), nil
}
