package checks

import (
	"fmt"

	"github.com/triage-ai/palisade/services/hook_guard/internal/engine"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine/matchers"
	"github.com/triage-ai/palisade/services/hook_guard/internal/vcs"
)

// Options is everything the default check sets are built from.
type Options struct {
	ProtectedBranches []string
	WorkspaceRoot     string
	Dangerous         matchers.DangerousOptions
	Inspector         vcs.Inspector
	MaxScanBytes      int64
}

// NewCheckSets builds the default ordered check sets. Pattern checks come
// before the checks that shell out to git.
func NewCheckSets(opts Options) (engine.CheckSets, error) {
	rules, err := matchers.NewDangerousRules(opts.Dangerous)
	if err != nil {
		return engine.CheckSets{}, fmt.Errorf("NewCheckSets: %w", err)
	}
	credential := NewCredentialCheck()
	return engine.CheckSets{
		Shell: []engine.Check{
			credential,
			NewDangerousOperationCheck(rules),
			NewBranchProtectionCheck(opts.ProtectedBranches, opts.Inspector),
			NewAmendSafetyCheck(opts.Inspector),
		},
		File: []engine.Check{
			credential,
			NewWorkspaceBoundsCheck(opts.WorkspaceRoot),
			NewSecretScanCheck(opts.MaxScanBytes),
		},
		Other: []engine.Check{
			credential,
		},
	}, nil
}
