package checks

import (
	"context"
	"fmt"

	"github.com/triage-ai/palisade/services/hook_guard/internal/engine"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine/matchers"
)

// skippedParams are never scanned for credentials: file content belongs to
// the secret scanner and descriptions are not executed.
var skippedParams = map[string]bool{"description": true}

// CredentialCheck blocks events whose command or parameters carry an inline
// credential or point at a credential file.
type CredentialCheck struct{}

func NewCredentialCheck() *CredentialCheck {
	return &CredentialCheck{}
}

func (c *CredentialCheck) Name() string {
	return "credential"
}

func (c *CredentialCheck) Evaluate(ctx context.Context, ev *engine.Event) (*engine.CheckResult, error) {
	var values []stringValue
	for _, name := range ev.ParamNames() {
		if contentParams[name] || skippedParams[name] {
			continue
		}
		v, _ := ev.RawParam(name)
		collectStrings(name, v, &values)
	}

	for _, sv := range values {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if f, ok := matchers.MatchCredential(sv.value); ok {
			// The value itself is never echoed back.
			return engine.Block(fmt.Sprintf("parameter %q contains a credential (%s)", sv.path, f.Kind)), nil
		}
	}
	return engine.Allow(), nil
}
