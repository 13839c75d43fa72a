package checks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/triage-ai/palisade/services/hook_guard/internal/engine"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine/matchers"
)

// DefaultMaxScanBytes bounds how much of a file a read event scans.
const DefaultMaxScanBytes = 1 << 20

// writtenContentKeys are the parameter keys holding new file content. Old
// content being replaced is already on disk and not scanned.
var writtenContentKeys = map[string]bool{
	"content":    true,
	"new_string": true,
	"new_source": true,
}

// SecretScanCheck blocks writes and edits that introduce secrets and warns
// on reads of files that contain them.
type SecretScanCheck struct {
	maxScanBytes int64
}

func NewSecretScanCheck(maxScanBytes int64) *SecretScanCheck {
	if maxScanBytes <= 0 {
		maxScanBytes = DefaultMaxScanBytes
	}
	return &SecretScanCheck{maxScanBytes: maxScanBytes}
}

func (c *SecretScanCheck) Name() string {
	return "secret_scan"
}

func (c *SecretScanCheck) Evaluate(ctx context.Context, ev *engine.Event) (*engine.CheckResult, error) {
	switch ev.Kind() {
	case engine.KindFileWrite, engine.KindFileEdit:
		return c.evaluateWrite(ctx, ev), nil
	case engine.KindFileRead:
		return c.evaluateRead(ev)
	}
	return engine.Allow(), nil
}

func (c *SecretScanCheck) evaluateWrite(ctx context.Context, ev *engine.Event) *engine.CheckResult {
	var values []stringValue
	for _, name := range ev.ParamNames() {
		if !contentParams[name] {
			continue
		}
		v, _ := ev.RawParam(name)
		collectStrings(name, v, &values)
	}

	for _, sv := range values {
		if ctx.Err() != nil {
			break
		}
		if !writtenContentKeys[lastKey(sv.path)] {
			continue
		}
		if findings := matchers.ScanSecrets(sv.value); len(findings) > 0 {
			return engine.Block(fmt.Sprintf("content for %s contains %s", targetName(ev), describeFindings(findings)))
		}
	}
	return engine.Allow()
}

func (c *SecretScanCheck) evaluateRead(ev *engine.Event) (*engine.CheckResult, error) {
	for _, p := range targetPaths(ev) {
		resolved, err := matchers.ResolvePath(ev.Cwd(), p)
		if err != nil {
			return nil, fmt.Errorf("secret_scan: %w", err)
		}
		content, err := c.readHead(resolved)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("secret_scan: %w", err)
		}
		if findings := matchers.ScanSecrets(content); len(findings) > 0 {
			return engine.Warn(fmt.Sprintf("%s contains %s; avoid echoing it into the conversation", p, describeFindings(findings))), nil
		}
	}
	return engine.Allow(), nil
}

// readHead returns up to maxScanBytes of a regular file. Anything else reads
// as empty.
func (c *SecretScanCheck) readHead(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !info.Mode().IsRegular() {
		return "", nil
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, c.maxScanBytes))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func describeFindings(findings []matchers.SecretFinding) string {
	parts := make([]string, 0, len(findings))
	for i, f := range findings {
		if i == 3 {
			parts = append(parts, fmt.Sprintf("and %d more", len(findings)-i))
			break
		}
		parts = append(parts, fmt.Sprintf("%s (line %d)", f.Kind, f.Line))
	}
	return "a likely secret: " + strings.Join(parts, ", ")
}

func targetName(ev *engine.Event) string {
	if paths := targetPaths(ev); len(paths) > 0 {
		return paths[0]
	}
	return ev.ToolName()
}

// lastKey returns the final object key of a collectStrings path such as
// "edits[0].new_string".
func lastKey(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	if i := strings.IndexByte(path, '['); i >= 0 {
		path = path[:i]
	}
	return path
}
