// Package audit records one entry per completed dispatch. Writers never
// block or alter the decision: failures are reported on the logger and
// otherwise swallowed.
package audit

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/triage-ai/palisade/services/hook_guard/internal/engine"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine/matchers"
)

// EventWriter is the interface for persisting audit entries.
// Write() must NEVER block the caller on a slow backend and never fails.
type EventWriter interface {
	Write(entry *Entry)
	Close()
}

// Verbosity controls how much of the event parameters an entry keeps.
type Verbosity string

const (
	VerbosityMinimal  Verbosity = "minimal"  // parameters omitted
	VerbosityStandard Verbosity = "standard" // strings truncated and redacted
	VerbosityFull     Verbosity = "full"     // parameters verbatim
)

// ParseVerbosity validates a configured verbosity level.
func ParseVerbosity(s string) (Verbosity, error) {
	switch v := Verbosity(strings.ToLower(strings.TrimSpace(s))); v {
	case VerbosityMinimal, VerbosityStandard, VerbosityFull:
		return v, nil
	case "":
		return VerbosityStandard, nil
	default:
		return "", fmt.Errorf("unknown verbosity %q (want minimal, standard or full)", s)
	}
}

// MaxParamRunes is the per-string limit at standard verbosity.
const MaxParamRunes = 200

// Entry is one persisted dispatch record.
type Entry struct {
	Timestamp  time.Time      `json:"timestamp"`
	RequestID  string         `json:"request_id"`
	ProjectID  string         `json:"project_id,omitempty"`
	Session    string         `json:"session"`
	Tool       string         `json:"tool"`
	Kind       string         `json:"kind"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Verdict    string         `json:"verdict"` // "allow", "warn", "block"
	BlockedBy  string         `json:"blocked_by,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
	Checks     []string       `json:"checks"`
	Faults     []string       `json:"faults,omitempty"`
	LatencyMs  float64        `json:"latency_ms"`
	Source     string         `json:"source"` // "hook", "grpc", "http"
}

// NewEntry summarizes an event and its decision.
func NewEntry(requestID string, ev *engine.Event, d *engine.DispatchDecision, v Verbosity, latency time.Duration) *Entry {
	warnings := make([]string, len(d.Warnings))
	for i, w := range d.Warnings {
		warnings[i] = w.CheckName + ": " + w.Reason
	}
	checks := d.Executed
	if checks == nil {
		checks = []string{}
	}
	return &Entry{
		Timestamp:  ev.Timestamp(),
		RequestID:  requestID,
		Session:    ev.SessionID(),
		Tool:       ev.ToolName(),
		Kind:       ev.Kind().String(),
		Parameters: FilterParameters(ev.Params(), v),
		Verdict:    d.Verdict().String(),
		BlockedBy:  d.BlockedBy,
		Reason:     d.Reason,
		Warnings:   warnings,
		Checks:     checks,
		Faults:     d.Faults,
		LatencyMs:  float64(latency.Microseconds()) / 1000,
	}
}

// FilterParameters applies v to a parameter snapshot. params is not
// modified.
func FilterParameters(params map[string]any, v Verbosity) map[string]any {
	switch v {
	case VerbosityMinimal:
		return nil
	case VerbosityFull:
		return params
	}
	out := make(map[string]any, len(params))
	for k, val := range params {
		out[k] = filterValue(val)
	}
	return out
}

func filterValue(v any) any {
	switch val := v.(type) {
	case string:
		return TruncateRunes(matchers.RedactCredentials(val), MaxParamRunes)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = filterValue(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = filterValue(child)
		}
		return out
	default:
		return val
	}
}

// TruncateRunes cuts s to at most limit runes without splitting a UTF-8
// sequence.
func TruncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i]
		}
		n++
	}
	return s
}
