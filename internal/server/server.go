// Package server exposes the dispatcher over gRPC and HTTP for serve mode.
package server

import (
	"context"
	"time"

	"github.com/triage-ai/palisade/services/hook_guard/internal/hook"
)

// Handler evaluates one raw event payload. *hook.Adapter implements it.
type Handler interface {
	Handle(ctx context.Context, raw []byte) *hook.Result
}

// maxRequestBytes bounds a serve-mode request body.
const maxRequestBytes = 8 << 20

// DispatchResponse is the decision returned by both transports.
type DispatchResponse struct {
	Proceed   bool            `json:"proceed"`
	Message   string          `json:"message,omitempty"`
	Verdict   string          `json:"verdict"`
	BlockedBy string          `json:"blocked_by,omitempty"`
	Warnings  []WarningDetail `json:"warnings,omitempty"`
	Checks    []string        `json:"checks,omitempty"`
	RequestID string          `json:"request_id"`
	LatencyMs float64         `json:"latency_ms"`
}

// WarningDetail is one non-blocking finding.
type WarningDetail struct {
	Check  string `json:"check"`
	Reason string `json:"reason"`
}

func newDispatchResponse(res *hook.Result) *DispatchResponse {
	out := &DispatchResponse{
		Proceed:   res.Response.Proceed,
		Message:   res.Response.Message,
		Verdict:   "allow",
		RequestID: res.RequestID,
		LatencyMs: float64(res.Latency) / float64(time.Millisecond),
	}
	if d := res.Decision; d != nil {
		out.Verdict = d.Verdict().String()
		out.BlockedBy = d.BlockedBy
		out.Checks = d.Executed
		for _, w := range d.Warnings {
			out.Warnings = append(out.Warnings, WarningDetail{Check: w.CheckName, Reason: w.Reason})
		}
	}
	return out
}

// fields renders the response as a structpb-compatible map.
func (r *DispatchResponse) fields() map[string]any {
	m := map[string]any{
		"proceed":    r.Proceed,
		"verdict":    r.Verdict,
		"request_id": r.RequestID,
		"latency_ms": r.LatencyMs,
	}
	if r.Message != "" {
		m["message"] = r.Message
	}
	if r.BlockedBy != "" {
		m["blocked_by"] = r.BlockedBy
	}
	if len(r.Checks) > 0 {
		checks := make([]any, len(r.Checks))
		for i, c := range r.Checks {
			checks[i] = c
		}
		m["checks"] = checks
	}
	if len(r.Warnings) > 0 {
		warnings := make([]any, len(r.Warnings))
		for i, w := range r.Warnings {
			warnings[i] = map[string]any{"check": w.Check, "reason": w.Reason}
		}
		m["warnings"] = warnings
	}
	return m
}
