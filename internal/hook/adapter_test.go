package hook

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/hook_guard/internal/audit"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine/checks"
)

// stubInspector reports every repository as on a feature branch with
// nothing pushed.
type stubInspector struct{}

func (stubInspector) CurrentBranch(context.Context, string) (string, error) { return "feature", nil }
func (stubInspector) HeadPushed(context.Context, string) (bool, error)      { return false, nil }
func (stubInspector) RewritePushed(context.Context, string, string) (bool, error) {
	return false, nil
}

type recordingWriter struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (r *recordingWriter) Write(e *audit.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *recordingWriter) Close() {}

type panicWriter struct{}

func (panicWriter) Write(*audit.Entry) { panic("disk on fire") }
func (panicWriter) Close()             {}

type panicDispatcher struct{}

func (panicDispatcher) Dispatch(context.Context, *engine.Event) *engine.DispatchDecision {
	panic("dispatcher bug")
}

func newTestEngine(t *testing.T, root string) *engine.GuardEngine {
	t.Helper()
	sets, err := checks.NewCheckSets(checks.Options{
		ProtectedBranches: []string{"main", "master"},
		WorkspaceRoot:     root,
		Inspector:         stubInspector{},
	})
	if err != nil {
		t.Fatal(err)
	}
	return engine.NewGuardEngine(sets, time.Second, zap.NewNop())
}

func TestAdapter_RunBlocksWithExitCode(t *testing.T) {
	w := &recordingWriter{}
	a := NewAdapter(newTestEngine(t, t.TempDir()), w, Config{}, zap.NewNop())

	in := strings.NewReader(`{"session_id":"s-1","tool_name":"Bash","tool_input":{"command":"rm -rf /"},"hook_event_name":"PreToolUse"}`)
	var stdout, stderr bytes.Buffer
	code := a.Run(context.Background(), in, &stdout, &stderr)
	if code != ExitBlock {
		t.Fatalf("expected exit %d, got %d", ExitBlock, code)
	}
	var resp Response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		t.Fatalf("stdout is not a response: %q", stdout.String())
	}
	if resp.Proceed || !strings.HasPrefix(resp.Message, "dangerous_operation: ") {
		t.Fatalf("unexpected response %+v", resp)
	}
	if !strings.Contains(stderr.String(), "dangerous_operation") {
		t.Fatalf("block reason missing from stderr: %q", stderr.String())
	}
	if len(w.entries) != 1 || w.entries[0].Session != "s-1" || w.entries[0].Verdict != "block" {
		t.Fatalf("unexpected audit entries %+v", w.entries)
	}
}

func TestAdapter_GenericPayloadAllowed(t *testing.T) {
	a := NewAdapter(newTestEngine(t, t.TempDir()), nil, Config{}, zap.NewNop())
	res := a.Handle(context.Background(), []byte(`{"toolName":"execute-shell","parameters":{"command":"echo hello"}}`))
	if !res.Response.Proceed || res.Response.Message != "" {
		t.Fatalf("expected plain proceed, got %+v", res.Response)
	}
	if res.Decision == nil || len(res.Decision.Executed) != 4 {
		t.Fatalf("expected the full shell set to run, got %+v", res.Decision)
	}
}

func TestAdapter_WarningsSurfaceInMessage(t *testing.T) {
	a := NewAdapter(newTestEngine(t, t.TempDir()), nil, Config{}, zap.NewNop())
	var stdout, stderr bytes.Buffer
	code := a.Run(context.Background(), strings.NewReader(`{"tool_name":"Bash","tool_input":{"command":"git push --force origin feature"}}`), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("warnings must not block, exit %d", code)
	}
	if !strings.Contains(stdout.String(), `"proceed":true`) || !strings.Contains(stdout.String(), "force push") {
		t.Fatalf("unexpected stdout %q", stdout.String())
	}
}

func TestAdapter_InvalidPayloadFailsOpen(t *testing.T) {
	w := &recordingWriter{}
	a := NewAdapter(newTestEngine(t, t.TempDir()), w, Config{}, zap.NewNop())
	for _, raw := range []string{``, `not json`, `[]`, `{"parameters":{"command":"rm -rf /"}}`, `{"tool_name":""}`, `{"tool_name":"Bash","tool_input":"rm -rf /"}`} {
		res := a.Handle(context.Background(), []byte(raw))
		if !res.Response.Proceed {
			t.Fatalf("%q: invalid payload must fail open", raw)
		}
		if res.Decision != nil {
			t.Fatalf("%q: invalid payload must not be dispatched", raw)
		}
	}
	if len(w.entries) != 0 {
		t.Fatal("undispatched payloads are not audited")
	}
}

func TestDecodePayload_RejectsWithSentinel(t *testing.T) {
	if _, err := DecodePayload([]byte(`{"tool_name": 7}`)); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestAdapter_DispatcherPanicFailsOpen(t *testing.T) {
	a := NewAdapter(panicDispatcher{}, nil, Config{}, zap.NewNop())
	var stdout, stderr bytes.Buffer
	code := a.Run(context.Background(), strings.NewReader(`{"tool_name":"Bash","tool_input":{"command":"ls"}}`), &stdout, &stderr)
	if code != 0 || !strings.Contains(stdout.String(), `"proceed":true`) {
		t.Fatalf("expected fail-open, got exit %d stdout %q", code, stdout.String())
	}
}

func TestAdapter_SinkFaultDoesNotAlterDecision(t *testing.T) {
	a := NewAdapter(newTestEngine(t, t.TempDir()), panicWriter{}, Config{}, zap.NewNop())
	res := a.Handle(context.Background(), []byte(`{"tool_name":"Bash","tool_input":{"command":"rm -rf /"}}`))
	if res.Response.Proceed {
		t.Fatal("a failing sink must not turn a block into an allow")
	}
}

func TestAdapter_SessionFallback(t *testing.T) {
	w := &recordingWriter{}
	a := NewAdapter(newTestEngine(t, t.TempDir()), w, Config{SessionID: "configured"}, zap.NewNop())
	a.Handle(context.Background(), []byte(`{"tool_name":"Bash","tool_input":{"command":"ls"}}`))
	a.Handle(context.Background(), []byte(`{"tool_name":"Bash","tool_input":{"command":"ls"},"session_id":"from-host"}`))
	if w.entries[0].Session != "configured" || w.entries[1].Session != "from-host" {
		t.Fatalf("unexpected sessions %q %q", w.entries[0].Session, w.entries[1].Session)
	}

	generated := NewAdapter(newTestEngine(t, t.TempDir()), w, Config{}, zap.NewNop())
	generated.Handle(context.Background(), []byte(`{"tool_name":"Bash","tool_input":{"command":"ls"}}`))
	if w.entries[2].Session == "" {
		t.Fatal("a session id must always be recorded")
	}
}

func TestAdapter_IdempotentDecisionsTwoEntries(t *testing.T) {
	w := &recordingWriter{}
	a := NewAdapter(newTestEngine(t, t.TempDir()), w, Config{}, zap.NewNop())
	raw := []byte(`{"tool_name":"Bash","tool_input":{"command":"git push origin main"}}`)
	first := a.Handle(context.Background(), raw)
	second := a.Handle(context.Background(), raw)
	if first.Response != second.Response {
		t.Fatalf("decisions differ: %+v vs %+v", first.Response, second.Response)
	}
	if first.Response.Proceed || first.Decision.BlockedBy != "branch_protection" {
		t.Fatalf("expected branch_protection block, got %+v", first.Decision)
	}
	if len(w.entries) != 2 || w.entries[0].RequestID == w.entries[1].RequestID {
		t.Fatalf("expected two distinct audit entries, got %d", len(w.entries))
	}
}

func TestAdapter_ConcurrentDispatchesAppendWholeLines(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	jw, err := audit.NewJSONLWriter(path, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	a := NewAdapter(newTestEngine(t, root), jw, Config{Verbosity: audit.VerbosityFull}, zap.NewNop())

	const n = 40
	results := make([]*Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := fmt.Sprintf("echo %d", i)
			if i%2 == 0 {
				cmd = "rm -rf /"
			}
			raw, _ := json.Marshal(map[string]any{"tool_name": "Bash", "tool_input": map[string]any{"command": cmd}})
			results[i] = a.Handle(context.Background(), raw)
		}(i)
	}
	wg.Wait()
	jw.Close()

	for i, res := range results {
		if want := i%2 == 1; res.Response.Proceed != want {
			t.Fatalf("event %d: proceed=%v, want %v", i, res.Response.Proceed, want)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e audit.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("corrupt audit line %q: %v", sc.Text(), err)
		}
		lines++
	}
	if lines != n {
		t.Fatalf("expected %d audit lines, got %d", n, lines)
	}
}

func TestAdapter_FileEventsUseReducedSet(t *testing.T) {
	root := t.TempDir()
	a := NewAdapter(newTestEngine(t, root), nil, Config{}, zap.NewNop())
	raw, _ := json.Marshal(map[string]any{
		"tool_name":  "Write",
		"tool_input": map[string]any{"file_path": filepath.Join(root, "notes.md"), "content": "git push origin main"},
	})
	res := a.Handle(context.Background(), raw)
	if !res.Response.Proceed {
		t.Fatalf("expected proceed, got %+v", res.Response)
	}
	for _, name := range res.Decision.Executed {
		if name == "branch_protection" || name == "amend_safety" {
			t.Fatalf("%s must not run for file events", name)
		}
	}
}
