package engine

import (
	"sort"
	"strings"
	"time"
)

// Verdict is the outcome of a single check.
type Verdict int

const (
	VerdictAllow Verdict = iota + 1
	VerdictWarn
	VerdictBlock
)

// String returns the lowercase verdict name.
func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictWarn:
		return "warn"
	case VerdictBlock:
		return "block"
	default:
		return "unspecified"
	}
}

// ToolKind is the closed set of operation classes an event can describe.
type ToolKind int

const (
	KindOther     ToolKind = iota // anything that is not shell or file access
	KindShell                     // execute-shell
	KindFileRead                  // read-file
	KindFileWrite                 // write-file
	KindFileEdit                  // edit-file
)

// String returns the kind name used in audit records.
func (k ToolKind) String() string {
	switch k {
	case KindShell:
		return "shell"
	case KindFileRead:
		return "file_read"
	case KindFileWrite:
		return "file_write"
	case KindFileEdit:
		return "file_edit"
	default:
		return "other"
	}
}

// IsFile reports whether the kind touches a single file path.
func (k ToolKind) IsFile() bool {
	return k == KindFileRead || k == KindFileWrite || k == KindFileEdit
}

// KindFromToolName maps a host tool identifier onto a ToolKind.
// Matching is case-insensitive and ignores '-' / '_' separators.
func KindFromToolName(toolName string) ToolKind {
	n := strings.ToLower(toolName)
	n = strings.NewReplacer("-", "", "_", "", " ", "").Replace(n)
	switch n {
	case "bash", "shell", "executeshell", "runshellcommand", "exec", "terminal":
		return KindShell
	case "read", "readfile", "view", "cat":
		return KindFileRead
	case "write", "writefile", "create", "createfile":
		return KindFileWrite
	case "edit", "editfile", "multiedit", "notebookedit", "strreplace", "strreplaceeditor":
		return KindFileEdit
	default:
		return KindOther
	}
}

// Event is one tool invocation submitted for policy evaluation.
// It is immutable once constructed: NewEvent copies the parameters and
// accessors never hand out the internal map.
type Event struct {
	toolName  string
	kind      ToolKind
	params    map[string]any
	sessionID string
	cwd       string
	timestamp time.Time
}

// EventOptions carries the optional attributes of an Event.
type EventOptions struct {
	SessionID string
	Cwd       string
	Timestamp time.Time // zero = now
}

// NewEvent builds an Event for toolName with a deep copy of params.
func NewEvent(toolName string, params map[string]any, opts EventOptions) *Event {
	ts := opts.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return &Event{
		toolName:  toolName,
		kind:      KindFromToolName(toolName),
		params:    copyMap(params),
		sessionID: opts.SessionID,
		cwd:       opts.Cwd,
		timestamp: ts.UTC(),
	}
}

func (e *Event) ToolName() string     { return e.toolName }
func (e *Event) Kind() ToolKind       { return e.kind }
func (e *Event) SessionID() string    { return e.sessionID }
func (e *Event) Cwd() string          { return e.cwd }
func (e *Event) Timestamp() time.Time { return e.timestamp }

// Param returns the string value of a top-level parameter, or "" when it is
// absent or not a string.
func (e *Event) Param(name string) string {
	s, _ := e.params[name].(string)
	return s
}

// RawParam returns a copy of a top-level parameter value.
func (e *Event) RawParam(name string) (any, bool) {
	v, ok := e.params[name]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// Params returns a deep copy of all parameters.
func (e *Event) Params() map[string]any {
	return copyMap(e.params)
}

// ParamNames returns the parameter names in sorted order.
func (e *Event) ParamNames() []string {
	names := make([]string, 0, len(e.params))
	for k := range e.params {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Command returns the shell command of a shell event.
func (e *Event) Command() string {
	return e.Param("command")
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return copyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = copyValue(child)
		}
		return out
	default:
		return val
	}
}

// CheckResult is the outcome of one check against one event.
// Reason is non-empty whenever Verdict is warn or block.
type CheckResult struct {
	Verdict   Verdict
	Reason    string
	CheckName string
}

// Allow returns an allow result.
func Allow() *CheckResult {
	return &CheckResult{Verdict: VerdictAllow}
}

// Warn returns a warn result with the given reason.
func Warn(reason string) *CheckResult {
	return &CheckResult{Verdict: VerdictWarn, Reason: reason}
}

// Block returns a block result with the given reason.
func Block(reason string) *CheckResult {
	return &CheckResult{Verdict: VerdictBlock, Reason: reason}
}

// DispatchDecision is the aggregate result of a dispatch.
// Proceed is false if and only if some executed check blocked.
type DispatchDecision struct {
	Proceed   bool
	BlockedBy string // name of the blocking check, "" when Proceed
	Reason    string // reason of the blocking check
	Warnings  []CheckResult
	Executed  []string // check names in execution order
	Faults    []string // "check: error" for checks that faulted
}

// Verdict returns the overall verdict for audit records.
func (d *DispatchDecision) Verdict() Verdict {
	switch {
	case !d.Proceed:
		return VerdictBlock
	case len(d.Warnings) > 0:
		return VerdictWarn
	default:
		return VerdictAllow
	}
}

// Message renders the decision for the host: the block reason, or the
// joined warning reasons, or "".
func (d *DispatchDecision) Message() string {
	if !d.Proceed {
		return d.BlockedBy + ": " + d.Reason
	}
	if len(d.Warnings) == 0 {
		return ""
	}
	parts := make([]string, len(d.Warnings))
	for i, w := range d.Warnings {
		parts[i] = w.CheckName + ": " + w.Reason
	}
	return strings.Join(parts, "; ")
}
