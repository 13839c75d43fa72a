// Package hook translates the host's hook protocol into dispatcher calls.
// Nothing inside the adapter may abort the host operation: every fault
// fails open.
package hook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/hook_guard/internal/audit"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine"
)

// ExitBlock is the exit code the host treats as "block this tool call".
const ExitBlock = 2

// maxPayloadBytes bounds how much of stdin is read in hook mode.
const maxPayloadBytes = 8 << 20

// Dispatcher evaluates one event. *engine.GuardEngine implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev *engine.Event) *engine.DispatchDecision
}

// Response is the outbound decision payload.
type Response struct {
	Proceed bool   `json:"proceed"`
	Message string `json:"message,omitempty"`
}

// Result is a handled request: the response plus what produced it.
type Result struct {
	Response  Response
	RequestID string
	Decision  *engine.DispatchDecision // nil when the event never reached the dispatcher
	Latency   time.Duration
}

// Config holds the adapter's per-process settings.
type Config struct {
	Verbosity audit.Verbosity
	SessionID string // used when the payload has none
	ProjectID string
	Source    string // recorded on audit entries: "hook", "grpc", "http"
}

// Adapter decodes payloads, dispatches them and records the outcome.
type Adapter struct {
	dispatcher Dispatcher
	writer     audit.EventWriter
	cfg        Config
	session    string
	logger     *zap.Logger
}

// NewAdapter creates an adapter. A nil writer disables auditing.
func NewAdapter(d Dispatcher, w audit.EventWriter, cfg Config, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Verbosity == "" {
		cfg.Verbosity = audit.VerbosityStandard
	}
	if cfg.Source == "" {
		cfg.Source = "hook"
	}
	session := cfg.SessionID
	if session == "" {
		session = uuid.NewString()
	}
	return &Adapter{
		dispatcher: d,
		writer:     w,
		cfg:        cfg,
		session:    session,
		logger:     logger,
	}
}

// WithSource returns a copy of the adapter that records source on entries.
func (a *Adapter) WithSource(source string) *Adapter {
	c := *a
	c.cfg.Source = source
	return &c
}

// Handle evaluates one raw payload. It never panics and never returns an
// error: an invalid payload or an internal fault yields proceed=true.
func (a *Adapter) Handle(ctx context.Context, raw []byte) (res *Result) {
	start := time.Now()
	res = &Result{Response: Response{Proceed: true}, RequestID: uuid.NewString()}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("adapter fault, failing open",
				zap.String("request_id", res.RequestID),
				zap.Any("panic", r),
			)
			res.Response = Response{Proceed: true}
			res.Decision = nil
		}
	}()

	p, err := DecodePayload(raw)
	if err != nil {
		a.logger.Warn("rejected hook payload, failing open",
			zap.String("request_id", res.RequestID),
			zap.Error(err),
		)
		return res
	}

	ev := p.Event(a.session)
	d := a.dispatcher.Dispatch(ctx, ev)
	res.Decision = d
	res.Latency = time.Since(start)
	res.Response = Response{Proceed: d.Proceed, Message: d.Message()}

	a.record(res.RequestID, ev, d, res.Latency)
	return res
}

// record is the post-decision effect. It runs after the decision is final
// and its failures are contained here.
func (a *Adapter) record(requestID string, ev *engine.Event, d *engine.DispatchDecision, latency time.Duration) {
	if a.writer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("audit sink fault",
				zap.String("request_id", requestID),
				zap.Any("panic", r),
			)
		}
	}()
	entry := audit.NewEntry(requestID, ev, d, a.cfg.Verbosity, latency)
	entry.ProjectID = a.cfg.ProjectID
	entry.Source = a.cfg.Source
	a.writer.Write(entry)
}

// Run implements hook mode: read one payload from stdin, write the response
// to stdout and return the process exit code. A block also prints the
// reason on stderr, where the host shows it to the assistant.
func (a *Adapter) Run(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer) int {
	raw, err := io.ReadAll(io.LimitReader(stdin, maxPayloadBytes))
	if err != nil {
		a.logger.Warn("read hook payload failed, failing open", zap.Error(err))
		raw = nil
	}

	res := a.Handle(ctx, raw)
	if err := json.NewEncoder(stdout).Encode(res.Response); err != nil {
		a.logger.Warn("write hook response failed", zap.Error(err))
	}
	if !res.Response.Proceed {
		fmt.Fprintf(stderr, "hook-guard blocked this operation: %s\n", res.Response.Message)
		return ExitBlock
	}
	if res.Response.Message != "" {
		fmt.Fprintf(stderr, "hook-guard warning: %s\n", res.Response.Message)
	}
	return 0
}
