package hook

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/triage-ai/palisade/services/hook_guard/internal/engine"
)

// ErrInvalidPayload wraps every reason an inbound payload is rejected.
var ErrInvalidPayload = errors.New("invalid event payload")

//go:embed schema/event.schema.json
var eventSchemaJSON []byte

var compileSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	var schemaObj any
	if err := json.Unmarshal(eventSchemaJSON, &schemaObj); err != nil {
		return nil, fmt.Errorf("parse event schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("event.schema.json", schemaObj); err != nil {
		return nil, fmt.Errorf("add event schema: %w", err)
	}
	return c.Compile("event.schema.json")
})

// Payload is the inbound event description. Both the generic spelling
// ({toolName, parameters}) and the host's native one ({tool_name,
// tool_input, session_id, cwd}) are accepted.
type Payload struct {
	ToolName      string
	Parameters    map[string]any
	SessionID     string
	Cwd           string
	HookEventName string
	Timestamp     time.Time
}

type wirePayload struct {
	ToolName       string         `json:"toolName"`
	ToolNameNative string         `json:"tool_name"`
	Parameters     map[string]any `json:"parameters"`
	ToolInput      map[string]any `json:"tool_input"`
	SessionID      string         `json:"session_id"`
	SessionIDCamel string         `json:"sessionId"`
	Cwd            string         `json:"cwd"`
	HookEventName  string         `json:"hook_event_name"`
	Timestamp      string         `json:"timestamp"`
}

// DecodePayload validates raw against the event schema and decodes it.
func DecodePayload(raw []byte) (*Payload, error) {
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	sch, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("DecodePayload: %w", err)
	}
	if err := sch.Validate(instance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	var w wirePayload
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p := &Payload{
		ToolName:      firstNonEmpty(w.ToolName, w.ToolNameNative),
		Parameters:    w.Parameters,
		SessionID:     firstNonEmpty(w.SessionID, w.SessionIDCamel),
		Cwd:           w.Cwd,
		HookEventName: w.HookEventName,
		Timestamp:     parseTimestamp(w.Timestamp),
	}
	if p.Parameters == nil {
		p.Parameters = w.ToolInput
	}
	return p, nil
}

// Event builds the immutable engine event. session is used when the payload
// carries none.
func (p *Payload) Event(session string) *engine.Event {
	if p.SessionID != "" {
		session = p.SessionID
	}
	return engine.NewEvent(p.ToolName, p.Parameters, engine.EventOptions{
		SessionID: session,
		Cwd:       p.Cwd,
		Timestamp: p.Timestamp,
	})
}

// parseTimestamp accepts RFC 3339; anything else yields the zero time,
// which NewEvent replaces with the current time.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
