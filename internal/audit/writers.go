package audit

import (
	"encoding/json"

	"go.uber.org/zap"
)

// LogWriter is a fallback EventWriter that emits entries on a logger.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs entries to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(entry *Entry) {
	w.logger.Info("hook_guard_event",
		zap.String("request_id", entry.RequestID),
		zap.String("session", entry.Session),
		zap.String("tool", entry.Tool),
		zap.String("kind", entry.Kind),
		zap.String("verdict", entry.Verdict),
		zap.String("blocked_by", entry.BlockedBy),
		zap.String("reason", entry.Reason),
		zap.Strings("warnings", entry.Warnings),
		zap.Strings("faults", entry.Faults),
		zap.Float64("latency_ms", entry.LatencyMs),
		zap.String("source", entry.Source),
	)
}

func (w *LogWriter) Close() {}

// MultiWriter fans every entry out to several writers.
type MultiWriter struct {
	writers []EventWriter
}

// NewMultiWriter skips nil writers.
func NewMultiWriter(writers ...EventWriter) *MultiWriter {
	m := &MultiWriter{}
	for _, w := range writers {
		if w != nil {
			m.writers = append(m.writers, w)
		}
	}
	return m
}

func (m *MultiWriter) Write(entry *Entry) {
	for _, w := range m.writers {
		w.Write(entry)
	}
}

func (m *MultiWriter) Close() {
	for _, w := range m.writers {
		w.Close()
	}
}

// Len returns the number of wrapped writers.
func (m *MultiWriter) Len() int {
	return len(m.writers)
}

func parametersJSON(params map[string]any) string {
	if params == nil {
		return ""
	}
	b, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	return string(b)
}
