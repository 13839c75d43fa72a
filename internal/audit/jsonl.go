package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// lockWait bounds how long a write waits for other hook processes.
const lockWait = 500 * time.Millisecond

// JSONLWriter appends entries to a newline-delimited JSON file. Each entry is
// one write on an O_APPEND descriptor, serialized by a mutex inside the
// process and an advisory file lock across processes, so lines never
// interleave.
type JSONLWriter struct {
	path     string
	mu       sync.Mutex
	file     *os.File
	lock     *flock.Flock
	logger   *zap.Logger
	report   rate.Sometimes
	failures atomic.Int64
}

// NewJSONLWriter opens (creating if needed) the log at path.
func NewJSONLWriter(path string, logger *zap.Logger) (*JSONLWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("NewJSONLWriter: create directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("NewJSONLWriter: open %s: %w", path, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JSONLWriter{
		path:   path,
		file:   f,
		lock:   flock.New(path + ".lock"),
		logger: logger,
		report: rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}, nil
}

// Write appends one line. Failures are counted and reported, never returned.
func (w *JSONLWriter) Write(entry *Entry) {
	data, err := json.Marshal(entry)
	if err != nil {
		w.fault("marshal entry", entry, err)
		return
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		w.fault("write entry", entry, os.ErrClosed)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), lockWait)
	defer cancel()
	locked, err := w.lock.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil || !locked {
		if err == nil {
			err = fmt.Errorf("lock not acquired within %s", lockWait)
		}
		// A single O_APPEND write is still appended whole; only the
		// cross-process ordering guarantee is lost.
		w.fault("acquire audit lock", entry, err)
	} else {
		defer func() {
			_ = w.lock.Unlock()
		}()
	}

	if _, err := w.file.Write(data); err != nil {
		w.fault("write entry", entry, err)
	}
}

// Failures returns how many writes have failed since the writer was opened.
func (w *JSONLWriter) Failures() int64 {
	return w.failures.Load()
}

// Close closes the underlying file. Later writes are counted as failures.
func (w *JSONLWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return
	}
	if err := w.file.Close(); err != nil {
		w.logger.Warn("audit log close failed", zap.String("path", w.path), zap.Error(err))
	}
	w.file = nil
}

func (w *JSONLWriter) fault(op string, entry *Entry, err error) {
	w.failures.Add(1)
	w.report.Do(func() {
		w.logger.Warn("audit sink fault",
			zap.String("op", op),
			zap.String("path", w.path),
			zap.String("request_id", entry.RequestID),
			zap.Int64("failures", w.failures.Load()),
			zap.Error(err),
		)
	})
}
