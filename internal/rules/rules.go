// Package rules loads per-project rule overrides from Postgres and merges
// them into the local configuration before checks are built.
package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/hook_guard/internal/config"
)

// Overrides are the rule lists stored for one project. They extend the
// configured lists, never replace them.
type Overrides struct {
	ProjectID          string
	ProtectedBranches  []string
	DangerousPatterns  []string
	CautionPatterns    []string
	CriticalProcesses  []string
	CriticalContainers []string
}

// Apply merges o into cfg.
func (o *Overrides) Apply(cfg *config.Config) {
	if o == nil {
		return
	}
	cfg.ProtectedBranches = config.MergeLists(cfg.ProtectedBranches, o.ProtectedBranches)
	cfg.DangerousPatterns = config.MergeLists(cfg.DangerousPatterns, o.DangerousPatterns)
	cfg.CautionPatterns = config.MergeLists(cfg.CautionPatterns, o.CautionPatterns)
	cfg.CriticalProcesses = config.MergeLists(cfg.CriticalProcesses, o.CriticalProcesses)
	cfg.CriticalContainers = config.MergeLists(cfg.CriticalContainers, o.CriticalContainers)
}

// RuleStore abstracts DB queries for testability.
type RuleStore interface {
	LookupRules(ctx context.Context, projectID string) (*ruleRow, error)
}

type ruleRow struct {
	ProjectID          string
	ProtectedBranches  string // JSONB arrays as strings
	DangerousPatterns  string
	CautionPatterns    string
	CriticalProcesses  string
	CriticalContainers string
}

// sqlRuleStore is the real implementation using *sql.DB.
type sqlRuleStore struct {
	db *sql.DB
}

func (s *sqlRuleStore) LookupRules(ctx context.Context, projectID string) (*ruleRow, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT project_id,
		       COALESCE(protected_branches, '[]'::jsonb)::text,
		       COALESCE(dangerous_patterns, '[]'::jsonb)::text,
		       COALESCE(caution_patterns, '[]'::jsonb)::text,
		       COALESCE(critical_processes, '[]'::jsonb)::text,
		       COALESCE(critical_containers, '[]'::jsonb)::text
		FROM guard_rules
		WHERE project_id = $1
	`, projectID)

	var r ruleRow
	if err := row.Scan(
		&r.ProjectID, &r.ProtectedBranches, &r.DangerousPatterns,
		&r.CautionPatterns, &r.CriticalProcesses, &r.CriticalContainers,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

// Budget bounds how hard rule resolution tries before giving up.
type Budget struct {
	Attempts uint          // per ping and per lookup
	Timeout  time.Duration // per attempt
	Deadline time.Duration // whole resolution, 0 for none
}

var (
	// ServeBudget tolerates a database that is still starting.
	ServeBudget = Budget{Attempts: 3, Timeout: 2 * time.Second}
	// HookBudget leaves most of the host's hook timeout to the checks.
	HookBudget = Budget{Attempts: 1, Timeout: 750 * time.Millisecond, Deadline: 1500 * time.Millisecond}
)

func (b Budget) attempts() uint {
	if b.Attempts == 0 {
		// retry-go treats zero as unlimited
		return 1
	}
	return b.Attempts
}

// Loader reads overrides with bounded retries.
type Loader struct {
	store    RuleStore
	attempts uint
	timeout  time.Duration
	logger   *zap.Logger
}

// NewPostgresLoader creates a Loader backed by the guard_rules table.
func NewPostgresLoader(db *sql.DB, b Budget, logger *zap.Logger) *Loader {
	return newLoaderWithStore(&sqlRuleStore{db: db}, b, logger)
}

// newLoaderWithStore creates a loader with a custom store (for testing).
func newLoaderWithStore(store RuleStore, b Budget, logger *zap.Logger) *Loader {
	return &Loader{
		store:    store,
		attempts: b.attempts(),
		timeout:  b.Timeout,
		logger:   logger,
	}
}

// Load returns the overrides of projectID, or nil when the project has none.
func (l *Loader) Load(ctx context.Context, projectID string) (*Overrides, error) {
	var row *ruleRow
	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(l.attempts),
		retry.DelayType(retry.BackOffDelay),
	)
	err := r.Do(func() error {
		qctx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()

		found, err := l.store.LookupRules(qctx, projectID)
		if errors.Is(err, sql.ErrNoRows) {
			row = nil
			return nil
		}
		if err != nil {
			l.logger.Debug("rule override lookup failed", zap.String("project_id", projectID), zap.Error(err))
			return err
		}
		row = found
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rules.Load: %w", err)
	}
	if row == nil {
		return nil, nil
	}
	return parseRuleRow(row)
}

func parseRuleRow(row *ruleRow) (*Overrides, error) {
	o := &Overrides{ProjectID: row.ProjectID}
	fields := []struct {
		name string
		raw  string
		dst  *[]string
	}{
		{"protected_branches", row.ProtectedBranches, &o.ProtectedBranches},
		{"dangerous_patterns", row.DangerousPatterns, &o.DangerousPatterns},
		{"caution_patterns", row.CautionPatterns, &o.CautionPatterns},
		{"critical_processes", row.CriticalProcesses, &o.CriticalProcesses},
		{"critical_containers", row.CriticalContainers, &o.CriticalContainers},
	}
	for _, f := range fields {
		if f.raw == "" || f.raw == "[]" || f.raw == "null" {
			continue
		}
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("parseRuleRow: %s: %w", f.name, err)
		}
	}
	return o, nil
}

// Open opens and pings a pgx-backed *sql.DB, retrying the ping within b.
func Open(ctx context.Context, dsn string, b Budget) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("rules.Open: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	err = retry.New(
		retry.Context(ctx),
		retry.Attempts(b.attempts()),
	).Do(func() error {
		pctx, cancel := context.WithTimeout(ctx, b.Timeout)
		defer cancel()
		return db.PingContext(pctx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("rules.Open: ping: %w", err)
	}
	return db, nil
}

// Resolve applies the stored overrides for cfg.ProjectID to cfg within b.
// Any failure is logged and the configuration is left as it was.
func Resolve(ctx context.Context, cfg *config.Config, b Budget, logger *zap.Logger) {
	if cfg.PostgresDSN == "" || cfg.ProjectID == "" {
		return
	}
	if b.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Deadline)
		defer cancel()
	}
	db, err := Open(ctx, cfg.PostgresDSN, b)
	if err != nil {
		logger.Warn("rule overrides unavailable, using local configuration", zap.Error(err))
		return
	}
	defer func() { _ = db.Close() }()

	resolveWith(ctx, NewPostgresLoader(db, b, logger), cfg, logger)
}

func resolveWith(ctx context.Context, l *Loader, cfg *config.Config, logger *zap.Logger) {
	o, err := l.Load(ctx, cfg.ProjectID)
	if err != nil {
		logger.Warn("rule overrides lookup failed, using local configuration",
			zap.String("project_id", cfg.ProjectID),
			zap.Error(err),
		)
		return
	}
	if o == nil {
		logger.Debug("no rule overrides for project", zap.String("project_id", cfg.ProjectID))
		return
	}
	o.Apply(cfg)
	logger.Info("rule overrides applied",
		zap.String("project_id", cfg.ProjectID),
		zap.Int("protected_branches", len(cfg.ProtectedBranches)),
		zap.Int("dangerous_patterns", len(cfg.DangerousPatterns)),
	)
}
