package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/triage-ai/palisade/services/hook_guard/internal/audit"
	"github.com/triage-ai/palisade/services/hook_guard/internal/config"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine/checks"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine/matchers"
	"github.com/triage-ai/palisade/services/hook_guard/internal/hook"
	"github.com/triage-ai/palisade/services/hook_guard/internal/vcs"
)

// buildEngine builds the check sets once from cfg. They are never mutated
// afterwards.
func buildEngine(cfg *config.Config, inspector vcs.Inspector, logger *zap.Logger) (*engine.GuardEngine, error) {
	sets, err := checks.NewCheckSets(checks.Options{
		ProtectedBranches: cfg.ProtectedBranches,
		WorkspaceRoot:     cfg.WorkspaceRoot,
		Dangerous: matchers.DangerousOptions{
			CriticalProcesses:  cfg.CriticalProcesses,
			CriticalContainers: cfg.CriticalContainers,
			ExtraDestructive:   cfg.DangerousPatterns,
			ExtraCaution:       cfg.CautionPatterns,
		},
		Inspector:    inspector,
		MaxScanBytes: cfg.MaxScanBytes,
	})
	if err != nil {
		return nil, err
	}
	return engine.NewGuardEngine(sets, cfg.CheckTimeout, logger), nil
}

func adapterConfig(cfg *config.Config, source string) hook.Config {
	v, _ := audit.ParseVerbosity(cfg.Verbosity)
	return hook.Config{
		Verbosity: v,
		SessionID: cfg.SessionID,
		ProjectID: cfg.ProjectID,
		Source:    source,
	}
}

// auditWriters opens the configured audit sinks. ClickHouse is only tried
// when withClickHouse is set; a failed connection falls back to the log
// writer.
func auditWriters(ctx context.Context, cfg *config.Config, withClickHouse bool, logger *zap.Logger) []audit.EventWriter {
	var writers []audit.EventWriter
	if cfg.AuditEnabled() {
		w, err := audit.NewJSONLWriter(cfg.AuditLog, logger)
		if err != nil {
			logger.Warn("audit log unavailable", zap.String("path", cfg.AuditLog), zap.Error(err))
		} else {
			writers = append(writers, w)
		}
	}
	if !withClickHouse {
		return writers
	}
	if cfg.ClickHouseDSN == "" {
		logger.Info("no clickhouse_dsn set, using log writer")
		return append(writers, audit.NewLogWriter(logger))
	}
	ch, err := audit.NewClickHouseWriter(ctx, cfg.ClickHouseDSN, logger)
	if err != nil {
		logger.Warn("clickhouse connection failed, falling back to log writer", zap.Error(err))
		return append(writers, audit.NewLogWriter(logger))
	}
	logger.Info("clickhouse writer connected")
	return append(writers, ch)
}
