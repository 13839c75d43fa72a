// Package config loads hook-guard settings from defaults, a config file and
// HOOK_GUARD_* environment variables, in increasing priority.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/triage-ai/palisade/services/hook_guard/internal/audit"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine"
)

// EnvPrefix prefixes every environment override, e.g. HOOK_GUARD_LOG_LEVEL.
const EnvPrefix = "HOOK_GUARD"

// AuditOff disables the JSONL audit log when used as audit_log.
const AuditOff = "off"

// Config is the effective hook-guard configuration.
type Config struct {
	WorkspaceRoot      string        `mapstructure:"workspace_root" yaml:"workspace_root" json:"workspace_root"`
	ProtectedBranches  []string      `mapstructure:"protected_branches" yaml:"protected_branches" json:"protected_branches"`
	CriticalProcesses  []string      `mapstructure:"critical_processes" yaml:"critical_processes" json:"critical_processes"`
	CriticalContainers []string      `mapstructure:"critical_containers" yaml:"critical_containers" json:"critical_containers"`
	DangerousPatterns  []string      `mapstructure:"dangerous_patterns" yaml:"dangerous_patterns" json:"dangerous_patterns"`
	CautionPatterns    []string      `mapstructure:"caution_patterns" yaml:"caution_patterns" json:"caution_patterns"`
	Verbosity          string        `mapstructure:"verbosity" yaml:"verbosity" json:"verbosity"`
	AuditLog           string        `mapstructure:"audit_log" yaml:"audit_log" json:"audit_log"`
	SessionID          string        `mapstructure:"session_id" yaml:"session_id,omitempty" json:"session_id,omitempty"`
	ProjectID          string        `mapstructure:"project_id" yaml:"project_id,omitempty" json:"project_id,omitempty"`
	QueryTimeout       time.Duration `mapstructure:"query_timeout" yaml:"query_timeout" json:"query_timeout"`
	CheckTimeout       time.Duration `mapstructure:"check_timeout" yaml:"check_timeout" json:"check_timeout"`
	MaxScanBytes       int64         `mapstructure:"max_scan_bytes" yaml:"max_scan_bytes" json:"max_scan_bytes"`
	PostgresDSN        string        `mapstructure:"postgres_dsn" yaml:"postgres_dsn,omitempty" json:"postgres_dsn,omitempty"`
	ClickHouseDSN      string        `mapstructure:"clickhouse_dsn" yaml:"clickhouse_dsn,omitempty" json:"clickhouse_dsn,omitempty"`
	Log                LogConfig     `mapstructure:"log" yaml:"log" json:"log"`
	Serve              ServeConfig   `mapstructure:"serve" yaml:"serve" json:"serve"`

	// File is the config file that was read, "" when none was found.
	File string `mapstructure:"-" yaml:"-" json:"-"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" json:"level"` // debug, info, warn, error
	File  string `mapstructure:"file" yaml:"file,omitempty" json:"file,omitempty"`
}

// ServeConfig configures daemon mode.
type ServeConfig struct {
	GRPCAddr  string `mapstructure:"grpc_addr" yaml:"grpc_addr" json:"grpc_addr"`
	HTTPAddr  string `mapstructure:"http_addr" yaml:"http_addr" json:"http_addr"`
	TokenHash string `mapstructure:"token_hash" yaml:"token_hash,omitempty" json:"token_hash,omitempty"`
}

// LoadOptions controls where configuration is looked up.
type LoadOptions struct {
	File    string // explicit config file; must exist when set
	WorkDir string // "" = process working directory
}

// Load builds the effective configuration.
func Load(opts LoadOptions) (*Config, error) {
	workDir := opts.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("config.Load: working directory: %w", err)
		}
		workDir = wd
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, workDir)

	file := opts.File
	if file == "" {
		file = discoverFile(workDir)
	}
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config.Load: read %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: decode: %w", err)
	}
	cfg.File = file
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, workDir string) {
	root := os.Getenv("CLAUDE_PROJECT_DIR")
	if root == "" {
		root = workDir
	}
	v.SetDefault("workspace_root", root)
	v.SetDefault("protected_branches", []string{"main", "master"})
	v.SetDefault("critical_processes", []string{})
	v.SetDefault("critical_containers", []string{})
	v.SetDefault("dangerous_patterns", []string{})
	v.SetDefault("caution_patterns", []string{})
	v.SetDefault("verbosity", string(audit.VerbosityStandard))
	v.SetDefault("audit_log", "")
	v.SetDefault("session_id", "")
	v.SetDefault("project_id", "")
	v.SetDefault("query_timeout", engine.DefaultQueryTimeout)
	v.SetDefault("check_timeout", engine.DefaultCheckTimeout)
	v.SetDefault("max_scan_bytes", 1<<20)
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("clickhouse_dsn", "")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.file", "")
	v.SetDefault("serve.grpc_addr", ":50061")
	v.SetDefault("serve.http_addr", ":8091")
	v.SetDefault("serve.token_hash", "")
}

// discoverFile returns the first existing default config file:
// .hook-guard.yaml in workDir, then $XDG_CONFIG_HOME/hook-guard/config.yaml.
func discoverFile(workDir string) string {
	candidates := []string{
		filepath.Join(workDir, ".hook-guard.yaml"),
		filepath.Join(workDir, ".hook-guard.yml"),
	}
	if dir := configHome(); dir != "" {
		candidates = append(candidates, filepath.Join(dir, "hook-guard", "config.yaml"))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
			return c
		}
	}
	return ""
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config")
}

// DefaultAuditLog is $XDG_STATE_HOME/hook-guard/audit.jsonl, falling back
// to ~/.local/state.
func DefaultAuditLog() string {
	dir := os.Getenv("XDG_STATE_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "hook-guard", "audit.jsonl")
		}
		dir = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(dir, "hook-guard", "audit.jsonl")
}

func applyDefaults(cfg *Config) {
	if cfg.AuditLog == "" {
		cfg.AuditLog = DefaultAuditLog()
	}
	if cfg.QueryTimeout > engine.MaxQueryTimeout {
		cfg.QueryTimeout = engine.MaxQueryTimeout
	}
	if cfg.WorkspaceRoot != "" {
		if abs, err := filepath.Abs(cfg.WorkspaceRoot); err == nil {
			cfg.WorkspaceRoot = abs
		}
	}
	cfg.ProtectedBranches = compact(cfg.ProtectedBranches)
	cfg.CriticalProcesses = compact(cfg.CriticalProcesses)
	cfg.CriticalContainers = compact(cfg.CriticalContainers)
	cfg.DangerousPatterns = compact(cfg.DangerousPatterns)
	cfg.CautionPatterns = compact(cfg.CautionPatterns)
}

// compact trims entries and drops empties and duplicates, keeping order.
func compact(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	return out
}

// Validate rejects settings the checks cannot be built from.
func (c *Config) Validate() error {
	if _, err := audit.ParseVerbosity(c.Verbosity); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.QueryTimeout <= 0 {
		return fmt.Errorf("config: query_timeout must be positive, got %s", c.QueryTimeout)
	}
	if c.CheckTimeout <= 0 {
		return fmt.Errorf("config: check_timeout must be positive, got %s", c.CheckTimeout)
	}
	if c.MaxScanBytes < 0 {
		return fmt.Errorf("config: max_scan_bytes must not be negative, got %d", c.MaxScanBytes)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: log.level: %w", err)
	}
	return nil
}

// AuditEnabled reports whether the JSONL audit log is on.
func (c *Config) AuditEnabled() bool {
	return !strings.EqualFold(c.AuditLog, AuditOff)
}

// MergeLists appends the entries of extra that are not in base yet.
func MergeLists(base, extra []string) []string {
	return compact(append(append([]string{}, base...), extra...))
}
