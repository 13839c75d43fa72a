package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/triage-ai/palisade/services/hook_guard/internal/audit"
	"github.com/triage-ai/palisade/services/hook_guard/internal/hook"
	"github.com/triage-ai/palisade/services/hook_guard/internal/rules"
	"github.com/triage-ai/palisade/services/hook_guard/internal/vcs"
)

var errInteractive = errors.New("check reads one hook event from stdin and is run by the assistant host; pipe a payload to it instead")

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Evaluate one hook event from stdin (PreToolUse hook mode)",
		Long: `Read one tool-call event as JSON from stdin, run the safety checks and
write {"proceed": bool, "message": string} to stdout.

Exit status 0 lets the tool call proceed. Exit status 2 blocks it and the
reason is printed on stderr for the assistant to read.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd, opts)
		},
	}
}

func runCheck(cmd *cobra.Command, opts *rootOptions) error {
	stdin := cmd.InOrStdin()
	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return errInteractive
	}

	cfg, err := opts.load()
	if err != nil {
		return failOpen(stdout, stderr, err)
	}

	logger := hookLogger(cfg.Log.Level, cfg.Log.File)
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ctx := cmd.Context()
	rules.Resolve(ctx, cfg, rules.HookBudget, logger)

	eng, err := buildEngine(cfg, vcs.NewGitInspector(cfg.QueryTimeout, nil), logger)
	if err != nil {
		logger.Error("building checks failed", zap.Error(err))
		return failOpen(stdout, stderr, err)
	}

	var writer audit.EventWriter
	if ws := auditWriters(ctx, cfg, false, logger); len(ws) > 0 {
		writer = audit.NewMultiWriter(ws...)
		defer writer.Close()
	}

	adapter := hook.NewAdapter(eng, writer, adapterConfig(cfg, "hook"), logger)
	if code := adapter.Run(ctx, stdin, stdout, stderr); code != 0 {
		return &exitError{code: code}
	}
	return nil
}

// failOpen answers proceed when hook-guard itself cannot start, so a broken
// installation never wedges the assistant.
func failOpen(stdout, stderr io.Writer, cause error) error {
	fmt.Fprintf(stderr, "hook-guard: %v; allowing tool call\n", cause)
	return json.NewEncoder(stdout).Encode(hook.Response{Proceed: true})
}
