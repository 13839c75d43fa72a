package main

import (
	"github.com/spf13/cobra"

	"github.com/triage-ai/palisade/services/hook_guard/internal/config"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configFile string
}

func (o *rootOptions) load() (*config.Config, error) {
	return config.Load(config.LoadOptions{File: o.configFile})
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "hook-guard",
		Short: "Safety checks for AI coding-assistant tool calls",
		Long: `hook-guard inspects every shell command and file operation an AI coding
assistant is about to run and blocks the ones that are destructive, leak
credentials, escape the workspace or rewrite protected git history.

Register it as a PreToolUse hook:
  hook-guard install

or run it as a shared daemon:
  hook-guard serve`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "",
		"config file (default .hook-guard.yaml, then $XDG_CONFIG_HOME/hook-guard/config.yaml)")

	cmd.AddCommand(
		newCheckCmd(opts),
		newServeCmd(opts),
		newInstallCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}
