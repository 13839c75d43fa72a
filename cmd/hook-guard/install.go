package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/triage-ai/palisade/services/hook_guard/internal/settings"
)

type installOptions struct {
	project   bool
	path      string
	command   string
	absolute  bool
	uninstall bool
}

func newInstallCmd(opts *rootOptions) *cobra.Command {
	iopts := &installOptions{}
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Register hook-guard as a PreToolUse hook in settings.json",
		Long: `Add "hook-guard check" to the PreToolUse hooks of ~/.claude/settings.json
(or the project's .claude/settings.json with --project). Existing settings
and hooks are preserved and running install twice changes nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInstall(cmd, opts, iopts)
		},
	}
	cmd.Flags().BoolVar(&iopts.project, "project", false, "install into <workspace_root>/.claude/settings.json")
	cmd.Flags().StringVar(&iopts.path, "settings", "", "explicit settings.json path")
	cmd.Flags().StringVar(&iopts.command, "command", settings.DefaultCommand, "hook command to register")
	cmd.Flags().BoolVar(&iopts.absolute, "absolute", false, "register this binary's absolute path instead of relying on PATH")
	cmd.Flags().BoolVar(&iopts.uninstall, "uninstall", false, "remove the hook instead")
	return cmd
}

func runInstall(cmd *cobra.Command, opts *rootOptions, iopts *installOptions) error {
	path := iopts.path
	if path == "" {
		if iopts.project {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			path = settings.ProjectPath(cfg.WorkspaceRoot)
		} else {
			p, err := settings.UserPath()
			if err != nil {
				return err
			}
			path = p
		}
	}

	command := iopts.command
	if iopts.absolute {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
		command = exe + " check"
	}

	out := cmd.OutOrStdout()
	if iopts.uninstall {
		changed, err := settings.Uninstall(path, command)
		if err != nil {
			return err
		}
		if changed {
			fmt.Fprintf(out, "Removed %q from %s\n", command, path)
		} else {
			fmt.Fprintf(out, "%q is not installed in %s\n", command, path)
		}
		return nil
	}

	changed, err := settings.Install(path, settings.DefaultGroup(command))
	if err != nil {
		return err
	}
	if changed {
		fmt.Fprintf(out, "Installed %q as a PreToolUse hook in %s\n", command, path)
	} else {
		fmt.Fprintf(out, "%q is already installed in %s\n", command, path)
	}
	return nil
}
