// Package settings registers hook-guard as a PreToolUse hook in a host
// settings.json, leaving every unrelated setting untouched.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// PreToolUse is the hook event hook-guard runs on.
	PreToolUse = "PreToolUse"

	DefaultMatcher = "Bash|Read|Write|Edit|MultiEdit|NotebookEdit"
	DefaultCommand = "hook-guard check"
	DefaultTimeout = 10
)

// HookEntry is a single hook command, e.g. {"type": "command", "command": "..."}.
type HookEntry struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

// HookGroup is a matcher plus the hooks it triggers.
type HookGroup struct {
	Matcher string      `json:"matcher,omitempty"`
	Hooks   []HookEntry `json:"hooks"`
}

// DefaultGroup returns the hook group that runs command on every shell
// and file tool.
func DefaultGroup(command string) HookGroup {
	if command == "" {
		command = DefaultCommand
	}
	return HookGroup{
		Matcher: DefaultMatcher,
		Hooks:   []HookEntry{{Type: "command", Command: command, Timeout: DefaultTimeout}},
	}
}

// UserPath returns ~/.claude/settings.json.
func UserPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("settings.UserPath: %w", err)
	}
	return filepath.Join(home, ".claude", "settings.json"), nil
}

// ProjectPath returns <root>/.claude/settings.json.
func ProjectPath(root string) string {
	return filepath.Join(root, ".claude", "settings.json")
}

// Install adds group to the PreToolUse hooks of the settings file at path
// unless a hook with the same command is already registered. It reports
// whether the file changed.
func Install(path string, group HookGroup) (bool, error) {
	raw, err := load(path)
	if err != nil {
		return false, err
	}
	hooksMap := cloneHooksMap(raw)
	groups, _ := hooksMap[PreToolUse].([]any)

	for _, h := range group.Hooks {
		if groupsContainCommand(groups, h.Command) {
			return false, nil
		}
	}

	hooksMap[PreToolUse] = append(groups, groupToMap(group))
	raw["hooks"] = hooksMap
	if err := writeAtomic(path, raw); err != nil {
		return false, err
	}
	return true, nil
}

// Uninstall removes every PreToolUse hook running command, dropping groups
// left empty. It reports whether the file changed.
func Uninstall(path, command string) (bool, error) {
	raw, err := load(path)
	if err != nil {
		return false, err
	}
	hooksMap := cloneHooksMap(raw)
	groups, _ := hooksMap[PreToolUse].([]any)
	if !groupsContainCommand(groups, command) {
		return false, nil
	}

	kept := make([]any, 0, len(groups))
	for _, g := range groups {
		gm, ok := g.(map[string]any)
		if !ok {
			kept = append(kept, g)
			continue
		}
		entries, _ := gm["hooks"].([]any)
		remaining := make([]any, 0, len(entries))
		for _, e := range entries {
			if entryCommand(e) != command {
				remaining = append(remaining, e)
			}
		}
		if len(remaining) == 0 {
			continue
		}
		gm["hooks"] = remaining
		kept = append(kept, gm)
	}
	if len(kept) == 0 {
		delete(hooksMap, PreToolUse)
	} else {
		hooksMap[PreToolUse] = kept
	}
	raw["hooks"] = hooksMap
	if err := writeAtomic(path, raw); err != nil {
		return false, err
	}
	return true, nil
}

// Installed reports whether a PreToolUse hook runs command.
func Installed(path, command string) (bool, error) {
	raw, err := load(path)
	if err != nil {
		return false, err
	}
	groups, _ := cloneHooksMap(raw)[PreToolUse].([]any)
	return groupsContainCommand(groups, command), nil
}

// load reads the settings file; a missing file is an empty object.
func load(path string) (map[string]any, error) {
	raw := make(map[string]any)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return raw, nil
		}
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return raw, nil
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}
	return raw, nil
}

func cloneHooksMap(raw map[string]any) map[string]any {
	hooksMap := make(map[string]any)
	if existing, ok := raw["hooks"].(map[string]any); ok {
		for k, v := range existing {
			hooksMap[k] = v
		}
	}
	return hooksMap
}

func groupsContainCommand(groups []any, command string) bool {
	want := strings.TrimSpace(command)
	for _, g := range groups {
		gm, ok := g.(map[string]any)
		if !ok {
			continue
		}
		entries, _ := gm["hooks"].([]any)
		for _, e := range entries {
			if strings.TrimSpace(entryCommand(e)) == want {
				return true
			}
		}
	}
	return false
}

func entryCommand(e any) string {
	em, ok := e.(map[string]any)
	if !ok {
		return ""
	}
	cmd, _ := em["command"].(string)
	return cmd
}

// groupToMap converts a HookGroup into the decoded-JSON shape used by the
// rest of the settings tree.
func groupToMap(g HookGroup) map[string]any {
	hooks := make([]any, len(g.Hooks))
	for i, h := range g.Hooks {
		entry := map[string]any{
			"type":    h.Type,
			"command": h.Command,
		}
		if h.Timeout > 0 {
			entry["timeout"] = h.Timeout
		}
		hooks[i] = entry
	}
	result := map[string]any{
		"hooks": hooks,
	}
	if g.Matcher != "" {
		result["matcher"] = g.Matcher
	}
	return result
}

// writeAtomic replaces path with the encoded settings via a temp file in
// the same directory and a rename.
func writeAtomic(path string, raw map[string]any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("settings: create %s: %w", dir, err)
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}
	data = append(data, '\n')

	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return fmt.Errorf("settings: temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("settings: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("settings: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("settings: close: %w", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return fmt.Errorf("settings: chmod: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("settings: rename: %w", err)
	}
	return nil
}
