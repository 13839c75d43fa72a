package checks

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/triage-ai/palisade/services/hook_guard/internal/engine"
	"github.com/triage-ai/palisade/services/hook_guard/internal/engine/matchers"
)

// contentParams carry file content. The secret scanner owns them.
var contentParams = map[string]bool{
	"content":    true,
	"new_string": true,
	"old_string": true,
	"edits":      true,
	"new_source": true,
}

// pathParams name the target file of read/write/edit tools.
var pathParams = []string{"file_path", "path", "notebook_path"}

// stringValue is a string leaf of the parameter tree and where it was found.
type stringValue struct {
	path  string
	value string
}

// collectStrings flattens nested objects and arrays into their string leaves,
// visiting map keys in sorted order so results are deterministic.
func collectStrings(path string, v any, out *[]stringValue) {
	switch val := v.(type) {
	case string:
		*out = append(*out, stringValue{path: path, value: val})
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectStrings(path+"."+k, val[k], out)
		}
	case []any:
		for i, child := range val {
			collectStrings(fmt.Sprintf("%s[%d]", path, i), child, out)
		}
	}
}

// targetPaths returns the non-empty path parameters of ev.
func targetPaths(ev *engine.Event) []string {
	var out []string
	for _, name := range pathParams {
		if p := ev.Param(name); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// gitDir picks the directory a git invocation runs in: its -C argument
// (relative to the event's working directory) or the working directory.
func gitDir(ev *engine.Event, g matchers.GitCommand) string {
	if g.Dir == "" {
		return ev.Cwd()
	}
	if filepath.IsAbs(g.Dir) || ev.Cwd() == "" {
		return g.Dir
	}
	return filepath.Join(ev.Cwd(), g.Dir)
}
