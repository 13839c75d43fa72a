package matchers

import (
	"regexp"
	"strings"
)

// GitCommand is one parsed git invocation.
type GitCommand struct {
	Dir   string   // -C argument, "" when absent
	Sub   string   // subcommand, "" for a bare "git"
	Flags []string // options after the subcommand
	Args  []string // positional arguments after the subcommand
}

// WriteTarget describes which branches a write operation modifies.
type WriteTarget struct {
	Op       string   // commit, push, merge or reset
	Branches []string // explicit branch names
	All      bool     // every branch (--all / --mirror)
	Current  bool     // the checked-out branch, which needs a VCS query
}

// valueFlags lists, per subcommand, the options that consume the next word.
var valueFlags = map[string]map[string]bool{
	"commit": {"-m": true, "--message": true, "-F": true, "--file": true, "-C": true, "-c": true,
		"--reuse-message": true, "--reedit-message": true, "--author": true, "--date": true,
		"-t": true, "--template": true, "--fixup": true, "--squash": true, "--cleanup": true},
	"push":   {"-o": true, "--push-option": true, "--repo": true, "--receive-pack": true, "--exec": true},
	"merge":  {"-m": true, "-F": true, "--file": true, "-s": true, "--strategy": true, "-X": true, "--strategy-option": true},
	"rebase": {"--onto": true, "-s": true, "--strategy": true, "-X": true, "--strategy-option": true, "-x": true, "--exec": true},
	"reset":  {},
}

// globalValueFlags are git options before the subcommand that take a value.
var globalValueFlags = map[string]bool{
	"-C": true, "-c": true, "--git-dir": true, "--work-tree": true, "--namespace": true, "--config-env": true,
}

// ParseGit returns every git invocation in a command line, in order.
func ParseGit(command string) []GitCommand {
	var out []GitCommand
	for _, seg := range SplitCommand(command) {
		if seg.Base != "git" {
			continue
		}
		out = append(out, parseGitArgs(seg.Args))
	}
	return out
}

func parseGitArgs(args []string) GitCommand {
	var g GitCommand
	i := 0
	for i < len(args) {
		a := args[i]
		if !strings.HasPrefix(a, "-") {
			break
		}
		if a == "-C" && i+1 < len(args) {
			g.Dir = args[i+1]
		}
		if globalValueFlags[a] && !strings.Contains(a, "=") {
			i += 2
			continue
		}
		i++
	}
	if i >= len(args) {
		return g
	}
	g.Sub = args[i]
	takesValue := valueFlags[g.Sub]

	rest := false
	for j := i + 1; j < len(args); j++ {
		a := args[j]
		switch {
		case rest:
			g.Args = append(g.Args, a)
		case a == "--":
			rest = true
		case strings.HasPrefix(a, "-") && a != "-":
			g.Flags = append(g.Flags, a)
			if takesValue[a] {
				j++
			}
		default:
			g.Args = append(g.Args, a)
		}
	}
	return g
}

// HasFlag reports whether the invocation carries one of the long options
// (exactly or as name=value) or short option letters given.
func (g GitCommand) HasFlag(names ...string) bool {
	for _, n := range names {
		if strings.HasPrefix(n, "--") {
			if HasLongFlag(g.Flags, n) {
				return true
			}
			continue
		}
		if len(n) == 2 && n[0] == '-' && HasShortFlag(g.Flags, rune(n[1])) {
			return true
		}
	}
	return false
}

// IsForcePush reports a push that overwrites remote history. A lease-guarded
// push is not counted.
func (g GitCommand) IsForcePush() bool {
	if g.Sub != "push" {
		return false
	}
	if g.HasFlag("--force", "-f") {
		return true
	}
	for _, a := range g.refspecs() {
		if strings.HasPrefix(a, "+") {
			return true
		}
	}
	return false
}

// WriteTargets reports whether the invocation writes to a branch and, if so,
// which one. Read-only subcommands return false.
func (g GitCommand) WriteTargets() (WriteTarget, bool) {
	switch g.Sub {
	case "commit":
		if g.HasFlag("--dry-run") {
			return WriteTarget{}, false
		}
		return WriteTarget{Op: "commit", Current: true}, true
	case "merge":
		if g.HasFlag("--abort", "--quit") {
			return WriteTarget{}, false
		}
		return WriteTarget{Op: "merge", Current: true}, true
	case "reset":
		if !g.HasFlag("--hard") {
			return WriteTarget{}, false
		}
		return WriteTarget{Op: "reset --hard", Current: true}, true
	case "push":
		return g.pushTargets(), true
	}
	return WriteTarget{}, false
}

func (g GitCommand) refspecs() []string {
	if g.Sub != "push" || len(g.Args) < 2 {
		return nil
	}
	return g.Args[1:]
}

func (g GitCommand) pushTargets() WriteTarget {
	t := WriteTarget{Op: "push"}
	if g.HasFlag("--all", "--mirror", "--branches") {
		t.All = true
		return t
	}
	specs := g.refspecs()
	if len(specs) == 0 {
		if g.HasFlag("--tags") {
			return t
		}
		t.Current = true
		return t
	}
	deleting := g.HasFlag("--delete", "-d")
	for _, spec := range specs {
		spec = strings.TrimPrefix(spec, "+")
		dst := spec
		if idx := strings.LastIndexByte(spec, ':'); idx >= 0 {
			dst = spec[idx+1:]
			if dst == "" {
				dst = spec[:idx]
			}
		} else if deleting {
			dst = spec
		}
		if strings.HasPrefix(dst, "refs/tags/") {
			continue
		}
		dst = strings.TrimPrefix(dst, "refs/heads/")
		if dst == "HEAD" || dst == "@" {
			t.Current = true
			continue
		}
		if dst != "" {
			t.Branches = append(t.Branches, dst)
		}
	}
	return t
}

var relativeRevision = regexp.MustCompile(`^(?:HEAD|@)(?:~\d*|\^+\d*)+$`)

// rebaseControl are rebase options that resume or stop an existing rebase.
var rebaseControl = []string{"--continue", "--abort", "--skip", "--quit", "--edit-todo", "--show-current-patch"}

// Rewrite describes the commits an invocation replaces.
type Rewrite struct {
	Op string // amend, rebase or reset
	// Base is the revision the rewrite starts from: commits reachable from
	// HEAD but not from Base are replaced. It is empty for amend, which
	// replaces HEAD alone, and for rebase --root, which replaces the whole
	// history.
	Base string
}

// RewritesHistory reports whether the invocation replaces existing commits:
// commit --amend, rebase, or a reset back to HEAD~n / HEAD^.
func (g GitCommand) RewritesHistory() (Rewrite, bool) {
	switch g.Sub {
	case "commit":
		if g.HasFlag("--amend") {
			return Rewrite{Op: "amend"}, true
		}
	case "rebase":
		if g.HasFlag(rebaseControl...) {
			return Rewrite{}, false
		}
		if g.HasFlag("--root") {
			return Rewrite{Op: "rebase"}, true
		}
		if len(g.Args) > 0 {
			return Rewrite{Op: "rebase", Base: g.Args[0]}, true
		}
		return Rewrite{Op: "rebase", Base: "@{upstream}"}, true
	case "reset":
		for _, a := range g.Args {
			if relativeRevision.MatchString(a) {
				return Rewrite{Op: "reset", Base: a}, true
			}
		}
	}
	return Rewrite{}, false
}

// IsProtected reports whether branch is in the protected list. The match is
// exact.
func IsProtected(branch string, protected []string) bool {
	for _, p := range protected {
		if branch == p {
			return true
		}
	}
	return false
}
