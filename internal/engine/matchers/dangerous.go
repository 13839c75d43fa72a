package matchers

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Tier classifies how dangerous a shell command is.
type Tier int

const (
	TierNone        Tier = iota
	TierCaution          // warn
	TierDestructive      // block
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierCaution:
		return "caution"
	case TierDestructive:
		return "destructive"
	default:
		return "none"
	}
}

// DangerousMatch describes why a command matched.
type DangerousMatch struct {
	Tier    Tier
	Rule    string // human-readable rule description
	Segment string // offending segment, or the full command for whole-line rules
}

// DangerousOptions carries the operator-supplied parts of the rule set.
type DangerousOptions struct {
	CriticalProcesses  []string
	CriticalContainers []string
	ExtraDestructive   []string // regexes
	ExtraCaution       []string // regexes
}

type patternRule struct {
	re     *regexp.Regexp
	detail string
}

// DangerousRules is the immutable rule set of the dangerous-operation
// matcher. Build it once with NewDangerousRules and share it freely.
type DangerousRules struct {
	criticalProcesses  []string
	criticalContainers map[string]bool
	extraDestructive   []patternRule
	extraCaution       []patternRule
}

// lineRules apply to the whole command line, before it is split.
var lineRules = []patternRule{
	{regexp.MustCompile(`:\s*\(\s*\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;?\s*:`), "fork bomb"},
	{regexp.MustCompile(`\bfork\s+while\s+fork\b`), "fork bomb"},
	{regexp.MustCompile(`\b(?:bash|sh|zsh|dash|ksh)\s+<\(\s*(?:curl|wget|fetch)\b`), "remote script executed by a shell"},
	{regexp.MustCompile(`\b(?:bash|sh|zsh|dash|ksh)\s+-c\s+["']?\$\(\s*(?:curl|wget|fetch)\b`), "remote script executed by a shell"},
	{regexp.MustCompile(`(?:^|[^<&0-9])>\|?\s*/dev/(?:sd[a-z]|hd[a-z]|vd[a-z]|xvd[a-z]|nvme\d|mmcblk\d|disk\d|rdisk\d)`), "redirection onto a raw disk device"},
}

var (
	ddDevice    = regexp.MustCompile(`\bof=/dev/(?:sd|hd|vd|xvd|nvme|mmcblk|disk|rdisk|md|dm-|mapper/)`)
	topLevelDir = regexp.MustCompile(`^/[^/*]+/?\*?$`)
)

var remoteFetchers = map[string]bool{"curl": true, "wget": true, "fetch": true}

// NewDangerousRules compiles the rule set. Invalid operator patterns are an
// error.
func NewDangerousRules(opts DangerousOptions) (*DangerousRules, error) {
	r := &DangerousRules{
		criticalProcesses:  sortedKeys(toSet(opts.CriticalProcesses)),
		criticalContainers: toSet(opts.CriticalContainers),
	}
	var err error
	if r.extraDestructive, err = compileRules(opts.ExtraDestructive, "configured destructive pattern"); err != nil {
		return nil, err
	}
	if r.extraCaution, err = compileRules(opts.ExtraCaution, "configured caution pattern"); err != nil {
		return nil, err
	}
	return r, nil
}

func compileRules(patterns []string, label string) ([]patternRule, error) {
	rules := make([]patternRule, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile %s %q: %w", label, p, err)
		}
		rules = append(rules, patternRule{re: re, detail: label + " " + p})
	}
	return rules, nil
}

func toSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			m[it] = true
		}
	}
	return m
}

// Match classifies command. Destructive rules win over caution rules.
func (r *DangerousRules) Match(command string) (DangerousMatch, bool) {
	if strings.TrimSpace(command) == "" {
		return DangerousMatch{}, false
	}
	if m, ok := r.matchTier(command, TierDestructive); ok {
		return m, true
	}
	return r.matchTier(command, TierCaution)
}

func (r *DangerousRules) matchTier(command string, tier Tier) (DangerousMatch, bool) {
	segments := SplitCommand(command)

	if tier == TierDestructive {
		for _, rule := range lineRules {
			if rule.re.MatchString(command) {
				return DangerousMatch{Tier: tier, Rule: rule.detail, Segment: command}, true
			}
		}
	}

	extra := r.extraCaution
	if tier == TierDestructive {
		extra = r.extraDestructive
	}
	for _, rule := range extra {
		if rule.re.MatchString(command) {
			return DangerousMatch{Tier: tier, Rule: rule.detail, Segment: command}, true
		}
	}

	fetched := false
	for _, seg := range segments {
		if tier == TierDestructive {
			if seg.Piped && fetched && IsShellInterpreter(seg.Base) {
				return DangerousMatch{Tier: tier, Rule: "remote script piped into " + seg.Base, Segment: seg.Text}, true
			}
			if remoteFetchers[seg.Base] {
				fetched = true
			}
		}
		var detail string
		if tier == TierDestructive {
			detail = r.destructiveSegment(seg)
		} else {
			detail = cautionSegment(seg)
		}
		if detail != "" {
			return DangerousMatch{Tier: tier, Rule: detail, Segment: seg.Text}, true
		}
	}
	return DangerousMatch{}, false
}

func (r *DangerousRules) destructiveSegment(seg Segment) string {
	flags := Flags(seg.Args)
	operands := Operands(seg.Args)
	switch {
	case seg.Base == "rm":
		if isRecursiveForce(flags) {
			for _, op := range operands {
				if isRootLevelTarget(op) {
					return "recursive force delete of " + op
				}
			}
		}
	case strings.HasPrefix(seg.Base, "mkfs"):
		return "filesystem creation (" + seg.Base + ")"
	case seg.Base == "dd":
		if ddDevice.MatchString(seg.Text) {
			return "dd onto a disk device"
		}
	case seg.Base == "wipefs":
		return "filesystem signature wipe"
	case seg.Base == "shred":
		for _, op := range operands {
			if strings.HasPrefix(op, "/dev/") {
				return "shred of device " + op
			}
		}
	case seg.Base == "diskutil":
		if len(operands) > 0 {
			switch strings.ToLower(operands[0]) {
			case "erasedisk", "zerodisk", "secureerase", "erasevolume", "randomdisk":
				return "diskutil " + operands[0]
			}
		}
	case seg.Base == "chmod":
		if isRecursive(flags) && isWorldWritable(operands) {
			for _, op := range operands[1:] {
				if op == "/" || op == "/*" {
					return "recursive chmod 777 of /"
				}
			}
		}
	case seg.Base == "pkill" || seg.Base == "killall":
		for _, name := range r.criticalProcesses {
			for _, op := range operands {
				if op == name || strings.Contains(op, name) && HasShortFlag(flags, 'f') {
					return "kill of critical process " + name
				}
			}
		}
	case seg.Base == "kill":
		for _, name := range r.criticalProcesses {
			if containsWord(seg.Text, name) {
				return "kill of critical process " + name
			}
		}
	case seg.Base == "docker" || seg.Base == "podman":
		if name := r.criticalContainerTarget(operands); name != "" {
			return "removal of critical container " + name
		}
	}
	return ""
}

func (r *DangerousRules) criticalContainerTarget(operands []string) string {
	if len(operands) == 0 || len(r.criticalContainers) == 0 {
		return ""
	}
	ops := operands
	if ops[0] == "container" && len(ops) > 1 {
		ops = ops[1:]
	}
	switch ops[0] {
	case "rm", "stop", "kill":
	default:
		return ""
	}
	for _, op := range ops[1:] {
		if r.criticalContainers[op] {
			return op
		}
	}
	return ""
}

func cautionSegment(seg Segment) string {
	flags := Flags(seg.Args)
	switch seg.Base {
	case "git":
		g := parseGitArgs(seg.Args)
		switch {
		case g.IsForcePush():
			return "git force push"
		case g.Sub == "reset" && g.HasFlag("--hard"):
			return "git reset --hard discards local changes"
		case g.Sub == "clean" && g.HasFlag("--force", "-f"):
			return "git clean -f deletes untracked files"
		case g.Sub == "branch" && (g.HasFlag("-D") || g.HasFlag("--delete") && g.HasFlag("--force", "-f")):
			return "git branch -D deletes an unmerged branch"
		case (g.Sub == "checkout" || g.Sub == "restore") && containsString(g.Args, "."):
			return "git " + g.Sub + " . discards working tree changes"
		}
	case "rm":
		if isRecursiveForce(flags) {
			return "recursive force delete"
		}
	case "chmod":
		if isRecursive(flags) && isWorldWritable(Operands(seg.Args)) {
			return "recursive chmod 777"
		}
	}
	return ""
}

func isRecursiveForce(flags []string) bool {
	recursive := isRecursive(flags)
	force := HasShortFlag(flags, 'f') || HasLongFlag(flags, "--force")
	return recursive && force
}

func isRecursive(flags []string) bool {
	return HasShortFlag(flags, 'r') || HasShortFlag(flags, 'R') || HasLongFlag(flags, "--recursive")
}

func isWorldWritable(operands []string) bool {
	if len(operands) == 0 {
		return false
	}
	mode := operands[0]
	return mode == "777" || mode == "0777" || mode == "a+rwx" || mode == "ugo+rwx"
}

func isRootLevelTarget(op string) bool {
	switch op {
	case "/", "/*", "~", "~/", "~/*", "$HOME", "$HOME/", "$HOME/*", "${HOME}", "${HOME}/", "${HOME}/*":
		return true
	}
	return topLevelDir.MatchString(op)
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// containsWord reports whether s contains w delimited by non-word characters.
func containsWord(s, w string) bool {
	for _, f := range strings.FieldsFunc(s, func(r rune) bool {
		return !(r == '-' || r == '_' || r == '.' || unicode.IsLetter(r) || unicode.IsDigit(r))
	}) {
		if f == w {
			return true
		}
	}
	return false
}

func containsString(items []string, s string) bool {
	for _, it := range items {
		if it == s {
			return true
		}
	}
	return false
}
