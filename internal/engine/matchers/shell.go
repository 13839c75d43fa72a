// Package matchers holds the pure predicates the checks are built from.
// Apart from symlink resolution in ResolvePath, nothing here performs I/O.
package matchers

import (
	"path/filepath"
	"strings"
)

// Segment is one simple command of a compound shell command line.
type Segment struct {
	Text  string   // raw text, trimmed
	Words []string // shell words with quotes removed
	Base  string   // command name after wrappers and assignments, path stripped
	Args  []string // words after Base
	Piped bool     // right-hand side of a pipe
}

// wrappers are commands that execute their arguments as another command.
var wrappers = map[string]bool{
	"sudo":    true,
	"doas":    true,
	"env":     true,
	"command": true,
	"exec":    true,
	"nohup":   true,
	"time":    true,
	"nice":    true,
}

// maxNesting bounds how deep SplitCommand descends into sh -c scripts and
// command substitutions.
const maxNesting = 4

// SplitCommand splits a command line on &&, ||, ;, &, | and newlines while
// respecting single and double quotes. Subshell and brace grouping is
// stripped. The scripts of sh -c and the bodies of $(...), `...` and
// <(...) are split as well and their segments follow the segment that
// contains them.
func SplitCommand(command string) []Segment {
	return splitNested(command, 0)
}

func splitNested(command string, depth int) []Segment {
	var out []Segment
	for _, seg := range splitTopLevel(command) {
		out = append(out, seg)
		if depth >= maxNesting {
			continue
		}
		for _, inner := range nestedScripts(seg) {
			out = append(out, splitNested(inner, depth+1)...)
		}
	}
	return out
}

func splitTopLevel(command string) []Segment {
	var segments []Segment
	var current strings.Builder
	inSingle, inDouble, inBacktick, escaped := false, false, false, false
	subst := 0
	piped := false

	flush := func(nextPiped bool) {
		if s := newSegment(current.String(), piped); s != nil {
			segments = append(segments, *s)
		}
		current.Reset()
		piped = nextPiped
	}

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		next := rune(0)
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		if escaped {
			current.WriteRune(ch)
			escaped = false
			continue
		}
		if ch == '\\' && !inSingle {
			current.WriteRune(ch)
			escaped = true
			continue
		}
		// substitution bodies are split later, by nestedScripts
		if subst > 0 {
			switch ch {
			case '(':
				subst++
			case ')':
				subst--
			}
			current.WriteRune(ch)
			continue
		}
		if inBacktick {
			if ch == '`' {
				inBacktick = false
			}
			current.WriteRune(ch)
			continue
		}
		if !inSingle {
			if ch == '`' {
				inBacktick = true
				current.WriteRune(ch)
				continue
			}
			if next == '(' && (ch == '$' || !inDouble && (ch == '<' || ch == '>')) {
				subst = 1
				current.WriteRune(ch)
				current.WriteRune(next)
				i++
				continue
			}
		}
		if ch == '\'' && !inDouble {
			inSingle = !inSingle
			current.WriteRune(ch)
			continue
		}
		if ch == '"' && !inSingle {
			inDouble = !inDouble
			current.WriteRune(ch)
			continue
		}
		if inSingle || inDouble {
			current.WriteRune(ch)
			continue
		}

		switch {
		case ch == '&' && next == '&', ch == '|' && next == '|':
			flush(false)
			i++
		case ch == '|':
			// |& pipes stderr too
			if next == '&' {
				i++
			}
			flush(true)
		case ch == '&' && next == '>':
			current.WriteRune(ch)
		case ch == '&' && i > 0 && runes[i-1] == '>':
			current.WriteRune(ch)
		case ch == '&', ch == ';', ch == '\n':
			flush(false)
		default:
			current.WriteRune(ch)
		}
	}
	flush(false)
	return segments
}

// inlineShells take a script as the argument of -c.
var inlineShells = map[string]bool{
	"bash": true, "sh": true, "zsh": true, "dash": true, "ksh": true, "fish": true, "su": true,
}

// nestedScripts returns the command strings seg runs indirectly.
func nestedScripts(seg Segment) []string {
	scripts := substitutions(seg.Text)
	if !inlineShells[seg.Base] {
		return scripts
	}
	for i, a := range seg.Args {
		if a == "--" || !strings.HasPrefix(a, "-") || strings.HasPrefix(a, "--") {
			continue
		}
		if !strings.ContainsRune(a[1:], 'c') {
			continue
		}
		for _, script := range seg.Args[i+1:] {
			if !strings.HasPrefix(script, "-") {
				return append(scripts, script)
			}
		}
		break
	}
	return scripts
}

// substitutions returns the bodies of the outermost $(...), <(...), >(...)
// and `...` in text. Single-quoted text is literal.
func substitutions(text string) []string {
	var out []string
	runes := []rune(text)
	inSingle, inDouble := false, false
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch {
		case ch == '\\' && !inSingle:
			i++
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
		case inSingle:
		case ch == '"':
			inDouble = !inDouble
		case ch == '`':
			end := i + 1
			for end < len(runes) && runes[end] != '`' {
				if runes[end] == '\\' {
					end++
				}
				end++
			}
			if end > len(runes) {
				end = len(runes)
			}
			out = append(out, string(runes[i+1:end]))
			i = end
		case i+1 < len(runes) && runes[i+1] == '(' && (ch == '$' || !inDouble && (ch == '<' || ch == '>')):
			depth, end := 1, i+2
			for ; end < len(runes); end++ {
				if runes[end] == '(' {
					depth++
				} else if runes[end] == ')' {
					depth--
					if depth == 0 {
						break
					}
				}
			}
			out = append(out, string(runes[i+2:min(end, len(runes))]))
			i = end
		}
	}
	return out
}

func newSegment(text string, piped bool) *Segment {
	text = trimGrouping(text)
	if text == "" {
		return nil
	}
	words := splitWords(text)
	s := &Segment{Text: text, Words: words, Piped: piped}

	i := 0
	for i < len(words) {
		w := words[i]
		switch {
		case isAssignment(w):
			i++
		case wrappers[filepath.Base(w)]:
			i++
			// wrapper options such as sudo -u root or env -i
			for i < len(words) && (strings.HasPrefix(words[i], "-") || isAssignment(words[i])) {
				if words[i] == "-u" || words[i] == "-g" || words[i] == "-n" {
					i++
				}
				i++
			}
		default:
			s.Base = filepath.Base(w)
			s.Args = words[i+1:]
			return s
		}
	}
	return s
}

// trimGrouping removes the ( ) and { } of subshells and brace groups. A
// closing paren is only removed when it has no opening partner in text, so
// $(...) survives.
func trimGrouping(text string) string {
	for {
		t := strings.TrimSpace(text)
		switch {
		case strings.HasPrefix(t, "("):
			t = t[1:]
		case t == "{" || strings.HasPrefix(t, "{ ") || strings.HasPrefix(t, "{\t"):
			t = t[1:]
		case t == "}":
			t = ""
		case strings.HasSuffix(t, ")") && strings.Count(t, ")") > strings.Count(t, "("):
			t = t[:len(t)-1]
		}
		if t == text {
			return t
		}
		text = t
	}
}

func isAssignment(w string) bool {
	eq := strings.IndexByte(w, '=')
	if eq <= 0 {
		return false
	}
	for _, r := range w[:eq] {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// splitWords splits a simple command into words, removing quotes and
// backslash escapes.
func splitWords(s string) []string {
	var words []string
	var cur strings.Builder
	inWord, inSingle, inDouble, escaped := false, false, false, false
	for _, ch := range s {
		switch {
		case escaped:
			cur.WriteRune(ch)
			escaped = false
		case ch == '\\' && !inSingle:
			escaped = true
			inWord = true
		case ch == '\'' && !inDouble:
			inSingle = !inSingle
			inWord = true
		case ch == '"' && !inSingle:
			inDouble = !inDouble
			inWord = true
		case (ch == ' ' || ch == '\t') && !inSingle && !inDouble:
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		default:
			cur.WriteRune(ch)
			inWord = true
		}
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words
}

// shellInterpreters are commands that execute a script read from stdin.
var shellInterpreters = map[string]bool{
	"bash": true, "sh": true, "zsh": true, "fish": true, "dash": true, "ksh": true,
	"python": true, "python3": true, "perl": true, "ruby": true, "node": true,
}

// IsShellInterpreter reports whether base runs a script from stdin.
func IsShellInterpreter(base string) bool {
	return shellInterpreters[base]
}

// Flags returns the option words of args, stopping at "--".
func Flags(args []string) []string {
	var out []string
	for _, a := range args {
		if a == "--" {
			break
		}
		if strings.HasPrefix(a, "-") && a != "-" {
			out = append(out, a)
		}
	}
	return out
}

// Operands returns the non-option words of args. Everything after "--" is an
// operand.
func Operands(args []string) []string {
	var out []string
	rest := false
	for _, a := range args {
		if rest {
			out = append(out, a)
			continue
		}
		if a == "--" {
			rest = true
			continue
		}
		if !strings.HasPrefix(a, "-") || a == "-" {
			out = append(out, a)
		}
	}
	return out
}

// HasShortFlag reports whether a short option cluster in flags contains r,
// e.g. 'f' in "-rf".
func HasShortFlag(flags []string, r rune) bool {
	for _, f := range flags {
		if strings.HasPrefix(f, "--") || !strings.HasPrefix(f, "-") {
			continue
		}
		if strings.ContainsRune(f[1:], r) {
			return true
		}
	}
	return false
}

// HasLongFlag reports whether flags contains one of names exactly or as
// name=value.
func HasLongFlag(flags []string, names ...string) bool {
	for _, f := range flags {
		for _, n := range names {
			if f == n || strings.HasPrefix(f, n+"=") {
				return true
			}
		}
	}
	return false
}
