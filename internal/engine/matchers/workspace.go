package matchers

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// maxSymlinkHops matches the Linux ELOOP limit.
const maxSymlinkHops = 40

// ErrSymlinkLoop is returned when a path cannot be resolved within
// maxSymlinkHops links.
var ErrSymlinkLoop = errors.New("too many levels of symbolic links")

// ResolvePath returns the canonical absolute form of p. A leading ~ expands
// to the home directory and relative paths are joined to base. The path is
// then walked one component at a time the way the kernel does: a symlink is
// replaced by its target before any following "..", and a link whose target
// does not exist yet resolves to that target. Components that do not exist
// are appended lexically.
func ResolvePath(base, p string) (string, error) {
	if p == "" {
		return "", errors.New("empty path")
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("ResolvePath: home directory: %w", err)
		}
		p = home + string(filepath.Separator) + strings.TrimPrefix(p, "~")
	}
	if !filepath.IsAbs(p) {
		if base == "" {
			wd, err := os.Getwd()
			if err != nil {
				return "", fmt.Errorf("ResolvePath: working directory: %w", err)
			}
			base = wd
		}
		// no filepath.Join here: it would apply ".." before links are seen
		p = base + string(filepath.Separator) + p
	}
	return resolveComponents(p)
}

// resolveComponents walks an absolute, uncleaned path.
func resolveComponents(p string) (string, error) {
	vol := filepath.VolumeName(p)
	root := vol + string(filepath.Separator)
	resolved := root
	pending := splitComponents(p[len(vol):])
	hops := 0

	for len(pending) > 0 {
		c := pending[0]
		pending = pending[1:]
		switch c {
		case "", ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}

		next := filepath.Join(resolved, c)
		info, err := os.Lstat(next)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
				resolved = next
				continue
			}
			return "", fmt.Errorf("ResolvePath: stat %s: %w", next, err)
		}
		if info.Mode()&fs.ModeSymlink == 0 {
			resolved = next
			continue
		}

		hops++
		if hops > maxSymlinkHops {
			return "", fmt.Errorf("ResolvePath: %s: %w", p, ErrSymlinkLoop)
		}
		target, err := os.Readlink(next)
		if err != nil {
			return "", fmt.Errorf("ResolvePath: readlink %s: %w", next, err)
		}
		if filepath.IsAbs(target) {
			tvol := filepath.VolumeName(target)
			resolved = tvol + string(filepath.Separator)
			target = target[len(tvol):]
		}
		pending = append(splitComponents(target), pending...)
	}
	return resolved, nil
}

func splitComponents(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool {
		return os.IsPathSeparator(uint8(r))
	})
}

// Within reports whether resolved lies inside root. The root itself is
// resolved first so that both sides are canonical.
func Within(root, resolved string) (bool, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false, fmt.Errorf("Within: root: %w", err)
	}
	canonRoot, err := resolveComponents(absRoot)
	if err != nil {
		return false, err
	}
	rel, err := filepath.Rel(canonRoot, resolved)
	if err != nil {
		return false, nil
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false, nil
	}
	return true, nil
}
