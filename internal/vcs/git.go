package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Runner executes git with args in dir and returns trimmed stdout and the
// process exit code. err is non-nil only when git could not be run to
// completion; a non-zero exit is reported through the exit code.
type Runner func(ctx context.Context, dir string, args ...string) (stdout string, exitCode int, err error)

// GitInspector implements Inspector by running the git binary.
type GitInspector struct {
	timeout time.Duration
	run     Runner
}

// NewGitInspector creates an inspector whose queries are bounded by timeout.
// A nil runner uses the git binary on PATH.
func NewGitInspector(timeout time.Duration, run Runner) *GitInspector {
	if run == nil {
		run = ExecRunner
	}
	return &GitInspector{timeout: timeout, run: run}
}

// ExecRunner runs git through os/exec.
func ExecRunner(ctx context.Context, dir string, args ...string) (string, int, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return "", -1, fmt.Errorf("git %s: %w", strings.Join(args, " "), ErrQueryTimeout)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if strings.Contains(stderr.String(), "not a git repository") {
			return "", exitErr.ExitCode(), ErrNotRepository
		}
		return strings.TrimSpace(stdout.String()), exitErr.ExitCode(), nil
	}
	if err != nil {
		return "", -1, fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}
	return strings.TrimSpace(stdout.String()), 0, nil
}

func (g *GitInspector) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// CurrentBranch returns the checked-out branch, ErrDetachedHead when there is
// none.
func (g *GitInspector) CurrentBranch(ctx context.Context, dir string) (string, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()
	return g.currentBranch(ctx, dir)
}

func (g *GitInspector) currentBranch(ctx context.Context, dir string) (string, error) {
	out, code, err := g.run(ctx, dir, "symbolic-ref", "--quiet", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("CurrentBranch: %w", err)
	}
	switch code {
	case 0:
		return out, nil
	case 1:
		return "", ErrDetachedHead
	default:
		return "", fmt.Errorf("CurrentBranch: git symbolic-ref exited %d", code)
	}
}

// HeadPushed reports whether HEAD is an ancestor of the current branch's
// upstream. A branch without upstream, or a detached HEAD, is not pushed.
func (g *GitInspector) HeadPushed(ctx context.Context, dir string) (bool, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	upstream, err := g.upstream(ctx, dir)
	if err != nil {
		return false, fmt.Errorf("HeadPushed: %w", err)
	}
	if upstream == "" {
		return false, nil
	}

	_, code, err := g.run(ctx, dir, "merge-base", "--is-ancestor", "HEAD", upstream)
	if err != nil {
		return false, fmt.Errorf("HeadPushed: %w", err)
	}
	switch code {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, fmt.Errorf("HeadPushed: git merge-base exited %d", code)
	}
}

// RewritePushed finds the merge base of HEAD and the upstream, the newest
// commit both share. Every commit of base..HEAD that is also an ancestor of
// the merge base is pushed, so the rewrite touches pushed history exactly
// when base..mergebase is not empty. A base that does not name a commit is
// treated like an empty one.
func (g *GitInspector) RewritePushed(ctx context.Context, dir, base string) (bool, error) {
	ctx, cancel := g.bound(ctx)
	defer cancel()

	upstream, err := g.upstream(ctx, dir)
	if err != nil {
		return false, fmt.Errorf("RewritePushed: %w", err)
	}
	if upstream == "" {
		return false, nil
	}

	mergeBase, code, err := g.run(ctx, dir, "merge-base", "HEAD", upstream)
	if err != nil {
		return false, fmt.Errorf("RewritePushed: %w", err)
	}
	switch {
	case code == 1:
		// unrelated histories share nothing
		return false, nil
	case code != 0 || mergeBase == "":
		return false, fmt.Errorf("RewritePushed: git merge-base exited %d", code)
	}
	if base == "" {
		return true, nil
	}
	// HEAD~n past the root commit: the whole history is in range
	_, code, err = g.run(ctx, dir, "rev-parse", "--verify", "--quiet", base+"^{commit}")
	if err != nil {
		return false, fmt.Errorf("RewritePushed: %w", err)
	}
	if code != 0 {
		return true, nil
	}

	count, code, err := g.run(ctx, dir, "rev-list", "--count", base+".."+mergeBase, "--")
	if err != nil {
		return false, fmt.Errorf("RewritePushed: %w", err)
	}
	if code != 0 {
		return false, fmt.Errorf("RewritePushed: git rev-list %s exited %d", base, code)
	}
	n, err := strconv.Atoi(count)
	if err != nil {
		return false, fmt.Errorf("RewritePushed: rev-list count %q: %w", count, err)
	}
	return n > 0, nil
}

// upstream returns the upstream of the checked-out branch, "" when there is
// none or HEAD is detached.
func (g *GitInspector) upstream(ctx context.Context, dir string) (string, error) {
	branch, err := g.currentBranch(ctx, dir)
	if errors.Is(err, ErrDetachedHead) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	upstream, code, err := g.run(ctx, dir, "for-each-ref", "--format=%(upstream:short)", "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("git for-each-ref exited %d", code)
	}
	return upstream, nil
}
