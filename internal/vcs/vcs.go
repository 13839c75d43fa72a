// Package vcs answers the few version-control questions the branch and
// history checks need, each under a bounded timeout.
package vcs

import (
	"context"
	"errors"
)

var (
	// ErrNotRepository is returned when the directory is not inside a git work tree.
	ErrNotRepository = errors.New("not a git repository")
	// ErrQueryTimeout is returned when a query exceeds its time bound.
	ErrQueryTimeout = errors.New("vcs query timed out")
	// ErrDetachedHead is returned by CurrentBranch when HEAD is not on a branch.
	ErrDetachedHead = errors.New("HEAD is detached")
)

// Inspector answers read-only questions about a repository.
type Inspector interface {
	// CurrentBranch returns the short name of the checked-out branch in dir.
	CurrentBranch(ctx context.Context, dir string) (string, error)

	// HeadPushed reports whether the HEAD commit in dir is already contained
	// in the upstream of the current branch. No upstream means not pushed.
	HeadPushed(ctx context.Context, dir string) (bool, error)

	// RewritePushed reports whether any commit reachable from HEAD but not
	// from base is already contained in the upstream, that is whether
	// rewriting base..HEAD replaces pushed history. An empty base stands for
	// the whole history of HEAD.
	RewritePushed(ctx context.Context, dir, base string) (bool, error)
}
