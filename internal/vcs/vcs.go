// Package vcs derives build tags from the git repository holding the
// layers.
package vcs

import (
	"errors"
	"fmt"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// ShortHashLength is the length of a commit tag.
const ShortHashLength = 12

// ErrNoCommits indicates a repository without a HEAD commit.
var ErrNoCommits = errors.New("repository has no commits")

// HeadTag returns the short hash of the HEAD commit of the repository
// containing dir. A worktree with uncommitted changes gets a "-dirty"
// suffix, so that an image built from it never claims to be the commit.
func HeadTag(dir string) (string, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return "", fmt.Errorf("open repository at %s: %w", dir, err)
	}

	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", ErrNoCommits
		}
		return "", fmt.Errorf("read HEAD: %w", err)
	}

	tag := head.Hash().String()[:ShortHashLength]

	wt, err := repo.Worktree()
	if err != nil {
		// Bare repositories have no worktree to be dirty.
		if errors.Is(err, git.ErrIsBareRepository) {
			return tag, nil
		}
		return "", fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("worktree status: %w", err)
	}
	if !status.IsClean() {
		tag += "-dirty"
	}

	return tag, nil
}
