// Package update provides self-update functionality for rigger.
package update

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/creativeprojects/go-selfupdate"
)

const (
	// Repository owner and name for GitHub releases.
	repoOwner = "cameronsjo"
	repoName  = "rigger"
)

// ErrNoReleases indicates the release repository has no usable release.
var ErrNoReleases = errors.New("no releases found for " + repoOwner + "/" + repoName)

// Release contains information about an available update.
type Release struct {
	Version     string
	ReleaseURL  string
	PublishedAt string
	Changelog   string
}

// latest returns the newest release newer than currentVersion, or nil.
func latest(ctx context.Context, currentVersion string) (*selfupdate.Updater, *selfupdate.Release, error) {
	source, err := selfupdate.NewGitHubSource(selfupdate.GitHubConfig{})
	if err != nil {
		return nil, nil, fmt.Errorf("creating update source: %w", err)
	}

	updater, err := selfupdate.NewUpdater(selfupdate.Config{
		Source: source,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating updater: %w", err)
	}

	rel, found, err := updater.DetectLatest(ctx, selfupdate.NewRepositorySlug(repoOwner, repoName))
	if err != nil {
		return nil, nil, fmt.Errorf("detecting latest version: %w", err)
	}
	if !found {
		return nil, nil, ErrNoReleases
	}
	if rel.LessOrEqual(currentVersion) {
		return updater, nil, nil
	}
	return updater, rel, nil
}

func describe(rel *selfupdate.Release) *Release {
	return &Release{
		Version:     rel.Version(),
		ReleaseURL:  rel.URL,
		PublishedAt: rel.PublishedAt.Format("2006-01-02"),
		Changelog:   rel.ReleaseNotes,
	}
}

// CheckForUpdate reports the newer release, if there is one.
func CheckForUpdate(ctx context.Context, currentVersion string) (*Release, bool, error) {
	_, rel, err := latest(ctx, currentVersion)
	if err != nil || rel == nil {
		return nil, false, err
	}
	return describe(rel), true, nil
}

// Update downloads and installs the latest version. It returns nil when
// already up to date.
func Update(ctx context.Context, currentVersion string) (*Release, error) {
	updater, rel, err := latest(ctx, currentVersion)
	if err != nil || rel == nil {
		return nil, err
	}

	exe, err := selfupdate.ExecutablePath()
	if err != nil {
		return nil, fmt.Errorf("getting executable path: %w", err)
	}

	if err := updater.UpdateTo(ctx, rel, exe); err != nil {
		return nil, fmt.Errorf("updating binary: %w", err)
	}

	return describe(rel), nil
}

// PlatformInfo returns the current platform information.
func PlatformInfo() string {
	return fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
}
