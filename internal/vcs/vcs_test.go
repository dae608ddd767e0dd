package vcs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// commitRepo creates a repository with one committed file.
func commitRepo(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "layer.yaml"), []byte("resources: []\n"), 0644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("layer.yaml")
	require.NoError(t, err)

	hash, err := wt.Commit("initial layer", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	return dir, hash.String()
}

func TestHeadTag(t *testing.T) {
	dir, hash := commitRepo(t)

	tag, err := HeadTag(dir)
	require.NoError(t, err)
	assert.Equal(t, hash[:ShortHashLength], tag)
}

func TestHeadTagFromSubdirectory(t *testing.T) {
	dir, hash := commitRepo(t)
	sub := filepath.Join(dir, "layers", "prod")
	require.NoError(t, os.MkdirAll(sub, 0755))

	// An empty directory does not make the worktree dirty.
	tag, err := HeadTag(sub)
	require.NoError(t, err)
	assert.Equal(t, hash[:ShortHashLength], tag)
}

func TestHeadTagDirty(t *testing.T) {
	dir, hash := commitRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "layer.yaml"), []byte("resources: [app.yaml]\n"), 0644))

	tag, err := HeadTag(dir)
	require.NoError(t, err)
	assert.Equal(t, hash[:ShortHashLength]+"-dirty", tag)
}

func TestHeadTagNoCommits(t *testing.T) {
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	_, err = HeadTag(dir)
	assert.ErrorIs(t, err, ErrNoCommits)
}

func TestHeadTagNotARepository(t *testing.T) {
	_, err := HeadTag(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, git.ErrRepositoryNotExists)
}
