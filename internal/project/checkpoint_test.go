package project

import (
	"testing"

	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitObject(t *testing.T, cp *Checkpointer, hash string) *object.Commit {
	t.Helper()
	commit, err := cp.repo.CommitObject(plumbing.NewHash(hash))
	require.NoError(t, err)
	return commit
}

func TestCheckpointer_Commit_CapturesFiles(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.CreateFile("main.go", "package main\n"))
	require.NoError(t, store.CreateFile("docs/design.md", "# Design\n"))

	cp, err := NewCheckpointer(store)
	require.NoError(t, err)

	hash, err := cp.Commit("design complete")
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	commit := commitObject(t, cp, hash)
	assert.Equal(t, "design complete", commit.Message)
	assert.Equal(t, "flowd", commit.Author.Name)

	file, err := commit.File("docs/design.md")
	require.NoError(t, err)
	content, err := file.Contents()
	require.NoError(t, err)
	assert.Equal(t, "# Design\n", content)
}

func TestCheckpointer_Commit_EmptyStore(t *testing.T) {
	cp, err := NewCheckpointer(NewStore())
	require.NoError(t, err)

	hash, err := cp.Commit("initial")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)
}

func TestCheckpointer_Commit_TracksDeletes(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.CreateFile("keep.go", "k"))
	require.NoError(t, store.CreateFile("drop.go", "d"))

	cp, err := NewCheckpointer(store)
	require.NoError(t, err)
	_, err = cp.Commit("both files")
	require.NoError(t, err)

	require.NoError(t, store.DeletePath("drop.go"))
	hash, err := cp.Commit("one file")
	require.NoError(t, err)

	commit := commitObject(t, cp, hash)
	_, err = commit.File("keep.go")
	require.NoError(t, err)
	_, err = commit.File("drop.go")
	assert.ErrorIs(t, err, object.ErrFileNotFound)
}

func TestCheckpointer_Commit_TracksRenames(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.CreateFile("old.go", "x"))

	cp, err := NewCheckpointer(store)
	require.NoError(t, err)
	_, err = cp.Commit("before rename")
	require.NoError(t, err)

	require.NoError(t, store.RenamePath("old.go", "new.go"))
	hash, err := cp.Commit("after rename")
	require.NoError(t, err)

	commit := commitObject(t, cp, hash)
	_, err = commit.File("old.go")
	assert.ErrorIs(t, err, object.ErrFileNotFound)
	_, err = commit.File("new.go")
	require.NoError(t, err)
}

func TestCheckpointer_Log_NewestFirst(t *testing.T) {
	store := NewStore()
	cp, err := NewCheckpointer(store)
	require.NoError(t, err)

	require.NoError(t, store.CreateFile("a.go", "a"))
	_, err = cp.Commit("phase design done")
	require.NoError(t, err)
	_, err = cp.Commit("phase implement done")
	require.NoError(t, err)

	messages, err := cp.Log()
	require.NoError(t, err)
	assert.Equal(t, []string{"phase implement done", "phase design done"}, messages)
}
