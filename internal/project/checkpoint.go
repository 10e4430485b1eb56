package project

import (
	"fmt"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"
)

// Checkpointer records the workspace's history as commits in an in-memory
// git repository: one commit per completed phase plus one at the terminal
// event. Nothing touches disk; the history exists for diffing and
// inspection within the process lifetime.
type Checkpointer struct {
	store *Store
	repo  *git.Repository
	fs    billy.Filesystem
	// tracked remembers the paths present at the last commit so renames
	// and deletes are staged as removals.
	tracked map[string]bool
	now     func() time.Time
}

// NewCheckpointer builds an in-memory repository over the store.
func NewCheckpointer(store *Store) (*Checkpointer, error) {
	fs := memfs.New()
	repo, err := git.Init(memory.NewStorage(), fs)
	if err != nil {
		return nil, fmt.Errorf("init checkpoint repo: %w", err)
	}
	return &Checkpointer{
		store:   store,
		repo:    repo,
		fs:      fs,
		tracked: make(map[string]bool),
		now:     time.Now,
	}, nil
}

// Commit snapshots the store into a new commit and returns its hash.
// Identical snapshots still commit, so the history has one entry per phase.
func (c *Checkpointer) Commit(message string) (string, error) {
	snap := c.store.Snapshot()

	wt, err := c.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("checkpoint worktree: %w", err)
	}

	for path := range c.tracked {
		if _, ok := snap.Files[path]; ok {
			continue
		}
		if _, err := wt.Remove(path); err != nil {
			return "", fmt.Errorf("stage removal of %s: %w", path, err)
		}
		delete(c.tracked, path)
	}

	for path, content := range snap.Files {
		if err := util.WriteFile(c.fs, path, []byte(content), 0o644); err != nil {
			return "", fmt.Errorf("write %s: %w", path, err)
		}
		if _, err := wt.Add(path); err != nil {
			return "", fmt.Errorf("stage %s: %w", path, err)
		}
		c.tracked[path] = true
	}

	hash, err := wt.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  "flowd",
			Email: "flowd@fyrsmithlabs.dev",
			When:  c.now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("checkpoint commit: %w", err)
	}
	return hash.String(), nil
}

// Log returns the commit messages, newest first.
func (c *Checkpointer) Log() ([]string, error) {
	iter, err := c.repo.Log(&git.LogOptions{})
	if err != nil {
		return nil, fmt.Errorf("checkpoint log: %w", err)
	}
	defer iter.Close()

	var messages []string
	err = iter.ForEach(func(commit *object.Commit) error {
		messages = append(messages, commit.Message)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("iterate checkpoint log: %w", err)
	}
	return messages, nil
}
