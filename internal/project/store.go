// Package project implements the workspace the workflow's tools mutate: an
// in-memory file store, the named tool operations dispatched against it, and
// an in-memory git checkpointer recording the artifact's history.
//
// The store is the engine's project/file collaborator. Every operation
// returns rather than panicking, and the invoker serializes operation errors
// into result strings so a bad tool call never crosses the tool boundary as
// a failure.
package project

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrNotFound reports an operation against a path with no file.
	ErrNotFound = errors.New("path not found")
	// ErrExists reports a create against an occupied path.
	ErrExists = errors.New("path already exists")
	// ErrInvalidPath reports an empty, absolute or escaping path.
	ErrInvalidPath = errors.New("invalid path")
)

// Snapshot is the opaque artifact state handed across the run boundary.
type Snapshot struct {
	Files map[string]string `json:"files"`
}

// Clone returns an independent copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	files := make(map[string]string, len(s.Files))
	for k, v := range s.Files {
		files[k] = v
	}
	return Snapshot{Files: files}
}

// Store is an in-memory project file tree keyed by slash-separated relative
// paths. It is safe for concurrent use; a single run drives it from one
// goroutine, but serve mode snapshots finished runs from request handlers.
type Store struct {
	mu    sync.Mutex
	files map[string]string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{files: make(map[string]string)}
}

// normalizePath cleans p and rejects anything outside the workspace root.
func normalizePath(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("%w: %q is absolute", ErrInvalidPath, p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q escapes the workspace", ErrInvalidPath, p)
	}
	return clean, nil
}

// CreateFile adds a new file. Creating over an existing path is an error;
// the model is expected to use replace_range to edit.
func (s *Store) CreateFile(p, content string) error {
	clean, err := normalizePath(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[clean]; ok {
		return fmt.Errorf("%w: %s", ErrExists, clean)
	}
	s.files[clean] = content
	return nil
}

// ReadFile returns a file's content.
func (s *Store) ReadFile(p string) (string, error) {
	clean, err := normalizePath(p)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.files[clean]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	return content, nil
}

// ReplaceRange replaces lines startLine..endLine (1-based, inclusive) of a
// file with the given content.
func (s *Store) ReplaceRange(p string, startLine, endLine int, content string) error {
	clean, err := normalizePath(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.files[clean]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, clean)
	}

	lines := strings.Split(existing, "\n")
	if startLine < 1 || endLine < startLine || endLine > len(lines) {
		return fmt.Errorf("line range %d-%d out of bounds for %s (%d lines)",
			startLine, endLine, clean, len(lines))
	}

	replaced := make([]string, 0, len(lines))
	replaced = append(replaced, lines[:startLine-1]...)
	replaced = append(replaced, strings.Split(content, "\n")...)
	replaced = append(replaced, lines[endLine:]...)
	s.files[clean] = strings.Join(replaced, "\n")
	return nil
}

// RenamePath moves a file, or every file under a directory prefix.
func (s *Store) RenamePath(oldPath, newPath string) error {
	oldClean, err := normalizePath(oldPath)
	if err != nil {
		return err
	}
	newClean, err := normalizePath(newPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if content, ok := s.files[oldClean]; ok {
		if _, taken := s.files[newClean]; taken {
			return fmt.Errorf("%w: %s", ErrExists, newClean)
		}
		delete(s.files, oldClean)
		s.files[newClean] = content
		return nil
	}

	// Directory rename: move everything under the prefix.
	prefix := oldClean + "/"
	moved := false
	for p, content := range s.files {
		if strings.HasPrefix(p, prefix) {
			target := newClean + "/" + strings.TrimPrefix(p, prefix)
			if _, taken := s.files[target]; taken {
				return fmt.Errorf("%w: %s", ErrExists, target)
			}
			delete(s.files, p)
			s.files[target] = content
			moved = true
		}
	}
	if !moved {
		return fmt.Errorf("%w: %s", ErrNotFound, oldClean)
	}
	return nil
}

// DeletePath removes a file, or every file under a directory prefix.
func (s *Store) DeletePath(p string) error {
	clean, err := normalizePath(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[clean]; ok {
		delete(s.files, clean)
		return nil
	}

	prefix := clean + "/"
	deleted := false
	for stored := range s.files {
		if strings.HasPrefix(stored, prefix) {
			delete(s.files, stored)
			deleted = true
		}
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrNotFound, clean)
	}
	return nil
}

// ListFiles returns all paths in sorted order.
func (s *Store) ListFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.files))
	for p := range s.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of files.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.files)
}

// Snapshot returns a copy of the current file tree.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := make(map[string]string, len(s.files))
	for p, content := range s.files {
		files[p] = content
	}
	return Snapshot{Files: files}
}

// Restore replaces the store's contents with the snapshot. Used by the run
// trigger to seed a run with an existing artifact.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files = make(map[string]string, len(snap.Files))
	for p, content := range snap.Files {
		s.files[p] = content
	}
}
