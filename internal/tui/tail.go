// Package tui renders a live view of a run's event log: a follow screen
// built on bubbletea for interactive terminals and a plain line printer
// for everything else. Both tail the NDJSON file the run writes, so they
// work for in-process runs and for runs started elsewhere.
package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/fyrsmithlabs/flowd/internal/events"
)

// Tailer follows an NDJSON event log as it grows, decoding one event per
// line. The file may not exist yet when the tailer starts; it watches the
// parent directory and picks the file up on creation.
type Tailer struct {
	path    string
	watcher *fsnotify.Watcher
	out     chan events.Event
	stop    chan struct{}

	file    *os.File
	pending []byte
}

// NewTailer creates a tailer for the given event log path. The parent
// directory must exist.
func NewTailer(path string) (*Tailer, error) {
	if path == "" {
		return nil, fmt.Errorf("event log path is required")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Tailer{
		path:    filepath.Clean(path),
		watcher: watcher,
		out:     make(chan events.Event, 64),
		stop:    make(chan struct{}),
	}, nil
}

// Start begins tailing. Events already in the file are delivered first,
// then new lines as they are appended. The channel closes when the watcher
// shuts down.
func (t *Tailer) Start(ctx context.Context) error {
	dir := filepath.Dir(t.path)
	if err := t.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	go t.loop(ctx)
	return nil
}

// Events returns the channel of decoded events.
func (t *Tailer) Events() <-chan events.Event {
	return t.out
}

// Stop stops the tailer and cleans up resources.
func (t *Tailer) Stop() {
	select {
	case <-t.stop:
		// Already stopped
	default:
		close(t.stop)
		_ = t.watcher.Close()
	}
}

func (t *Tailer) loop(ctx context.Context) {
	defer close(t.out)
	defer func() {
		if t.file != nil {
			_ = t.file.Close()
		}
	}()

	// Deliver whatever the writer got down before we attached.
	if !t.drain(ctx) {
		return
	}

	for {
		select {
		case <-t.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != t.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if !t.drain(ctx) {
				return
			}
		case _, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			// Keep watching
		}
	}
}

// drain reads the file to EOF, emitting every complete line. A trailing
// partial line stays buffered until the writer finishes it. Returns false
// when the tailer should stop.
func (t *Tailer) drain(ctx context.Context) bool {
	if t.file == nil {
		f, err := os.Open(t.path)
		if err != nil {
			// Not created yet
			return true
		}
		t.file = f
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := t.file.Read(buf)
		if n > 0 {
			t.pending = append(t.pending, buf[:n]...)
			for {
				idx := bytes.IndexByte(t.pending, '\n')
				if idx < 0 {
					break
				}
				line := t.pending[:idx]
				t.pending = t.pending[idx+1:]
				if len(bytes.TrimSpace(line)) == 0 {
					continue
				}
				var e events.Event
				if json.Unmarshal(line, &e) != nil {
					continue
				}
				select {
				case t.out <- e:
				case <-t.stop:
					return false
				case <-ctx.Done():
					return false
				}
			}
		}
		if err != nil {
			// EOF until the writer appends more
			return true
		}
	}
}
