package events

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// NDJSONSink appends one JSON object per line to a file, producing the
// event log the follow view tails. The file is opened in append mode so a
// resumed observer never clobbers earlier events.
type NDJSONSink struct {
	mu   sync.Mutex
	file *os.File
}

// NewNDJSONSink opens (creating directories as needed) the event log at
// path.
func NewNDJSONSink(path string) (*NDJSONSink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create event log dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &NDJSONSink{file: f}, nil
}

// Emit writes the event as a single JSON line.
func (s *NDJSONSink) Emit(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write event log: %w", err)
	}
	return nil
}

// Close closes the underlying file.
func (s *NDJSONSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
