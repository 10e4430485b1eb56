package server

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/flowd/internal/engine"
)

// Run lifecycle states as reported by the registry.
const (
	StateRunning   = "running"
	StateCompleted = "completed"
	StateFailed    = "failed"
)

var (
	// ErrRunNotFound reports a lookup for an unknown run id.
	ErrRunNotFound = errors.New("run not found")
	// ErrInvalidRunID reports an empty run id.
	ErrInvalidRunID = errors.New("invalid run ID")
)

// RunRecord is the registry's view of one run. The zero Verdict means the
// run has not produced one yet.
type RunRecord struct {
	ID         string         `json:"run_id"`
	State      string         `json:"state"`
	Request    string         `json:"request"`
	Verdict    engine.Verdict `json:"verdict,omitempty"`
	Iterations int            `json:"iterations"`
	Steps      int            `json:"steps"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt time.Time      `json:"finished_at,omitzero"`
}

// Terminal reports whether the run has reached a final state.
func (r *RunRecord) Terminal() bool {
	return r.State == StateCompleted || r.State == StateFailed
}

// Registry tracks the runs a server has accepted, in memory. Records
// survive for the life of the process; a restarted server starts empty.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*RunRecord
}

// NewRegistry creates an empty run registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*RunRecord)}
}

// Add registers a new run in the running state.
func (reg *Registry) Add(id, request string) (*RunRecord, error) {
	if id == "" {
		return nil, ErrInvalidRunID
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if _, ok := reg.runs[id]; ok {
		return nil, fmt.Errorf("run %s already registered", id)
	}

	rec := &RunRecord{
		ID:        id,
		State:     StateRunning,
		Request:   request,
		CreatedAt: time.Now(),
	}
	reg.runs[id] = rec
	return rec, nil
}

// Get returns a copy of the record for the given run id.
func (reg *Registry) Get(id string) (*RunRecord, error) {
	if id == "" {
		return nil, ErrInvalidRunID
	}

	reg.mu.RLock()
	defer reg.mu.RUnlock()

	rec, ok := reg.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}

	out := *rec
	return &out, nil
}

// List returns copies of all records, newest first.
func (reg *Registry) List() []*RunRecord {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	records := make([]*RunRecord, 0, len(reg.runs))
	for _, rec := range reg.runs {
		out := *rec
		records = append(records, &out)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records
}

// Finish moves a run to its terminal state, folding in the engine result.
// The result may be nil when the run failed before producing one.
func (reg *Registry) Finish(id string, result *engine.Result, runErr error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	rec, ok := reg.runs[id]
	if !ok {
		return
	}

	rec.FinishedAt = time.Now()
	if result != nil {
		rec.Verdict = result.Verdict
		rec.Iterations = result.Iterations
		rec.Steps = result.Steps
	}
	if runErr != nil {
		rec.State = StateFailed
		rec.Error = runErr.Error()
		return
	}
	rec.State = StateCompleted
}
