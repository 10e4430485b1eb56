// Package events defines the lifecycle events a workflow run emits and the
// sinks that carry them to observers.
//
// Emission is best-effort end to end: the engine guards every Emit call, and
// Multi guards each fanned-out sink, so a disconnected or panicking observer
// never alters a run's control flow.
package events

import "time"

// Kind classifies a lifecycle event.
type Kind string

const (
	KindPhaseStarted      Kind = "phase_started"
	KindPhaseMessage      Kind = "phase_message"
	KindToolRequested     Kind = "tool_requested"
	KindToolResult        Kind = "tool_result"
	KindPhaseDone         Kind = "phase_done"
	KindPhaseFailed       Kind = "phase_failed"
	KindRevisionRequested Kind = "revision_requested"
	KindWorkflowDone      Kind = "workflow_done"
)

// IsTerminal reports whether the kind closes a run's event stream. Every
// run emits exactly one terminal event.
func (k Kind) IsTerminal() bool {
	return k == KindWorkflowDone
}

// Event is one lifecycle notification from a workflow run.
type Event struct {
	RunID string    `json:"run_id"`
	Seq   int       `json:"seq"`
	Kind  Kind      `json:"kind"`
	Phase string    `json:"phase,omitempty"`
	Time  time.Time `json:"time"`

	// Content carries the agent or tool text for message-like kinds.
	Content string `json:"content,omitempty"`

	// ActionName and ActionArgs describe the tool call for
	// tool_requested and tool_result events.
	ActionName string         `json:"action_name,omitempty"`
	ActionArgs map[string]any `json:"action_args,omitempty"`

	// Error carries the terminal error description, if the run failed.
	Error string `json:"error,omitempty"`

	// Result carries the final artifact payload on workflow_done.
	Result any `json:"result,omitempty"`
}

// Sink receives emitted events. Implementations must be safe for calls from
// a single run goroutine; sinks shared across runs synchronize internally.
//
// A sink's error (or panic) is an observability failure, not a run failure:
// callers discard it.
type Sink interface {
	Emit(Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event) error

// Emit calls f.
func (f SinkFunc) Emit(e Event) error {
	return f(e)
}

// Discard is a sink that drops every event.
var Discard Sink = SinkFunc(func(Event) error { return nil })
