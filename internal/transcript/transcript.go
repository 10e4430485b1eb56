// Package transcript provides the append-only turn log shared by all
// workflow phases.
//
// A Transcript belongs to exactly one workflow run and is driven from a
// single goroutine (see the engine's concurrency model), so it performs no
// internal locking. Turns are immutable once appended: Append copies the
// action list and assigns the sequence number, and all read methods return
// fresh slices.
package transcript

// Role identifies who produced a turn.
type Role string

const (
	// RoleUser marks the original request and synthetic nudge turns.
	RoleUser Role = "user"
	// RoleAgent marks a model reply.
	RoleAgent Role = "agent"
	// RoleTool marks the serialized result of a single tool action.
	RoleTool Role = "tool_result"
)

// Action is one tool invocation requested by an agent turn.
type Action struct {
	// ID correlates the action with the tool_result turn answering it.
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Turn is one immutable entry in the transcript.
type Turn struct {
	Seq     int    `json:"seq"`
	Role    Role   `json:"role"`
	Phase   string `json:"phase,omitempty"`
	Content string `json:"content"`
	// ActionID is set on tool_result turns and names the action answered.
	ActionID string `json:"action_id,omitempty"`
	// Actions is the ordered list of tool invocations requested by an
	// agent turn. Empty for every other role.
	Actions []Action `json:"actions,omitempty"`
}

// HasActions reports whether the turn requests at least one tool action.
func (t Turn) HasActions() bool {
	return len(t.Actions) > 0
}

// Transcript is an ordered, append-only log of turns.
type Transcript struct {
	turns []Turn
}

// New returns an empty transcript.
func New() *Transcript {
	return &Transcript{}
}

// Append stores a copy of the turn, assigns the next sequence number and
// returns the stored value. The caller's turn is not retained.
func (tr *Transcript) Append(t Turn) Turn {
	t.Seq = len(tr.turns)
	if len(t.Actions) > 0 {
		actions := make([]Action, len(t.Actions))
		copy(actions, t.Actions)
		t.Actions = actions
	}
	tr.turns = append(tr.turns, t)
	return t
}

// Len returns the number of turns appended so far.
func (tr *Transcript) Len() int {
	return len(tr.turns)
}

// Slice returns a copy of all turns with sequence >= from. A negative or
// out-of-range from yields an empty slice, never a panic.
func (tr *Transcript) Slice(from int) []Turn {
	if from < 0 {
		from = 0
	}
	if from >= len(tr.turns) {
		return nil
	}
	out := make([]Turn, len(tr.turns)-from)
	copy(out, tr.turns[from:])
	return out
}

// All returns a copy of the full transcript.
func (tr *Transcript) All() []Turn {
	return tr.Slice(0)
}

// Last returns the most recently appended turn, if any.
func (tr *Transcript) Last() (Turn, bool) {
	if len(tr.turns) == 0 {
		return Turn{}, false
	}
	return tr.turns[len(tr.turns)-1], true
}

// FirstUser returns the first user-role turn in the whole transcript.
//
// This is the scoping anchor: when more than one user turn exists (nudges
// are user-role), the one with the lowest sequence wins, found by a scan
// from index zero.
func (tr *Transcript) FirstUser() (Turn, bool) {
	for _, t := range tr.turns {
		if t.Role == RoleUser {
			return t, true
		}
	}
	return Turn{}, false
}

// Scoped returns the view an agent step receives for a phase activation
// whose first owned index is start: the first user turn in the transcript
// followed by every turn with sequence >= start. The user turn is not
// duplicated when start already covers it. A negative start (phase not yet
// activated) yields only the first user turn.
func (tr *Transcript) Scoped(start int) []Turn {
	if start < 0 {
		start = len(tr.turns)
	}
	var out []Turn
	if first, ok := tr.FirstUser(); ok && first.Seq < start {
		out = append(out, first)
	}
	out = append(out, tr.Slice(start)...)
	return out
}
