// Package engine drives one workflow run: a bounded state machine that
// sequences the design, implement and review agent phases, loops each phase
// through its tool sub-cycle, nudges an inactive agent a bounded number of
// times, and routes review failures back to implementation until the
// iteration budget runs out.
//
// An Engine executes a single run. Runs share nothing; callers build a
// fresh engine (with a fresh tool runner) per request.
package engine

import (
	"context"

	"github.com/fyrsmithlabs/flowd/internal/model"
	"github.com/fyrsmithlabs/flowd/internal/transcript"
)

// Phase identifies one of the three agent roles.
type Phase string

const (
	PhaseDesign    Phase = "design"
	PhaseImplement Phase = "implement"
	PhaseReview    Phase = "review"
)

// state is one node of the run's state machine.
type state int

const (
	stateDesign state = iota
	stateDesignTools
	stateImplement
	stateImplementTools
	stateReview
	stateReviewTools
	stateRevisionDecision
	stateDone
)

// phaseOf maps a state to the phase it operates on.
func phaseOf(st state) Phase {
	switch st {
	case stateDesign, stateDesignTools:
		return PhaseDesign
	case stateImplement, stateImplementTools:
		return PhaseImplement
	default:
		return PhaseReview
	}
}

// agentState and toolsState are the two nodes of a phase's internal loop.
func agentState(p Phase) state {
	switch p {
	case PhaseDesign:
		return stateDesign
	case PhaseImplement:
		return stateImplement
	default:
		return stateReview
	}
}

func toolsState(p Phase) state {
	switch p {
	case PhaseDesign:
		return stateDesignTools
	case PhaseImplement:
		return stateImplementTools
	default:
		return stateReviewTools
	}
}

// nextState is the transition out of a phase once its router stops looping:
// design advances to implement, implement to review, review to the
// revision decision.
func nextState(p Phase) state {
	switch p {
	case PhaseDesign:
		return stateImplement
	case PhaseImplement:
		return stateReview
	default:
		return stateRevisionDecision
	}
}

// IndexUnset marks a PhaseState whose activation has not started.
const IndexUnset = -1

// PhaseState is the per-phase bookkeeping for one activation: how many
// nudges were spent and where in the transcript the activation began.
// Re-entering a phase after a revision loop resets it.
type PhaseState struct {
	RetryCount int
	StartIndex int
}

func newPhaseState() *PhaseState {
	return &PhaseState{StartIndex: IndexUnset}
}

func (ps *PhaseState) reset() {
	ps.RetryCount = 0
	ps.StartIndex = IndexUnset
}

// Limits bound a run. Zero MaxRetries means no nudges (a turn without
// actions advances the phase immediately); zero MaxIterations means the
// first review verdict is final.
type Limits struct {
	MaxRetries    int
	MaxIterations int
	MaxSteps      int
}

// DefaultLimits returns the production budgets.
func DefaultLimits() Limits {
	return Limits{
		MaxRetries:    2,
		MaxIterations: 3,
		MaxSteps:      128,
	}
}

// Verdict is the review outcome extracted by the revision decision.
type Verdict string

const (
	VerdictApproved      Verdict = "approved"
	VerdictNeedsRevision Verdict = "needs_revision"
	// VerdictMissing means the review activation produced no verdict
	// marker at all.
	VerdictMissing Verdict = ""
)

// ToolRunner is the project/file collaborator. Invoke returns a result
// string for every action; failures are serialized into the string, never
// returned, so a bad call flows back to the model as an ordinary result.
type ToolRunner interface {
	Tools() []model.Tool
	Invoke(ctx context.Context, action transcript.Action) string
	Snapshot() any
	Restore(snapshot any) error
}

// Checkpointer records workspace history at phase boundaries. Optional;
// failures are logged and ignored.
type Checkpointer interface {
	Commit(message string) (string, error)
}

// Request triggers one run.
type Request struct {
	// RunID names the run; generated when empty.
	RunID string
	// UserRequest is the natural-language task, appended as the
	// transcript's first turn.
	UserRequest string
	// Snapshot optionally seeds the tool runner with an existing
	// artifact before the run starts.
	Snapshot any
}

// Run is the mutable aggregate threaded through one execution.
type Run struct {
	ID          string
	UserRequest string
	Transcript  *transcript.Transcript
	Phases      map[Phase]*PhaseState

	IterationCount int
	Steps          int

	// DesignArtifact is the design phase's closing summary, injected
	// into the implement and review instructions.
	DesignArtifact string
	// ReviewFeedback is the verdict turn content carried into the
	// implement phase on a revision loop.
	ReviewFeedback string
	Verdict        Verdict

	eventSeq     int
	terminalSent bool
}

func (r *Run) phase(p Phase) *PhaseState {
	return r.Phases[p]
}

// Result is the terminal outcome of a run. On failure it still carries
// whatever partial artifact and transcript exist.
type Result struct {
	RunID          string            `json:"run_id"`
	Verdict        Verdict           `json:"verdict"`
	Artifact       any               `json:"artifact,omitempty"`
	DesignArtifact string            `json:"design_artifact,omitempty"`
	Iterations     int               `json:"iterations"`
	Steps          int               `json:"steps"`
	Transcript     []transcript.Turn `json:"transcript,omitempty"`
	Err            string            `json:"error,omitempty"`
}
