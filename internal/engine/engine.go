package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/flowd/internal/events"
	"github.com/fyrsmithlabs/flowd/internal/model"
	"github.com/fyrsmithlabs/flowd/internal/transcript"
)

var (
	// ErrStepBudget reports that the driver loop hit its hard step limit.
	ErrStepBudget = errors.New("step limit exceeded")
	// ErrRunTerminal reports a second Execute call on an engine whose run
	// already finished.
	ErrRunTerminal = errors.New("engine already executed its run")
)

// Engine drives one workflow run against its collaborators.
type Engine struct {
	client       model.Client
	runner       ToolRunner
	sink         events.Sink
	checkpointer Checkpointer
	limits       Limits
	instructions Instructions
	logger       *zap.Logger
	tracer       trace.Tracer
	now          func() time.Time

	executed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithLimits sets the run budgets. A non-positive MaxSteps falls back to
// the default; negative retry or iteration budgets are clamped to zero.
func WithLimits(l Limits) Option {
	return func(e *Engine) {
		e.limits = l
	}
}

// WithCheckpointer records workspace history at phase boundaries.
func WithCheckpointer(cp Checkpointer) Option {
	return func(e *Engine) {
		e.checkpointer = cp
	}
}

// WithInstructions overrides the phase instruction templates.
func WithInstructions(i Instructions) Option {
	return func(e *Engine) {
		e.instructions = i
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithTracer sets the tracer for run and step spans.
func WithTracer(tr trace.Tracer) Option {
	return func(e *Engine) {
		if tr != nil {
			e.tracer = tr
		}
	}
}

// New creates an engine for a single run. The sink may be nil when nobody
// is watching.
func New(client model.Client, runner ToolRunner, sink events.Sink, opts ...Option) (*Engine, error) {
	if client == nil {
		return nil, fmt.Errorf("model client required")
	}
	if runner == nil {
		return nil, fmt.Errorf("tool runner required")
	}

	e := &Engine{
		client:       client,
		runner:       runner,
		sink:         sink,
		limits:       DefaultLimits(),
		instructions: DefaultInstructions(),
		logger:       zap.NewNop(),
		tracer:       otel.Tracer("github.com/fyrsmithlabs/flowd/internal/engine"),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sink == nil {
		e.sink = events.Discard
	}
	if e.limits.MaxRetries < 0 {
		e.limits.MaxRetries = 0
	}
	if e.limits.MaxIterations < 0 {
		e.limits.MaxIterations = 0
	}
	if e.limits.MaxSteps <= 0 {
		e.limits.MaxSteps = DefaultLimits().MaxSteps
	}
	return e, nil
}

// Execute runs the workflow to its terminal state. The run always ends
// with exactly one workflow_done event; on failure the returned error is
// also recorded in the Result, which still carries the partial artifact
// and transcript. Panics from collaborators are caught at this boundary
// and converted into the same graceful terminal shape.
func (e *Engine) Execute(ctx context.Context, req Request) (result *Result, err error) {
	if e.executed {
		return nil, ErrRunTerminal
	}
	e.executed = true

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	run := &Run{
		ID:          runID,
		UserRequest: req.UserRequest,
		Transcript:  transcript.New(),
		Phases: map[Phase]*PhaseState{
			PhaseDesign:    newPhaseState(),
			PhaseImplement: newPhaseState(),
			PhaseReview:    newPhaseState(),
		},
	}

	ctx, span := e.tracer.Start(ctx, "engine.execute",
		trace.WithAttributes(attribute.String("run.id", run.ID)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("workflow panic recovered",
				zap.String("run_id", run.ID), zap.Any("panic", r))
			result, err = e.finish(run, fmt.Errorf("workflow panic: %v", r))
		}
	}()

	if req.Snapshot != nil {
		if restoreErr := e.runner.Restore(req.Snapshot); restoreErr != nil {
			return e.finish(run, fmt.Errorf("restore artifact snapshot: %w", restoreErr))
		}
	}

	e.logger.Info("run started", zap.String("run_id", run.ID))
	run.Transcript.Append(transcript.Turn{Role: transcript.RoleUser, Content: req.UserRequest})

	st := stateDesign
	for st != stateDone {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return e.finish(run, fmt.Errorf("run cancelled: %w", ctxErr))
		}
		run.Steps++
		if run.Steps > e.limits.MaxSteps {
			return e.finish(run, fmt.Errorf("%w (budget %d)", ErrStepBudget, e.limits.MaxSteps))
		}

		switch st {
		case stateDesign, stateImplement, stateReview:
			next, stepErr := e.agentStep(ctx, run, phaseOf(st))
			if stepErr != nil {
				return e.finish(run, stepErr)
			}
			st = next
		case stateDesignTools, stateImplementTools, stateReviewTools:
			st = e.toolStep(ctx, run, phaseOf(st))
		case stateRevisionDecision:
			st = e.revisionDecision(run)
		}
	}

	return e.finish(run, nil)
}

// agentStep performs one model invocation for the phase: activate the
// phase's scoping if needed, call the model with the instruction and the
// scoped transcript view, append exactly one turn, and route.
func (e *Engine) agentStep(ctx context.Context, run *Run, phase Phase) (state, error) {
	ctx, span := e.tracer.Start(ctx, "engine.agent_step",
		trace.WithAttributes(attribute.String("phase", string(phase))))
	defer span.End()

	ps := run.phase(phase)
	if ps.StartIndex == IndexUnset {
		ps.StartIndex = run.Transcript.Len()
		e.logger.Debug("phase activated",
			zap.String("run_id", run.ID),
			zap.String("phase", string(phase)),
			zap.Int("start_index", ps.StartIndex))
	}

	e.emit(run, events.Event{Kind: events.KindPhaseStarted, Phase: string(phase)})

	instruction, err := e.instructions.render(phase, run.UserRequest, run.DesignArtifact, run.ReviewFeedback)
	if err != nil {
		return 0, e.failPhase(run, phase, err)
	}

	reply, err := e.client.Complete(ctx, model.Request{
		Instruction: instruction,
		Turns:       run.Transcript.Scoped(ps.StartIndex),
		Tools:       e.runner.Tools(),
	})
	if err != nil {
		span.RecordError(err)
		return 0, e.failPhase(run, phase, fmt.Errorf("model call failed: %w", err))
	}

	run.Transcript.Append(transcript.Turn{
		Role:    transcript.RoleAgent,
		Phase:   string(phase),
		Content: reply.Content,
		Actions: reply.Actions,
	})
	if reply.Content != "" {
		e.emit(run, events.Event{Kind: events.KindPhaseMessage, Phase: string(phase), Content: reply.Content})
	}
	for _, action := range reply.Actions {
		e.emit(run, events.Event{
			Kind:       events.KindToolRequested,
			Phase:      string(phase),
			ActionName: action.Name,
			ActionArgs: action.Args,
		})
	}

	last, _ := run.Transcript.Last()
	switch decide(last, ps.RetryCount, e.limits.MaxRetries) {
	case routeTools:
		return toolsState(phase), nil
	case routeNudge:
		e.nudge(run, phase)
		return agentState(phase), nil
	default:
		return e.advance(run, phase), nil
	}
}

// failPhase converts a phase-level failure into an error turn plus a
// phase_failed event; the caller then closes the run with the terminal
// event. The error turn is the invocation's single transcript append.
func (e *Engine) failPhase(run *Run, phase Phase, cause error) error {
	run.Transcript.Append(transcript.Turn{
		Role:    transcript.RoleAgent,
		Phase:   string(phase),
		Content: fmt.Sprintf("phase %s failed: %v", phase, cause),
	})
	e.emit(run, events.Event{Kind: events.KindPhaseFailed, Phase: string(phase), Error: cause.Error()})
	PhaseFailuresTotal.WithLabelValues(string(phase)).Inc()
	return fmt.Errorf("%s phase: %w", phase, cause)
}

// toolStep invokes the actions requested by the latest agent turn, in
// order, appending one tool-result turn per action. Collaborator failures
// arrive already serialized in the result string, so this step cannot fail
// the run.
func (e *Engine) toolStep(ctx context.Context, run *Run, phase Phase) state {
	ctx, span := e.tracer.Start(ctx, "engine.tool_step",
		trace.WithAttributes(attribute.String("phase", string(phase))))
	defer span.End()

	last, ok := run.Transcript.Last()
	if !ok || !last.HasActions() {
		return agentState(phase)
	}

	for _, action := range last.Actions {
		result := e.runner.Invoke(ctx, action)
		run.Transcript.Append(transcript.Turn{
			Role:     transcript.RoleTool,
			Phase:    string(phase),
			ActionID: action.ID,
			Content:  result,
		})
		e.emit(run, events.Event{
			Kind:       events.KindToolResult,
			Phase:      string(phase),
			ActionName: action.Name,
			Content:    result,
		})
		ToolInvocationsTotal.WithLabelValues(action.Name).Inc()
		e.logger.Debug("tool invoked",
			zap.String("run_id", run.ID),
			zap.String("phase", string(phase)),
			zap.String("tool", action.Name))
	}
	return agentState(phase)
}

// nudge appends the synthetic corrective turn and charges the phase's
// retry budget.
func (e *Engine) nudge(run *Run, phase Phase) {
	ps := run.phase(phase)
	ps.RetryCount++
	run.Transcript.Append(transcript.Turn{
		Role:    transcript.RoleUser,
		Phase:   string(phase),
		Content: e.instructions.Nudge,
	})
	NudgesTotal.WithLabelValues(string(phase)).Inc()
	e.logger.Debug("agent nudged",
		zap.String("run_id", run.ID),
		zap.String("phase", string(phase)),
		zap.Int("retry", ps.RetryCount))
}

// advance closes the phase: capture the design artifact when leaving
// design, emit phase_done, checkpoint, and hand over to the next state.
func (e *Engine) advance(run *Run, phase Phase) state {
	if phase == PhaseDesign {
		run.DesignArtifact = lastAgentContent(run.Transcript, run.phase(PhaseDesign).StartIndex)
	}
	e.emit(run, events.Event{Kind: events.KindPhaseDone, Phase: string(phase)})
	e.checkpoint(run, fmt.Sprintf("%s complete (iteration %d)", phase, run.IterationCount))
	e.logger.Info("phase complete",
		zap.String("run_id", run.ID),
		zap.String("phase", string(phase)),
		zap.Int("retries", run.phase(phase).RetryCount))
	return nextState(phase)
}

// revisionDecision reads the review verdict and either loops back to
// implementation or ends the run. A missing verdict counts as
// needs_revision while the iteration budget lasts; at the cap the run
// terminates regardless.
func (e *Engine) revisionDecision(run *Run) state {
	verdict, feedback := scanVerdict(run.Transcript, run.phase(PhaseReview).StartIndex)
	run.Verdict = verdict

	if verdict != VerdictApproved && run.IterationCount < e.limits.MaxIterations {
		run.IterationCount++
		if feedback == "" {
			feedback = "the review ended without an explicit verdict; re-check the implementation against the design"
		}
		run.ReviewFeedback = feedback
		run.phase(PhaseImplement).reset()
		run.phase(PhaseReview).reset()
		RevisionsTotal.Inc()
		e.emit(run, events.Event{Kind: events.KindRevisionRequested, Phase: string(PhaseReview), Content: feedback})
		e.logger.Info("revision requested",
			zap.String("run_id", run.ID),
			zap.Int("iteration", run.IterationCount))
		return stateImplement
	}
	return stateDone
}

// lastAgentContent returns the activation's last non-empty agent message.
func lastAgentContent(tr *transcript.Transcript, start int) string {
	if start == IndexUnset {
		return ""
	}
	content := ""
	for _, turn := range tr.Slice(start) {
		if turn.Role == transcript.RoleAgent && turn.Content != "" {
			content = turn.Content
		}
	}
	return content
}

// finish closes the run: exactly one workflow_done event per run, carrying
// the artifact snapshot and, on failure, the error description.
func (e *Engine) finish(run *Run, runErr error) (*Result, error) {
	if !run.terminalSent {
		run.terminalSent = true
		ev := events.Event{Kind: events.KindWorkflowDone, Result: e.snapshot()}
		if runErr != nil {
			ev.Error = runErr.Error()
		}
		e.emit(run, ev)
	}

	status := "completed"
	if runErr != nil {
		status = "failed"
		e.checkpoint(run, fmt.Sprintf("run failed: %v", runErr))
	} else {
		e.checkpoint(run, fmt.Sprintf("run done: verdict %s", verdictLabel(run.Verdict)))
	}
	RunsTotal.WithLabelValues(status).Inc()
	RunSteps.Observe(float64(run.Steps))

	e.logger.Info("run finished",
		zap.String("run_id", run.ID),
		zap.String("status", status),
		zap.String("verdict", verdictLabel(run.Verdict)),
		zap.Int("iterations", run.IterationCount),
		zap.Int("steps", run.Steps))

	result := &Result{
		RunID:          run.ID,
		Verdict:        run.Verdict,
		Artifact:       e.snapshot(),
		DesignArtifact: run.DesignArtifact,
		Iterations:     run.IterationCount,
		Steps:          run.Steps,
		Transcript:     run.Transcript.All(),
	}
	if runErr != nil {
		result.Err = runErr.Error()
	}
	return result, runErr
}

// emit stamps and delivers one event. Sink errors and panics are counted
// and logged, never surfaced; the run does not care whether anyone is
// watching.
func (e *Engine) emit(run *Run, ev events.Event) {
	ev.RunID = run.ID
	ev.Seq = run.eventSeq
	run.eventSeq++
	ev.Time = e.now()

	defer func() {
		if r := recover(); r != nil {
			DroppedEventsTotal.Inc()
			e.logger.Warn("event sink panicked",
				zap.String("run_id", run.ID),
				zap.String("kind", string(ev.Kind)),
				zap.Any("panic", r))
		}
	}()
	if err := e.sink.Emit(ev); err != nil {
		DroppedEventsTotal.Inc()
		e.logger.Warn("event sink rejected event",
			zap.String("run_id", run.ID),
			zap.String("kind", string(ev.Kind)),
			zap.Error(err))
	}
}

// checkpoint commits workspace history. Checkpointer trouble is logged and
// swallowed; history is a convenience, not part of the run contract.
func (e *Engine) checkpoint(run *Run, message string) {
	if e.checkpointer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("checkpointer panicked",
				zap.String("run_id", run.ID), zap.Any("panic", r))
		}
	}()
	hash, err := e.checkpointer.Commit(message)
	if err != nil {
		e.logger.Warn("checkpoint failed",
			zap.String("run_id", run.ID), zap.Error(err))
		return
	}
	e.logger.Debug("checkpoint committed",
		zap.String("run_id", run.ID), zap.String("commit", hash))
}

// snapshot reads the artifact, tolerating a misbehaving runner so the
// terminal event can always be produced.
func (e *Engine) snapshot() (snap any) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("artifact snapshot panicked", zap.Any("panic", r))
		}
	}()
	return e.runner.Snapshot()
}

func verdictLabel(v Verdict) string {
	if v == VerdictMissing {
		return "none"
	}
	return string(v)
}
