package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts terminal run outcomes.
	// Labels: status (completed, failed)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowd",
			Subsystem: "engine",
			Name:      "runs_total",
			Help:      "Total number of workflow runs by terminal status",
		},
		[]string{"status"},
	)

	// RunSteps tracks how many driver steps each run consumed.
	RunSteps = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "flowd",
			Subsystem: "engine",
			Name:      "run_steps",
			Help:      "Driver steps consumed per run",
			Buckets:   prometheus.ExponentialBuckets(4, 2, 7),
		},
	)

	// NudgesTotal counts synthetic corrective turns injected for
	// inactive agents.
	// Labels: phase (design, implement, review)
	NudgesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowd",
			Subsystem: "engine",
			Name:      "nudges_total",
			Help:      "Total number of nudge turns injected",
		},
		[]string{"phase"},
	)

	// RevisionsTotal counts review verdicts that routed the run back to
	// the implementation phase.
	RevisionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowd",
			Subsystem: "engine",
			Name:      "revisions_total",
			Help:      "Total number of revision loops entered",
		},
	)

	// ToolInvocationsTotal counts tool actions dispatched to the project
	// collaborator.
	// Labels: tool
	ToolInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowd",
			Subsystem: "engine",
			Name:      "tool_invocations_total",
			Help:      "Total number of tool actions invoked",
		},
		[]string{"tool"},
	)

	// PhaseFailuresTotal counts model-call failures per phase.
	// Labels: phase
	PhaseFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowd",
			Subsystem: "engine",
			Name:      "phase_failures_total",
			Help:      "Total number of phase-level model call failures",
		},
		[]string{"phase"},
	)

	// DroppedEventsTotal counts events the sink failed to accept. Sink
	// failures never affect the run; they only show up here.
	DroppedEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowd",
			Subsystem: "engine",
			Name:      "dropped_events_total",
			Help:      "Total number of events dropped by failing sinks",
		},
	)
)
