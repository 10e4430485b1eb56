package engine

import (
	"strings"

	"github.com/fyrsmithlabs/flowd/internal/transcript"
)

// routeDecision is the router's verdict on where a phase goes next.
type routeDecision int

const (
	// routeTools runs the tool sub-cycle for the actions just requested.
	routeTools routeDecision = iota
	// routeNudge injects a corrective turn and re-invokes the agent.
	routeNudge
	// routeAdvance forces the run into the next phase.
	routeAdvance
)

// decide is the per-phase router, a pure function of the latest turn and
// the phase's nudge count. An agent turn with actions runs them; one
// without actions is assumed stuck and is nudged while the retry budget
// lasts; after that the run moves forward no matter what the agent says.
func decide(last transcript.Turn, retryCount, maxRetries int) routeDecision {
	switch {
	case last.HasActions():
		return routeTools
	case retryCount < maxRetries:
		return routeNudge
	default:
		return routeAdvance
	}
}

// scanVerdict extracts the review verdict from the activation's tool-result
// turns. The last turn carrying a marker wins, so re-running the scan on an
// unchanged transcript yields the same verdict; a turn mentioning both
// markers counts as needs_revision. Returns the matched turn's content as
// feedback for the revision loop.
func scanVerdict(tr *transcript.Transcript, reviewStart int) (Verdict, string) {
	if reviewStart == IndexUnset {
		return VerdictMissing, ""
	}

	verdict := VerdictMissing
	feedback := ""
	for _, turn := range tr.Slice(reviewStart) {
		if turn.Role != transcript.RoleTool {
			continue
		}
		content := strings.ToLower(turn.Content)
		switch {
		case strings.Contains(content, "needs_revision") || strings.Contains(content, "needs-revision"):
			verdict = VerdictNeedsRevision
			feedback = turn.Content
		case strings.Contains(content, "approved"):
			verdict = VerdictApproved
			feedback = turn.Content
		}
	}
	return verdict, feedback
}
