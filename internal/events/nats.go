package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is the root of the NATS subject hierarchy for run events.
//
// Events are published to subjects of the form
//
//	flowd.runs.{run_id}.{kind}
//
// so subscribers can follow one run with flowd.runs.{run_id}.* or a single
// kind across runs with flowd.runs.*.workflow_done.
const SubjectPrefix = "flowd.runs"

// Subject returns the NATS subject for one run and kind.
func Subject(runID string, kind Kind) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, runID, kind)
}

// RunSubject returns the wildcard subject matching every event of a run.
func RunSubject(runID string) string {
	return fmt.Sprintf("%s.%s.*", SubjectPrefix, runID)
}

// NATSSink publishes events to a NATS connection. The connection is owned
// by the caller; Emit fails soft once it is closed.
type NATSSink struct {
	nc *nats.Conn
}

// NewNATSSink returns a sink publishing to the given connection.
func NewNATSSink(nc *nats.Conn) *NATSSink {
	return &NATSSink{nc: nc}
}

// Emit publishes the JSON-encoded event to its run/kind subject.
func (s *NATSSink) Emit(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.nc.Publish(Subject(e.RunID, e.Kind), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
