package events

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Multi fans an event out to every sink in order. Each sink is individually
// guarded: a panic is recovered and reported as an error, and one sink's
// failure never prevents delivery to the rest.
type Multi struct {
	sinks []Sink
}

// NewMulti returns a sink fanning out to the given sinks. Nil entries are
// skipped.
func NewMulti(sinks ...Sink) *Multi {
	m := &Multi{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Emit delivers the event to every sink and returns the joined errors, if
// any. Callers treat the result as diagnostic only.
func (m *Multi) Emit(e Event) error {
	var errs []error
	for _, s := range m.sinks {
		if err := safeEmit(s, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func safeEmit(s Sink, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
	}()
	return s.Emit(e)
}

// LogSink writes events to a zap logger. Useful as an always-on observer in
// CLI runs and as the fallback when no other sink is configured.
type LogSink struct {
	log *zap.Logger
}

// NewLogSink returns a sink logging each event at info level.
func NewLogSink(log *zap.Logger) *LogSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogSink{log: log}
}

// Emit logs the event. It never returns an error.
func (s *LogSink) Emit(e Event) error {
	fields := []zap.Field{
		zap.String("run_id", e.RunID),
		zap.String("kind", string(e.Kind)),
	}
	if e.Phase != "" {
		fields = append(fields, zap.String("phase", e.Phase))
	}
	if e.ActionName != "" {
		fields = append(fields, zap.String("action", e.ActionName))
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}
	s.log.Info("run event", fields...)
	return nil
}

// ChanSink forwards events to a channel without blocking: when the receiver
// falls behind, events are dropped rather than stalling the run.
type ChanSink struct {
	ch chan Event
}

// NewChanSink returns a channel-backed sink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChanSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChanSink) Events() <-chan Event {
	return s.ch
}

// Emit performs a non-blocking send.
func (s *ChanSink) Emit(e Event) error {
	select {
	case s.ch <- e:
		return nil
	default:
		return fmt.Errorf("event channel full, dropped %s", e.Kind)
	}
}

// Close closes the underlying channel. Call only after the last Emit.
func (s *ChanSink) Close() {
	close(s.ch)
}

// Collect retains every emitted event, for tests and post-run inspection.
type Collect struct {
	mu     sync.Mutex
	events []Event
}

// NewCollect returns an empty collector.
func NewCollect() *Collect {
	return &Collect{}
}

// Emit records the event.
func (c *Collect) Emit(e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

// Events returns a copy of everything recorded so far.
func (c *Collect) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Kinds returns the recorded kinds in emission order.
func (c *Collect) Kinds() []Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Kind, len(c.events))
	for i, e := range c.events {
		out[i] = e.Kind
	}
	return out
}

// ByKind returns the recorded events of one kind, in order.
func (c *Collect) ByKind(k Kind) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, e := range c.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}
