package events

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMulti_DeliversToAllSinks(t *testing.T) {
	a := NewCollect()
	b := NewCollect()
	m := NewMulti(a, nil, b)

	err := m.Emit(Event{RunID: "r1", Kind: KindPhaseStarted, Phase: "design"})

	require.NoError(t, err)
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}

func TestMulti_FailingSinkDoesNotBlockOthers(t *testing.T) {
	failing := SinkFunc(func(Event) error { return errors.New("observer gone") })
	collect := NewCollect()
	m := NewMulti(failing, collect)

	err := m.Emit(Event{RunID: "r1", Kind: KindToolResult})

	assert.Error(t, err)
	assert.Len(t, collect.Events(), 1)
}

func TestMulti_RecoversSinkPanic(t *testing.T) {
	panicking := SinkFunc(func(Event) error { panic("broken pipe") })
	collect := NewCollect()
	m := NewMulti(panicking, collect)

	var err error
	require.NotPanics(t, func() {
		err = m.Emit(Event{RunID: "r1", Kind: KindWorkflowDone})
	})
	assert.ErrorContains(t, err, "sink panic")
	assert.Len(t, collect.Events(), 1)
}

func TestChanSink_DropsWhenFull(t *testing.T) {
	s := NewChanSink(1)

	require.NoError(t, s.Emit(Event{Kind: KindPhaseStarted}))
	err := s.Emit(Event{Kind: KindPhaseMessage})

	assert.ErrorContains(t, err, "dropped")

	got := <-s.Events()
	assert.Equal(t, KindPhaseStarted, got.Kind)
}

func TestLogSink_NeverErrors(t *testing.T) {
	s := NewLogSink(zap.NewNop())
	assert.NoError(t, s.Emit(Event{
		RunID:      "r1",
		Kind:       KindToolRequested,
		Phase:      "implement",
		ActionName: "create_file",
		Time:       time.Now(),
	}))

	// Nil logger falls back to a nop logger.
	assert.NoError(t, NewLogSink(nil).Emit(Event{Kind: KindPhaseDone}))
}

func TestCollect_KindsAndByKind(t *testing.T) {
	c := NewCollect()
	require.NoError(t, c.Emit(Event{Kind: KindPhaseStarted, Phase: "design"}))
	require.NoError(t, c.Emit(Event{Kind: KindToolResult, Phase: "design"}))
	require.NoError(t, c.Emit(Event{Kind: KindWorkflowDone}))

	assert.Equal(t, []Kind{KindPhaseStarted, KindToolResult, KindWorkflowDone}, c.Kinds())
	assert.Len(t, c.ByKind(KindToolResult), 1)
	assert.Empty(t, c.ByKind(KindRevisionRequested))
}

func TestKind_IsTerminal(t *testing.T) {
	assert.True(t, KindWorkflowDone.IsTerminal())
	assert.False(t, KindPhaseFailed.IsTerminal())
	assert.False(t, KindPhaseDone.IsTerminal())
}
