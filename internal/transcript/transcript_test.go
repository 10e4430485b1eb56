package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscript_AppendAssignsSequence(t *testing.T) {
	tr := New()

	first := tr.Append(Turn{Role: RoleUser, Content: "build a landing page"})
	second := tr.Append(Turn{Role: RoleAgent, Phase: "design", Content: "plan"})

	assert.Equal(t, 0, first.Seq)
	assert.Equal(t, 1, second.Seq)
	assert.Equal(t, 2, tr.Len())
}

func TestTranscript_AppendCopiesActions(t *testing.T) {
	tr := New()
	actions := []Action{{ID: "a1", Name: "create_file"}}

	stored := tr.Append(Turn{Role: RoleAgent, Phase: "design", Actions: actions})

	// Mutating the caller's slice must not reach the stored turn.
	actions[0].Name = "delete_path"

	got, ok := tr.Last()
	require.True(t, ok)
	assert.Equal(t, "create_file", got.Actions[0].Name)
	assert.Equal(t, "create_file", stored.Actions[0].Name)
}

func TestTranscript_SliceReturnsCopy(t *testing.T) {
	tr := New()
	tr.Append(Turn{Role: RoleUser, Content: "request"})
	tr.Append(Turn{Role: RoleAgent, Phase: "design", Content: "reply"})

	got := tr.Slice(0)
	require.Len(t, got, 2)

	got[0].Content = "mutated"
	first, ok := tr.FirstUser()
	require.True(t, ok)
	assert.Equal(t, "request", first.Content)
}

func TestTranscript_SliceBounds(t *testing.T) {
	tr := New()
	tr.Append(Turn{Role: RoleUser})

	assert.Len(t, tr.Slice(-5), 1)
	assert.Empty(t, tr.Slice(1))
	assert.Empty(t, tr.Slice(99))
}

func TestTranscript_LastEmpty(t *testing.T) {
	tr := New()
	_, ok := tr.Last()
	assert.False(t, ok)
}

func TestTranscript_FirstUserScansFromZero(t *testing.T) {
	tr := New()
	tr.Append(Turn{Role: RoleUser, Content: "original request"})
	tr.Append(Turn{Role: RoleAgent, Phase: "design", Content: "no action"})
	// Nudges are user-role turns; the anchor must stay the original request.
	tr.Append(Turn{Role: RoleUser, Phase: "design", Content: "nudge"})

	first, ok := tr.FirstUser()
	require.True(t, ok)
	assert.Equal(t, 0, first.Seq)
	assert.Equal(t, "original request", first.Content)
}

func TestTranscript_ScopedIncludesAnchorAndTail(t *testing.T) {
	tr := New()
	tr.Append(Turn{Role: RoleUser, Content: "request"})                        // 0
	tr.Append(Turn{Role: RoleAgent, Phase: "design", Content: "design out"})   // 1
	tr.Append(Turn{Role: RoleTool, Phase: "design", Content: "file created"})  // 2
	tr.Append(Turn{Role: RoleAgent, Phase: "implement", Content: "impl out"})  // 3

	// Implement phase activated at index 3: sees the user turn plus its own.
	got := tr.Scoped(3)
	require.Len(t, got, 2)
	assert.Equal(t, RoleUser, got[0].Role)
	assert.Equal(t, 3, got[1].Seq)
}

func TestTranscript_ScopedExcludesOtherPhases(t *testing.T) {
	tr := New()
	tr.Append(Turn{Role: RoleUser, Content: "request"})
	for i := 0; i < 5; i++ {
		tr.Append(Turn{Role: RoleAgent, Phase: "design", Content: "design chatter"})
	}
	start := tr.Len()
	tr.Append(Turn{Role: RoleAgent, Phase: "implement", Content: "impl"})

	got := tr.Scoped(start)
	require.Len(t, got, 2)
	for _, turn := range got[1:] {
		assert.GreaterOrEqual(t, turn.Seq, start)
	}
}

func TestTranscript_ScopedNoDuplicateAnchor(t *testing.T) {
	tr := New()
	tr.Append(Turn{Role: RoleUser, Content: "request"})
	tr.Append(Turn{Role: RoleAgent, Phase: "design", Content: "reply"})

	// Start index 0 already covers the user turn.
	got := tr.Scoped(0)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Seq)
	assert.Equal(t, 1, got[1].Seq)
}

func TestTranscript_ScopedUnsetStart(t *testing.T) {
	tr := New()
	tr.Append(Turn{Role: RoleUser, Content: "request"})
	tr.Append(Turn{Role: RoleAgent, Phase: "design", Content: "reply"})

	got := tr.Scoped(-1)
	require.Len(t, got, 1)
	assert.Equal(t, RoleUser, got[0].Role)
}
