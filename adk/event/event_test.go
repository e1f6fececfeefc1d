package event_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-adk/adk/adk/content"
	"github.com/go-adk/adk/adk/event"
)

func TestNewEventStampsIdentity(t *testing.T) {
	e := event.New("inv-1", "sess-1", "assistant")
	require.NotEmpty(t, e.ID)
	require.Equal(t, "inv-1", e.InvocationID)
	require.Equal(t, "sess-1", e.SessionID)
	require.False(t, e.Timestamp.IsZero())
	require.Zero(t, e.EventID, "EventID is assigned by the session on append, not at construction")
}

func TestWithContentRoundTrips(t *testing.T) {
	e := event.New("inv", "sess", "model").WithContent(content.NewText(content.RoleModel, "hello"))
	require.Equal(t, "hello", e.Content().Text())
}

func TestActionsMergeLastWriteWins(t *testing.T) {
	a := event.Actions{StateDelta: map[string]any{"x": 1}}
	b := event.Actions{StateDelta: map[string]any{"x": 2, "y": 3}, Escalate: true}
	a.Merge(b)
	require.Equal(t, 2, a.StateDelta["x"])
	require.Equal(t, 3, a.StateDelta["y"])
	require.True(t, a.Escalate)
}

func TestNormalizeFinishReasonAcceptsStringAndNumeric(t *testing.T) {
	require.Equal(t, event.FinishStop, event.NormalizeFinishReason("stop"))
	require.Equal(t, event.FinishStop, event.NormalizeFinishReason(1))
	require.Equal(t, event.FinishMaxTokens, event.NormalizeFinishReason(float64(2)))
	require.Equal(t, event.FinishOther, event.NormalizeFinishReason("something_new_from_v5"))
	require.Equal(t, event.FinishOther, event.NormalizeFinishReason(999))
}

func TestNormalizeHarmCategoryFallsBackToOther(t *testing.T) {
	require.Equal(t, event.HarmCategoryDangerous, event.NormalizeHarmCategory("dangerous"))
	require.Equal(t, event.HarmCategoryHarassment, event.NormalizeHarmCategory(1))
	require.Equal(t, event.HarmCategoryOther, event.NormalizeHarmCategory("unknown_future_value"))
}
