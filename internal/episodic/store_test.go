package episodic

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/bentman/JARVISv5/internal/jerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "trace.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendDecision_ReturnsMonotoneIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.AppendDecision(ctx, "task-1", ActionPlan, "PLAN", StatusOK)
	require.NoError(t, err)

	id2, err := s.AppendDecision(ctx, "task-1", ActionNode, "EXECUTE", StatusOK)
	require.NoError(t, err)

	require.Greater(t, id2, id1)
}

func TestAppendToolCall_RequiresOwningDecision(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	decisionID, err := s.AppendDecision(ctx, "task-1", ActionTool, "tool", StatusOK)
	require.NoError(t, err)

	toolCallID, err := s.AppendToolCall(ctx, decisionID, "read_file", `{"path":"a.txt"}`, `{"ok":true}`)
	require.NoError(t, err)
	require.NotZero(t, toolCallID)

	rows, err := s.SearchToolCalls(ctx, "read_file", "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, decisionID, rows[0].DecisionID)
}

func TestSearchDecisions_CaseInsensitiveAndOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.AppendDecision(ctx, "task-1", ActionPlan, "first PLAN event", StatusOK)
	require.NoError(t, err)
	_, err = s.AppendDecision(ctx, "task-1", ActionNode, "second plan retried", StatusOK)
	require.NoError(t, err)

	rows, err := s.SearchDecisions(ctx, "PLAN", "", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	// newest first
	require.Equal(t, "second plan retried", rows[0].Content)
}

func TestSearchDecisions_EmptyQueryRejected(t *testing.T) {
	s := newTestStore(t)
	_, err := s.SearchDecisions(context.Background(), "   ", "", 10)
	require.Error(t, err)
	require.True(t, jerr.Is(err, jerr.CodeInvalidArgument))
}

func TestAppendValidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	decisionID, err := s.AppendDecision(ctx, "task-1", ActionValidate, "VALIDATE", StatusOK)
	require.NoError(t, err)

	id, err := s.AppendValidation(ctx, decisionID, "llm_output", "pass", "non-empty output")
	require.NoError(t, err)
	require.NotZero(t, id)
}
