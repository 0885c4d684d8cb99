package session

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"memai/pkg/budget"
	"memai/pkg/contextmgr"
	"memai/pkg/memory"
	"memai/pkg/ollamaclient"
	"memai/pkg/tokens"
)

// stubWindows serves fixed windows and counts lookups.
type stubWindows struct {
	windows map[string]int
	err     error
	calls   int
}

func (s *stubWindows) ContextWindow(_ context.Context, model string) (int, error) {
	s.calls++
	if s.err != nil {
		return 0, s.err
	}
	return s.windows[model], nil
}

func newTestSession(t *testing.T, windows *stubWindows) *Session {
	t.Helper()
	store, err := memory.NewStore(t.TempDir(), 3)
	require.NoError(t, err)

	sess, err := New(Config{
		Store:        store,
		Planner:      budget.NewPlanner(),
		Windows:      windows,
		Estimator:    tokens.NewHeuristicEstimator(),
		SystemPrompt: "You are a helpful assistant.",
	})
	require.NoError(t, err)
	return sess
}

func TestNewRequiresCollaborators(t *testing.T) {
	store, err := memory.NewStore(t.TempDir(), 3)
	require.NoError(t, err)
	windows := &stubWindows{windows: map[string]int{}}

	_, err = New(Config{Planner: budget.NewPlanner(), Windows: windows, Estimator: tokens.NewHeuristicEstimator()})
	assert.Error(t, err)

	_, err = New(Config{Store: store, Windows: windows, Estimator: tokens.NewHeuristicEstimator()})
	assert.Error(t, err)

	_, err = New(Config{Store: store, Planner: budget.NewPlanner(), Estimator: tokens.NewHeuristicEstimator()})
	assert.Error(t, err)

	_, err = New(Config{Store: store, Planner: budget.NewPlanner(), Windows: windows})
	assert.Error(t, err)
}

func TestSessionIDsAreUnique(t *testing.T) {
	windows := &stubWindows{windows: map[string]int{}}
	a := newTestSession(t, windows)
	b := newTestSession(t, windows)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestPrepareTurnFirstTurn(t *testing.T) {
	windows := &stubWindows{windows: map[string]int{"phi4:latest": 8192}}
	sess := newTestSession(t, windows)

	plan, err := sess.PrepareTurn(context.Background(), "phi4:latest", budget.ModeChat, "hello there")
	require.NoError(t, err)

	assert.Equal(t, 8192, plan.ContextWindow)
	assert.InDelta(t, 1.0, plan.Budget.Sum(), 0.01)
	assert.Positive(t, plan.MaxResponseTokens())
	assert.Nil(t, plan.Dropped)

	// System prompt first, the new user text last, nothing in between on an
	// empty record.
	require.Len(t, plan.Messages, 2)
	assert.Equal(t, contextmgr.RoleSystem, plan.Messages[0].Role)
	assert.Equal(t, contextmgr.RoleUser, plan.Messages[1].Role)
	assert.Equal(t, "hello there", plan.Messages[1].Content)
}

func TestPrepareTurnIncludesHistory(t *testing.T) {
	windows := &stubWindows{windows: map[string]int{"phi4:latest": 8192}}
	sess := newTestSession(t, windows)

	plan, err := sess.PrepareTurn(context.Background(), "phi4:latest", budget.ModeChat, "first question")
	require.NoError(t, err)
	_, persisted := sess.CommitTurn(&plan, "first answer")
	require.True(t, persisted)

	plan, err = sess.PrepareTurn(context.Background(), "phi4:latest", budget.ModeChat, "second question")
	require.NoError(t, err)

	// system, user, assistant, new user
	require.Len(t, plan.Messages, 4)
	assert.Equal(t, "first question", plan.Messages[1].Content)
	assert.Equal(t, "first answer", plan.Messages[2].Content)
	assert.Equal(t, "second question", plan.Messages[3].Content)
}

func TestPrepareTurnInvalidWindow(t *testing.T) {
	windows := &stubWindows{windows: map[string]int{"broken": 0}}
	sess := newTestSession(t, windows)

	_, err := sess.PrepareTurn(context.Background(), "broken", budget.ModeChat, "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, budget.ErrInvalidWindow)
}

func TestPrepareTurnProviderError(t *testing.T) {
	windows := &stubWindows{err: errors.New("server down")}
	sess := newTestSession(t, windows)

	_, err := sess.PrepareTurn(context.Background(), "phi4:latest", budget.ModeChat, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server down")
}

func TestWindowResolvedOncePerModel(t *testing.T) {
	windows := &stubWindows{windows: map[string]int{"phi4:latest": 8192, "mistral:7b": 4096}}
	sess := newTestSession(t, windows)

	for range 3 {
		_, err := sess.PrepareTurn(context.Background(), "phi4:latest", budget.ModeChat, "hi")
		require.NoError(t, err)
	}
	_, err := sess.PrepareTurn(context.Background(), "mistral:7b", budget.ModeChat, "hi")
	require.NoError(t, err)

	assert.Equal(t, 2, windows.calls)
}

func TestToolsModeGetsLargerResponse(t *testing.T) {
	windows := &stubWindows{windows: map[string]int{"phi4:latest": 8192}}
	sess := newTestSession(t, windows)

	prompt := "Refactor this function and explain the changes step by step."
	chatPlan, err := sess.PrepareTurn(context.Background(), "phi4:latest", budget.ModeChat, prompt)
	require.NoError(t, err)
	toolsPlan, err := sess.PrepareTurn(context.Background(), "phi4:latest", budget.ModeTools, prompt)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, toolsPlan.Complexity, chatPlan.Complexity)
	assert.Greater(t, toolsPlan.Budget.ToolsPct, 0.0)
}

func TestToolsOnlyOfferedInToolsMode(t *testing.T) {
	store, err := memory.NewStore(t.TempDir(), 3)
	require.NoError(t, err)
	windows := &stubWindows{windows: map[string]int{"phi4:latest": 8192}}

	sess, err := New(Config{
		Store:     store,
		Planner:   budget.NewPlanner(),
		Windows:   windows,
		Estimator: tokens.NewHeuristicEstimator(),
		Tools: []ollamaclient.ToolDefinition{
			{Name: "get_weather", Description: "Look up current weather"},
		},
	})
	require.NoError(t, err)

	chatPlan, err := sess.PrepareTurn(context.Background(), "phi4:latest", budget.ModeChat, "hi")
	require.NoError(t, err)
	assert.Empty(t, chatPlan.Tools)

	toolsPlan, err := sess.PrepareTurn(context.Background(), "phi4:latest", budget.ModeTools, "hi")
	require.NoError(t, err)
	require.Len(t, toolsPlan.Tools, 1)
	assert.Equal(t, "get_weather", toolsPlan.Tools[0].Name)
}

func TestCommitTurnPersistsExchange(t *testing.T) {
	windows := &stubWindows{windows: map[string]int{"phi4:latest": 8192}}
	sess := newTestSession(t, windows)

	plan, err := sess.PrepareTurn(context.Background(), "phi4:latest", budget.ModeChat, "what is Go?")
	require.NoError(t, err)
	rec, persisted := sess.CommitTurn(&plan, "A programming language.")
	require.True(t, persisted)
	require.Len(t, rec.CurrentConversation, 1)
	assert.Equal(t, "what is Go?", rec.CurrentConversation[0].User.Content)
	assert.Equal(t, plan.Complexity, rec.CurrentConversation[0].ComplexityScore)
	assert.Equal(t, budget.ModeChat, rec.CurrentConversation[0].Mode)
}

func TestCommitTurnFlagsOversizedAgainstPlanCap(t *testing.T) {
	windows := &stubWindows{windows: map[string]int{"tiny": 1000}}
	sess := newTestSession(t, windows)

	plan, err := sess.PrepareTurn(context.Background(), "tiny", budget.ModeChat, "hi")
	require.NoError(t, err)

	// Far beyond 25% of a 1000-token history budget.
	huge := strings.Repeat("lorem ipsum dolor sit amet ", 400)
	rec, persisted := sess.CommitTurn(&plan, huge)
	require.True(t, persisted)
	require.Len(t, rec.CurrentConversation, 1)
	assert.True(t, rec.CurrentConversation[0].Oversized)
}

func TestStats(t *testing.T) {
	windows := &stubWindows{windows: map[string]int{"phi4:latest": 8192}}
	sess := newTestSession(t, windows)

	st := sess.Stats("phi4:latest")
	assert.Equal(t, 0, st.ExchangeCount)
	assert.Equal(t, 0, st.ContextWindow) // no turn has resolved it yet

	plan, err := sess.PrepareTurn(context.Background(), "phi4:latest", budget.ModeChat, "question one")
	require.NoError(t, err)
	_, persisted := sess.CommitTurn(&plan, "answer one")
	require.True(t, persisted)

	st = sess.Stats("phi4:latest")
	assert.Equal(t, 1, st.ExchangeCount)
	assert.Positive(t, st.TotalTokens)
	assert.Equal(t, 8192, st.ContextWindow)
	assert.Positive(t, st.UtilizationPct)
	assert.Equal(t, 0, st.ExactTokens) // no tokenizer configured
	assert.False(t, st.CreatedAt.IsZero())
}

func TestStatsExactTokensWithCounter(t *testing.T) {
	store, err := memory.NewStore(t.TempDir(), 3)
	require.NoError(t, err)
	counter, err := tokens.NewTiktokenCounter()
	require.NoError(t, err)

	windows := &stubWindows{windows: map[string]int{"phi4:latest": 8192}}
	sess, err := New(Config{
		Store:     store,
		Planner:   budget.NewPlanner(),
		Windows:   windows,
		Estimator: tokens.NewHeuristicEstimator(),
		Counter:   counter,
	})
	require.NoError(t, err)

	plan, err := sess.PrepareTurn(context.Background(), "phi4:latest", budget.ModeChat, "question one")
	require.NoError(t, err)
	_, persisted := sess.CommitTurn(&plan, "answer one")
	require.True(t, persisted)

	st := sess.Stats("phi4:latest")
	assert.Positive(t, st.ExactTokens)
}

func TestClearArchivesHistory(t *testing.T) {
	windows := &stubWindows{windows: map[string]int{"phi4:latest": 8192}}
	sess := newTestSession(t, windows)

	plan, err := sess.PrepareTurn(context.Background(), "phi4:latest", budget.ModeChat, "q")
	require.NoError(t, err)
	_, persisted := sess.CommitTurn(&plan, "a")
	require.True(t, persisted)

	require.NoError(t, sess.Clear("phi4:latest"))

	st := sess.Stats("phi4:latest")
	assert.Equal(t, 0, st.ExchangeCount)
	assert.Equal(t, 1, st.ArchivedExchanges)
}

func TestListModels(t *testing.T) {
	windows := &stubWindows{windows: map[string]int{"phi4:latest": 8192}}
	sess := newTestSession(t, windows)

	assert.Empty(t, sess.ListModels())

	plan, err := sess.PrepareTurn(context.Background(), "phi4:latest", budget.ModeChat, "q")
	require.NoError(t, err)
	_, persisted := sess.CommitTurn(&plan, "a")
	require.True(t, persisted)

	assert.Len(t, sess.ListModels(), 1)
}
