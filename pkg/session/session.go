// Package session ties the memory pipeline together: one Session owns a
// model-keyed store, a budget planner, and a context window source, and
// exposes the two-phase turn flow the chat loop drives. PrepareTurn plans a
// budget and assembles the prompt before inference; CommitTurn freezes the
// finished exchange into the model's record afterwards.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"memai/pkg/budget"
	"memai/pkg/contextmgr"
	"memai/pkg/logx"
	"memai/pkg/memory"
	"memai/pkg/ollamaclient"
	"memai/pkg/tokens"
)

// WindowProvider resolves a model's usable context window in tokens.
type WindowProvider interface {
	ContextWindow(ctx context.Context, model string) (int, error)
}

// Config carries the collaborators a Session needs. Store, Planner, Windows,
// and Estimator are required; Counter is an optional exact-tokenizer second
// opinion surfaced in Stats only.
type Config struct {
	Store        *memory.Store
	Planner      *budget.Planner
	Windows      WindowProvider
	Estimator    tokens.Estimator
	Counter      *tokens.TiktokenCounter
	SystemPrompt string

	// Tools are offered to the model on tools-mode turns only.
	Tools []ollamaclient.ToolDefinition
}

// Session coordinates per-model conversation state across turns.
type Session struct {
	id           uuid.UUID
	store        *memory.Store
	planner      *budget.Planner
	windows      WindowProvider
	est          tokens.Estimator
	counter      *tokens.TiktokenCounter
	systemPrompt string
	tools        []ollamaclient.ToolDefinition
	logger       *logx.Logger

	mu          sync.Mutex
	windowCache map[string]int
}

// New validates collaborators and creates a session with a fresh id.
func New(cfg Config) (*Session, error) {
	switch {
	case cfg.Store == nil:
		return nil, fmt.Errorf("session: store is required")
	case cfg.Planner == nil:
		return nil, fmt.Errorf("session: planner is required")
	case cfg.Windows == nil:
		return nil, fmt.Errorf("session: window provider is required")
	case cfg.Estimator == nil:
		return nil, fmt.Errorf("session: token estimator is required")
	}

	return &Session{
		id:           uuid.New(),
		store:        cfg.Store,
		planner:      cfg.Planner,
		windows:      cfg.Windows,
		est:          cfg.Estimator,
		counter:      cfg.Counter,
		systemPrompt: cfg.SystemPrompt,
		tools:        cfg.Tools,
		logger:       logx.NewLogger("session"),
		windowCache:  make(map[string]int),
	}, nil
}

// ID returns the session's unique id, used to correlate log lines.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// TurnPlan is everything PrepareTurn decided for one turn. It is handed back
// to CommitTurn unchanged so the exchange is recorded under the same budget
// it was planned with.
type TurnPlan struct {
	ModelID       string
	Mode          budget.Mode
	UserText      string
	Complexity    float64
	ContextWindow int
	Budget        budget.Budget
	Messages      []contextmgr.Message
	Tools         []ollamaclient.ToolDefinition
	Dropped       *memory.SummaryBlock
	HistoryTokens int
}

// MaxResponseTokens is the response allocation in tokens, suitable for the
// backend's num_predict option.
func (p *TurnPlan) MaxResponseTokens() int {
	return p.Budget.ResponseTokens(p.ContextWindow)
}

// PrepareTurn plans the budget for one user turn and assembles the prompt.
// It fails before any inference happens if the model's context window cannot
// be established or is invalid.
func (s *Session) PrepareTurn(ctx context.Context, modelID string, mode budget.Mode, userText string) (TurnPlan, error) {
	window, err := s.resolveWindow(ctx, modelID)
	if err != nil {
		return TurnPlan{}, err
	}

	complexity := budget.ScoreComplexity(userText, mode)
	b, err := s.planner.Plan(window, mode, complexity)
	if err != nil {
		return TurnPlan{}, err
	}

	record := s.store.Load(modelID)
	asm := contextmgr.Assemble(&record, userText, b, window, s.est)

	msgs := make([]contextmgr.Message, 0, len(asm.Included)*2+3)
	if s.systemPrompt != "" {
		msgs = append(msgs, contextmgr.Message{Role: contextmgr.RoleSystem, Content: s.systemPrompt})
	}
	msgs = append(msgs, asm.Messages()...)
	msgs = append(msgs, contextmgr.Message{Role: contextmgr.RoleUser, Content: userText})

	s.logger.Debug("turn planned for %s: window=%d complexity=%.2f history=%d tokens response=%d tokens",
		modelID, window, complexity, asm.HistoryTokens, b.ResponseTokens(window))

	plan := TurnPlan{
		ModelID:       modelID,
		Mode:          mode,
		UserText:      userText,
		Complexity:    complexity,
		ContextWindow: window,
		Budget:        b,
		Messages:      msgs,
		Dropped:       asm.Dropped,
		HistoryTokens: asm.HistoryTokens,
	}
	if mode == budget.ModeTools {
		plan.Tools = s.tools
	}
	return plan, nil
}

// CommitTurn records the completed exchange under the plan's budget. The
// returned flag reports whether the record reached disk; the in-memory
// record reflects the exchange either way.
func (s *Session) CommitTurn(plan *TurnPlan, assistantText string) (memory.ConversationRecord, bool) {
	exchangeCap := plan.Budget.ExchangeCapTokens(plan.ContextWindow)
	return s.store.RecordExchange(plan.ModelID, plan.UserText, assistantText,
		plan.Mode, plan.Complexity, s.est, exchangeCap)
}

// Stats summarizes a model's stored conversation.
type Stats struct {
	ModelID           string
	ExchangeCount     int
	ArchivedExchanges int
	OversizedCount    int
	TotalTokens       int
	ExactTokens       int // tokenizer second opinion; 0 when unavailable
	ContextWindow     int // 0 until a turn resolved it
	UtilizationPct    float64
	CreatedAt         time.Time
	LastUpdatedAt     time.Time
}

// Stats computes statistics from the model's record and, when a tokenizer is
// configured, an exact token count alongside the heuristic one.
func (s *Session) Stats(modelID string) Stats {
	record := s.store.Load(modelID)

	st := Stats{
		ModelID:       modelID,
		ExchangeCount: len(record.CurrentConversation),
		TotalTokens:   record.TotalTokens(),
		CreatedAt:     record.CreatedAt,
		LastUpdatedAt: record.LastUpdatedAt,
	}
	for i := range record.SummarizedConversations {
		st.ArchivedExchanges += record.SummarizedConversations[i].ExchangeCount
	}
	for i := range record.CurrentConversation {
		if record.CurrentConversation[i].Oversized {
			st.OversizedCount++
		}
	}

	if s.counter != nil {
		for i := range record.CurrentConversation {
			ex := &record.CurrentConversation[i]
			st.ExactTokens += s.counter.Estimate(ex.User.Content)
			st.ExactTokens += s.counter.Estimate(ex.Assistant.Content)
		}
	}

	s.mu.Lock()
	window := s.windowCache[modelID]
	s.mu.Unlock()
	if window > 0 {
		st.ContextWindow = window
		st.UtilizationPct = float64(st.TotalTokens) / float64(window) * 100
	}
	return st
}

// Clear archives the model's current conversation into its summary history.
func (s *Session) Clear(modelID string) error {
	return s.store.Clear(modelID)
}

// ListModels returns the model ids with stored records.
func (s *Session) ListModels() []string {
	return s.store.ListModels()
}

// resolveWindow asks the provider once per model and caches the answer for
// the life of the session.
func (s *Session) resolveWindow(ctx context.Context, modelID string) (int, error) {
	s.mu.Lock()
	if window, ok := s.windowCache[modelID]; ok {
		s.mu.Unlock()
		return window, nil
	}
	s.mu.Unlock()

	window, err := s.windows.ContextWindow(ctx, modelID)
	if err != nil {
		return 0, logx.Wrap(err, fmt.Sprintf("resolve context window for %s", modelID))
	}
	if window <= 0 {
		return 0, budget.ErrInvalidWindow
	}

	s.mu.Lock()
	s.windowCache[modelID] = window
	s.mu.Unlock()
	return window, nil
}
