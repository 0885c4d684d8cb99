// Package memory owns the persisted per-model conversation records: one
// record per model identity, loaded with structural validation, saved
// atomically, and recovered from corruption without losing more than
// necessary.
package memory

import (
	"fmt"
	"time"

	"memai/pkg/budget"
)

// SchemaVersion is the current on-disk record schema.
const SchemaVersion = 1

// Turn is one side of an exchange. Tokens is the estimator's output at write
// time and is never recomputed later: stored counts are a frozen snapshot.
type Turn struct {
	Content string `json:"content"`
	Tokens  int    `json:"tokens"`
}

// Exchange is one user/assistant pair. Immutable once written; assembly only
// chooses what to read, it never edits stored exchanges.
type Exchange struct {
	User            Turn        `json:"user"`
	Assistant       Turn        `json:"assistant"`
	Timestamp       time.Time   `json:"timestamp"`
	Mode            budget.Mode `json:"mode"`
	ComplexityScore float64     `json:"complexity_score"`

	// Oversized marks an exchange whose token size alone exceeded the
	// per-exchange cap when it was recorded. It stays in history but is
	// permanently excluded from context assembly.
	Oversized bool `json:"oversized,omitempty"`
}

// TotalTokens returns the stored token snapshot for both sides.
func (e Exchange) TotalTokens() int {
	return e.User.Tokens + e.Assistant.Tokens
}

// DateRange spans the timestamps a summary covers.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// SummaryBlock stands in for exchanges dropped from the active context or
// archived by a clear. Never user-authored.
type SummaryBlock struct {
	SummaryText   string    `json:"summary_text"`
	ExchangeCount int       `json:"exchange_count"`
	TotalTokens   int       `json:"total_tokens"`
	DateRange     DateRange `json:"date_range"`
}

// NewSummaryBlock aggregates a chronological run of exchanges into a
// placeholder summary. Turning the placeholder into real natural-language
// text is an external, asynchronous concern.
func NewSummaryBlock(exchanges []Exchange, summaryText string) SummaryBlock {
	block := SummaryBlock{
		SummaryText:   summaryText,
		ExchangeCount: len(exchanges),
	}
	for _, ex := range exchanges {
		block.TotalTokens += ex.TotalTokens()
	}
	if len(exchanges) > 0 {
		block.DateRange = DateRange{
			Start: exchanges[0].Timestamp,
			End:   exchanges[len(exchanges)-1].Timestamp,
		}
	}
	return block
}

// ConversationRecord is the persisted state for one model identity.
// CurrentConversation is append-only: truncation for budget happens at
// read time during assembly, never by mutating storage.
type ConversationRecord struct {
	SchemaVersion           int            `json:"schema_version"`
	ModelID                 string         `json:"model_id"`
	CreatedAt               time.Time      `json:"created_at"`
	LastUpdatedAt           time.Time      `json:"last_updated_at"`
	CurrentConversation     []Exchange     `json:"current_conversation"`
	RecentConversations     []SummaryBlock `json:"recent_conversations"`
	SummarizedConversations []SummaryBlock `json:"summarized_conversations"`
}

// NewRecord returns a fresh empty record for a model.
func NewRecord(modelID string) ConversationRecord {
	now := time.Now().UTC()
	return ConversationRecord{
		SchemaVersion:           SchemaVersion,
		ModelID:                 modelID,
		CreatedAt:               now,
		LastUpdatedAt:           now,
		CurrentConversation:     []Exchange{},
		RecentConversations:     []SummaryBlock{},
		SummarizedConversations: []SummaryBlock{},
	}
}

// TotalTokens sums the stored token snapshots of the current conversation.
func (r *ConversationRecord) TotalTokens() int {
	var total int
	for _, ex := range r.CurrentConversation {
		total += ex.TotalTokens()
	}
	return total
}

// Validate checks structural integrity. A record that fails validation is
// never exposed to callers; the store treats it as corrupt and recovers.
func (r *ConversationRecord) Validate() error {
	if r.SchemaVersion < 1 {
		return fmt.Errorf("schema_version %d below 1", r.SchemaVersion)
	}
	if r.ModelID == "" {
		return fmt.Errorf("model_id missing")
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("created_at missing")
	}
	if r.LastUpdatedAt.IsZero() {
		return fmt.Errorf("last_updated_at missing")
	}
	for i := range r.CurrentConversation {
		if err := r.CurrentConversation[i].validate(); err != nil {
			return fmt.Errorf("exchange %d: %w", i, err)
		}
	}
	for i, block := range r.RecentConversations {
		if err := block.validate(); err != nil {
			return fmt.Errorf("recent_conversations %d: %w", i, err)
		}
	}
	for i, block := range r.SummarizedConversations {
		if err := block.validate(); err != nil {
			return fmt.Errorf("summarized_conversations %d: %w", i, err)
		}
	}
	return nil
}

func (e *Exchange) validate() error {
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp missing")
	}
	if !e.Mode.Valid() {
		return fmt.Errorf("unknown mode %q", e.Mode)
	}
	if e.User.Tokens < 0 || e.Assistant.Tokens < 0 {
		return fmt.Errorf("negative token count")
	}
	if e.ComplexityScore < 0 || e.ComplexityScore > 1 {
		return fmt.Errorf("complexity_score %v outside [0,1]", e.ComplexityScore)
	}
	return nil
}

func (b *SummaryBlock) validate() error {
	if b.ExchangeCount < 0 {
		return fmt.Errorf("negative exchange_count")
	}
	if b.TotalTokens < 0 {
		return fmt.Errorf("negative total_tokens")
	}
	return nil
}

// normalize replaces nil slices with empty ones so a loaded record compares
// and serializes identically to a freshly built one.
func (r *ConversationRecord) normalize() {
	if r.CurrentConversation == nil {
		r.CurrentConversation = []Exchange{}
	}
	if r.RecentConversations == nil {
		r.RecentConversations = []SummaryBlock{}
	}
	if r.SummarizedConversations == nil {
		r.SummarizedConversations = []SummaryBlock{}
	}
}
