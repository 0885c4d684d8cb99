// Package contextmgr assembles the per-turn context: given a model's
// conversation record and a planned budget, it selects the maximal suffix of
// history that fits the history allocation and stands a single placeholder
// summary in for whatever had to be dropped.
package contextmgr

import (
	"fmt"

	"memai/pkg/budget"
	"memai/pkg/memory"
	"memai/pkg/tokens"
)

// Message is one chat-completion message.
type Message struct {
	Role    string
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Assembly is the result of fitting history into a budget. Included is in
// chronological order; Dropped is non-nil iff at least one exchange was
// excluded, and always aggregates every excluded exchange into one block.
type Assembly struct {
	Included      []memory.Exchange
	Dropped       *memory.SummaryBlock
	HistoryTokens int // estimated tokens of Included plus the new user text
}

// Assemble selects the suffix of record.CurrentConversation that fits inside
// budget.HistoryPct of the context window, reserving room for the new user
// text. It walks newest to oldest, skipping (never splitting) exchanges that
// are flagged oversized or whose own size alone exceeds the per-exchange cap,
// and stops at the first exchange that would overflow the budget. The record
// itself is never mutated; everything excluded is represented by one
// synthesized SummaryBlock so nothing is silently lost.
//
// Guarantee: Assembly.HistoryTokens never exceeds the history allocation.
func Assemble(record *memory.ConversationRecord, newUserText string,
	b budget.Budget, contextWindow int, est tokens.Estimator) Assembly {

	historyBudget := b.HistoryTokens(contextWindow)
	exchangeCap := b.ExchangeCapTokens(contextWindow)

	running := est.Estimate(newUserText)
	history := record.CurrentConversation

	// Walk newest to oldest, marking which exchanges fit.
	included := make([]bool, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		ex := &history[i]
		exTokens := exchangeTokens(ex, est)

		if ex.Oversized || exTokens > exchangeCap {
			// Atomic unit too large to ever include partially; skip it and
			// keep considering older exchanges.
			continue
		}
		if running+exTokens > historyBudget {
			break
		}
		included[i] = true
		running += exTokens
	}

	asm := Assembly{HistoryTokens: running}
	var excluded []memory.Exchange
	for i := range history {
		if included[i] {
			asm.Included = append(asm.Included, history[i])
		} else {
			excluded = append(excluded, history[i])
		}
	}

	if len(excluded) > 0 {
		block := memory.NewSummaryBlock(excluded,
			fmt.Sprintf("[%d earlier exchanges not shown; summary pending]", len(excluded)))
		asm.Dropped = &block
	}
	return asm
}

// exchangeTokens prefers the frozen per-turn snapshots and falls back to
// estimating content for entries recorded without counts.
func exchangeTokens(ex *memory.Exchange, est tokens.Estimator) int {
	total := ex.TotalTokens()
	if total > 0 {
		return total
	}
	return est.Estimate(ex.User.Content) + est.Estimate(ex.Assistant.Content)
}

// Messages renders an assembly as chat messages, oldest to newest: the
// placeholder notice (when history was dropped), then each included
// exchange as a user/assistant pair.
func (a Assembly) Messages() []Message {
	msgs := make([]Message, 0, len(a.Included)*2+1)
	if a.Dropped != nil {
		msgs = append(msgs, Message{
			Role:    RoleSystem,
			Content: fmt.Sprintf("Earlier conversation context: %s", a.Dropped.SummaryText),
		})
	}
	for _, ex := range a.Included {
		msgs = append(msgs,
			Message{Role: RoleUser, Content: ex.User.Content},
			Message{Role: RoleAssistant, Content: ex.Assistant.Content},
		)
	}
	return msgs
}
