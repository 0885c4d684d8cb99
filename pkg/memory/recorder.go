package memory

import (
	"time"

	"memai/pkg/budget"
	"memai/pkg/tokens"
)

// RecordExchange appends a completed user/assistant turn to a model's record
// and persists it. Token counts are estimated once here and frozen into the
// exchange. exchangeCapTokens > 0 flags exchanges whose size alone exceeds
// the cap as oversized: kept in history, permanently excluded from assembly.
//
// The updated record is always returned so the session can continue in
// memory; the boolean reports whether persistence succeeded, and callers
// must surface a false to the user rather than swallow it.
func (s *Store) RecordExchange(modelID, userText, assistantText string,
	mode budget.Mode, complexity float64, est tokens.Estimator,
	exchangeCapTokens int) (ConversationRecord, bool) {

	rec := s.Load(modelID)

	if complexity < 0 {
		complexity = 0
	} else if complexity > 1 {
		complexity = 1
	}

	ex := Exchange{
		User:            Turn{Content: userText, Tokens: est.Estimate(userText)},
		Assistant:       Turn{Content: assistantText, Tokens: est.Estimate(assistantText)},
		Timestamp:       time.Now().UTC(),
		Mode:            mode,
		ComplexityScore: complexity,
	}
	if exchangeCapTokens > 0 && ex.TotalTokens() > exchangeCapTokens {
		ex.Oversized = true
		s.logger.Warn("exchange for %s is oversized (%d tokens > cap %d), excluded from future assembly",
			modelID, ex.TotalTokens(), exchangeCapTokens)
	}

	rec.CurrentConversation = append(rec.CurrentConversation, ex)
	rec.LastUpdatedAt = ex.Timestamp

	persisted := s.Save(modelID, rec)
	if !persisted {
		s.logger.Error("exchange for %s kept in memory only: persistence failed", modelID)
	}
	return rec, persisted
}
