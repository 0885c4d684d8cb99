// Package tokens provides token counting for budgeting and stats. The
// budgeting path uses a fixed characters-per-token heuristic: deterministic,
// monotonic, and cheap. Exactness is a non-goal; the budget's safety margin
// absorbs estimator error.
package tokens

// DefaultCharsPerToken is the heuristic ratio (~4 chars per token for
// English prose and code).
const DefaultCharsPerToken = 4

// Estimator maps text to an approximate token count.
type Estimator interface {
	Estimate(text string) int
}

// HeuristicEstimator estimates tokens with a fixed characters-per-token
// ratio. Pure and stateless: no external calls, no failure modes.
type HeuristicEstimator struct {
	charsPerToken int
}

// NewHeuristicEstimator returns an estimator with the default ratio.
func NewHeuristicEstimator() *HeuristicEstimator {
	return NewHeuristicEstimatorWithRatio(DefaultCharsPerToken)
}

// NewHeuristicEstimatorWithRatio returns an estimator with a custom ratio.
// Non-positive ratios fall back to the default.
func NewHeuristicEstimatorWithRatio(charsPerToken int) *HeuristicEstimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return &HeuristicEstimator{charsPerToken: charsPerToken}
}

// Estimate returns len(text)/ratio, never zero for non-empty input so
// downstream ratios cannot divide by zero.
func (e *HeuristicEstimator) Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / e.charsPerToken
	if n == 0 {
		return 1
	}
	return n
}
