package budget

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreComplexityBounds(t *testing.T) {
	inputs := []string{
		"",
		"hi",
		"What is the capital of France?",
		strings.Repeat("explain ", 500),
		"```go\nfunc main() {}\n```\nWhy does this deadlock, and how would you redesign it?",
		strings.Repeat("a", 10000),
	}

	for _, mode := range []Mode{ModeChat, ModeTools} {
		for _, in := range inputs {
			score := ScoreComplexity(in, mode)
			assert.GreaterOrEqual(t, score, 0.0, "input %q", in)
			assert.LessOrEqual(t, score, 1.0, "input %q", in)
		}
	}
}

func TestScoreComplexityDeterministic(t *testing.T) {
	in := "Can you analyze this code and explain how to optimize the hot path?"
	assert.Equal(t, ScoreComplexity(in, ModeChat), ScoreComplexity(in, ModeChat))
}

func TestScoreComplexityEmptyInput(t *testing.T) {
	assert.InDelta(t, 0.1, ScoreComplexity("", ModeChat), 1e-9)
	assert.InDelta(t, 0.1, ScoreComplexity("   \n\t ", ModeChat), 1e-9)
}

func TestScoreComplexityOrdering(t *testing.T) {
	trivial := ScoreComplexity("hi", ModeChat)
	hard := ScoreComplexity(
		"Can you analyze this design, compare it against an event-driven "+
			"alternative, and implement a prototype? How would you debug "+
			"contention, and why does the current lock ordering deadlock? "+
			"```go\nfunc worker(ch chan int) { for v := range ch { process(v) } }\n```",
		ModeChat)

	assert.Greater(t, hard, trivial)
}

func TestScoreComplexityToolsModeUplift(t *testing.T) {
	in := "Implement a parser and explain how the grammar handles precedence."
	assert.Greater(t, ScoreComplexity(in, ModeTools), ScoreComplexity(in, ModeChat))
}

func TestScoreComplexityKeywordStuffingBounded(t *testing.T) {
	// A single keyword repeated hundreds of times must not dominate: the
	// per-category contribution is capped and repeats get sqrt diminishing
	// returns plus a density penalty.
	stuffed10 := ScoreComplexity(strings.Repeat("implement ", 10), ModeChat)
	stuffed500 := ScoreComplexity(strings.Repeat("implement ", 500), ModeChat)

	assert.LessOrEqual(t, stuffed500, 1.0)
	// 50x more repeats buys almost nothing beyond the saturated score.
	assert.InDelta(t, stuffed10, stuffed500, 0.35)

	// And stuffing one keyword scores no higher than a message that lights
	// up several independent signal categories.
	varied := ScoreComplexity(
		"How would you implement, debug, and optimize this? Why is it slow? "+
			"```py\nimport asyncio\n```"+strings.Repeat(" more detail please.", 30),
		ModeChat)
	assert.LessOrEqual(t, stuffed500, varied+0.15)
}

func TestScoreComplexityLengthBands(t *testing.T) {
	short := ScoreComplexity(strings.Repeat("a", 30), ModeChat)
	medium := ScoreComplexity(strings.Repeat("a", 120), ModeChat)
	long := ScoreComplexity(strings.Repeat("a", 250), ModeChat)

	assert.Less(t, short, medium)
	assert.Less(t, medium, long)
}
