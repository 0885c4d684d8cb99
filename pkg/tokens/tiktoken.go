package tokens

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TiktokenCounter counts tokens with a real BPE codec. Local models ship
// assorted tokenizers, so GPT-4 encoding is an approximation for all of
// them; it is used for the stats display's second opinion, never for
// budgeting (the heuristic estimator is monotonic by construction, a codec
// is not).
type TiktokenCounter struct {
	codec tokenizer.Codec
}

// NewTiktokenCounter creates a counter using the GPT-4 encoding.
func NewTiktokenCounter() (*TiktokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TiktokenCounter{codec: codec}, nil
}

// Estimate returns the codec's token count, falling back to the character
// heuristic if the codec is missing or errors.
func (tc *TiktokenCounter) Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	if tc.codec == nil {
		return fallbackEstimate(text)
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return fallbackEstimate(text)
	}
	if count == 0 {
		return 1
	}
	return count
}

func fallbackEstimate(text string) int {
	n := len(text) / DefaultCharsPerToken
	if n == 0 {
		return 1
	}
	return n
}
