package budget

import (
	"math"
	"regexp"
	"strings"
)

// Complexity signal weights. The four factor scores are each in [0,1] and are
// combined as a weighted sum, so the pre-adjustment total is also in [0,1].
const (
	lengthWeight   = 0.25
	keywordWeight  = 0.30
	codeWeight     = 0.25
	questionWeight = 0.20

	// Tools-mode turns trend longer, so the score gets a fixed uplift.
	toolsModeFactor = 1.2

	// Length bands in characters.
	shortQuery  = 50
	mediumQuery = 150
	longQuery   = 300
)

// analysisKeywords maps generation/analysis-indicating terms to weights.
// Higher weight = stronger signal that the response will need room.
//
//nolint:gochecknoglobals // static scoring table
var analysisKeywords = map[string]float64{
	"analyze": 2.0, "explain": 1.5, "compare": 2.0, "evaluate": 2.5,
	"implement": 3.0, "create": 2.0, "design": 2.5, "develop": 2.5,
	"optimize": 2.5, "debug": 2.0, "refactor": 2.0, "review": 1.5,
	"summarize": 1.5, "research": 2.0, "investigate": 2.0,
}

// questionIndicators maps question phrasings to weights. Longer phrases are
// checked as substrings, same as single words.
//
//nolint:gochecknoglobals // static scoring table
var questionIndicators = map[string]float64{
	"how": 1.0, "what": 0.5, "why": 1.5, "when": 0.5, "where": 0.5,
	"which": 0.8, "who": 0.3, "can you": 1.2, "could you": 1.2,
	"explain how": 2.0, "show me": 1.5, "help me": 1.8,
}

//nolint:gochecknoglobals // compiled once
var (
	fencedCodeRe = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe = regexp.MustCompile("`[^`]+`")
	funcDefRe    = regexp.MustCompile(`(?m)(func|def|class)\s+\w+`)
	importRe     = regexp.MustCompile(`(?m)^\s*(import|from)\s+\S+`)
	markupTagRe  = regexp.MustCompile(`<[\w/]+>`)
)

// ScoreComplexity estimates how much response space a prospective user
// message likely needs, as a score in [0,1]. It is pure and deterministic:
// cheap structural signals only, no model calls. Every per-category
// contribution is capped and repeated keywords get square-root diminishing
// returns, so stuffing a single term cannot starve the history allocation.
func ScoreComplexity(userText string, mode Mode) float64 {
	text := strings.ToLower(strings.TrimSpace(userText))
	if len(text) == 0 {
		return 0.1
	}

	score := lengthComplexity(len(text)) * lengthWeight
	score += keywordComplexity(text) * keywordWeight
	score += codeComplexity(userText) * codeWeight
	score += questionComplexity(text) * questionWeight

	if mode == ModeTools {
		score *= toolsModeFactor
	}

	return clamp01(score)
}

// lengthComplexity scores text length in bands, with diminishing returns past
// the long-query threshold.
func lengthComplexity(length int) float64 {
	switch {
	case length <= shortQuery:
		return 0.1
	case length <= mediumQuery:
		return 0.3
	case length <= longQuery:
		return 0.6
	default:
		excess := float64(length - longQuery)
		return math.Min(0.9, 0.6+excess/1000*0.3)
	}
}

// keywordComplexity scores analysis keywords. Repeats contribute sqrt(count)
// rather than count, and a high keyword density halves the total, so the
// score saturates instead of growing with stuffing.
func keywordComplexity(text string) float64 {
	var weights float64
	var matched int

	for keyword, weight := range analysisKeywords {
		count := strings.Count(text, keyword)
		if count > 0 {
			weights += weight * math.Sqrt(float64(count))
			matched += count
		}
	}
	if weights == 0 {
		return 0
	}

	// Keywords per 10 chars; above 30% density is stuffing, not substance.
	density := float64(matched) / math.Max(1, float64(len(text))/10)
	if density > 0.3 {
		weights *= 0.5
	}

	return math.Min(1.0, weights/10.0)
}

// codeComplexity scores code-shaped content. Fenced blocks dominate inline
// fragments; each pattern's contribution is counted then the total is capped.
func codeComplexity(text string) float64 {
	score := float64(len(fencedCodeRe.FindAllString(text, -1))) * 0.5
	score += float64(len(inlineCodeRe.FindAllString(text, -1))) * 0.1
	score += float64(len(funcDefRe.FindAllString(text, -1))) * 0.1
	score += float64(len(importRe.FindAllString(text, -1))) * 0.1
	score += float64(len(markupTagRe.FindAllString(text, -1))) * 0.1
	return math.Min(1.0, score)
}

// questionComplexity scores question phrasing; multi-part questions get a
// small multiplier.
func questionComplexity(text string) float64 {
	var score float64
	for indicator, weight := range questionIndicators {
		if strings.Contains(text, indicator) {
			score += weight
		}
	}

	questionWords := []string{"?", "how", "what", "why", "when", "where", "which"}
	var present int
	for _, word := range questionWords {
		if strings.Contains(text, word) {
			present++
		}
	}
	if present > 1 {
		score *= 1.2
	}

	return math.Min(1.0, score/5.0)
}

func clamp01(v float64) float64 {
	return math.Max(0.0, math.Min(1.0, v))
}
