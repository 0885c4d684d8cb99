// Package budget computes per-turn context window partitions. Given a model's
// context window, an interaction mode, and a heuristic complexity score for
// the prospective user message, it produces a Budget: fractions of the window
// reserved for the system prompt, tool definitions, conversation history, the
// model's response, and a safety margin. All allocations are expressed as
// fractions so the planner behaves identically across window sizes.
package budget

import "fmt"

// Mode is the interaction mode a turn runs under. It is threaded explicitly
// through planning and assembly rather than inferred at call sites.
type Mode string

const (
	ModeChat  Mode = "chat"
	ModeTools Mode = "tools"
)

// ParseMode converts a string to a Mode, rejecting unknown values.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeChat:
		return ModeChat, nil
	case ModeTools:
		return ModeTools, nil
	default:
		return "", fmt.Errorf("unknown interaction mode %q", s)
	}
}

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModeChat || m == ModeTools
}

func (m Mode) String() string {
	return string(m)
}
