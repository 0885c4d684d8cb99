package budget

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidWindow is returned when planning is asked for a non-positive
// context window. The turn must be aborted before any inference call.
var ErrInvalidWindow = errors.New("context window must be positive")

// Budget is the per-turn partition of a context window, every field a
// fraction of the window. Fields sum to 1.0 within SumTolerance. A Budget is
// ephemeral: computed fresh each turn, never persisted.
type Budget struct {
	SystemPct   float64
	ToolsPct    float64
	HistoryPct  float64
	ResponsePct float64
	SafetyPct   float64
}

// SumTolerance is the allowed deviation of the fraction sum from 1.0.
const SumTolerance = 0.01

// MaxExchangeShare caps a single exchange at this fraction of the history
// allocation; larger exchanges are skipped whole during assembly.
const MaxExchangeShare = 0.25

// Sum returns the total of all allocations.
func (b Budget) Sum() float64 {
	return b.SystemPct + b.ToolsPct + b.HistoryPct + b.ResponsePct + b.SafetyPct
}

// HistoryTokens converts the history allocation to tokens for a window.
func (b Budget) HistoryTokens(contextWindow int) int {
	return int(float64(contextWindow) * b.HistoryPct)
}

// ResponseTokens converts the response allocation to tokens for a window.
func (b Budget) ResponseTokens(contextWindow int) int {
	return int(float64(contextWindow) * b.ResponsePct)
}

// ExchangeCapTokens is the per-exchange token cap for a window: exchanges
// larger than this are excluded from assembly rather than split.
func (b Budget) ExchangeCapTokens(contextWindow int) int {
	return int(float64(contextWindow) * b.HistoryPct * MaxExchangeShare)
}

// Profile holds the fixed, mode-specific allocation parameters. All values
// are fractions of the context window.
type Profile struct {
	SystemPct   float64 `json:"system_pct" yaml:"system_pct"`
	ToolsPct    float64 `json:"tools_pct" yaml:"tools_pct"`
	HistoryBase float64 `json:"history_base" yaml:"history_base"`
	ResponseMin float64 `json:"response_min" yaml:"response_min"`
	ResponseMax float64 `json:"response_max" yaml:"response_max"`
	SafetyFloor float64 `json:"safety_floor" yaml:"safety_floor"`
	HistoryMin  float64 `json:"history_min" yaml:"history_min"`
}

// Default profiles. Slack (what the fixed parts leave of the window at
// minimum response) absorbs extra response space before history does.
//
//nolint:gochecknoglobals // static defaults, copied on use
var defaultProfiles = map[Mode]Profile{
	ModeChat: {
		SystemPct:   0.01,
		ToolsPct:    0.00,
		HistoryBase: 0.77,
		ResponseMin: 0.15,
		ResponseMax: 0.35,
		SafetyFloor: 0.05,
		HistoryMin:  0.20,
	},
	ModeTools: {
		SystemPct:   0.02,
		ToolsPct:    0.06,
		HistoryBase: 0.70,
		ResponseMin: 0.15,
		ResponseMax: 0.35,
		SafetyFloor: 0.05,
		HistoryMin:  0.20,
	},
}

// DefaultProfile returns the built-in profile for a mode.
func DefaultProfile(mode Mode) Profile {
	return defaultProfiles[mode]
}

// slack is the window fraction left over at minimum response allocation.
// It must be non-negative for the profile to be plannable.
func (p Profile) slack() float64 {
	return 1.0 - p.SystemPct - p.ToolsPct - p.HistoryBase - p.ResponseMin - p.SafetyFloor
}

// Validate checks the profile is internally consistent: fractions in range,
// response range ordered, and the fixed parts fit inside the window.
func (p Profile) Validate() error {
	fields := map[string]float64{
		"system_pct":   p.SystemPct,
		"tools_pct":    p.ToolsPct,
		"history_base": p.HistoryBase,
		"response_min": p.ResponseMin,
		"response_max": p.ResponseMax,
		"safety_floor": p.SafetyFloor,
		"history_min":  p.HistoryMin,
	}
	for name, v := range fields {
		if v < 0 || v > 1 {
			return fmt.Errorf("profile %s out of range: %v", name, v)
		}
	}
	if p.ResponseMax < p.ResponseMin {
		return fmt.Errorf("profile response_max %v below response_min %v", p.ResponseMax, p.ResponseMin)
	}
	if p.HistoryMin > p.HistoryBase {
		return fmt.Errorf("profile history_min %v above history_base %v", p.HistoryMin, p.HistoryBase)
	}
	if p.slack() < -SumTolerance {
		return fmt.Errorf("profile allocations exceed window: sum %v at minimum response", 1.0-p.slack())
	}
	return nil
}

// Planner computes budgets from per-mode profiles.
type Planner struct {
	profiles map[Mode]Profile
}

// NewPlanner returns a planner with the built-in profiles.
func NewPlanner() *Planner {
	return NewPlannerWithProfiles(nil)
}

// NewPlannerWithProfiles returns a planner using the given overrides where
// present (invalid overrides are ignored in favor of the defaults elsewhere;
// validate before passing if rejection is wanted).
func NewPlannerWithProfiles(overrides map[Mode]Profile) *Planner {
	profiles := make(map[Mode]Profile, len(defaultProfiles))
	for mode, p := range defaultProfiles {
		profiles[mode] = p
	}
	for mode, p := range overrides {
		if mode.Valid() && p.Validate() == nil {
			profiles[mode] = p
		}
	}
	return &Planner{profiles: profiles}
}

// Plan partitions a context window for one turn.
//
// The response allocation interpolates linearly between the mode's minimum
// and maximum with complexity. The space it needs beyond the minimum comes
// first from the profile's slack, then from history; history never drops
// below its floor and the safety floor is never invaded. Whatever slack
// survives is reported inside SafetyPct so the partition sums to 1.0.
func (pl *Planner) Plan(contextWindow int, mode Mode, complexity float64) (Budget, error) {
	if contextWindow <= 0 {
		return Budget{}, fmt.Errorf("%w: got %d", ErrInvalidWindow, contextWindow)
	}
	if !mode.Valid() {
		mode = ModeChat
	}
	complexity = clamp01(complexity)

	p := pl.profiles[mode]
	slack := math.Max(0, p.slack())

	response := p.ResponseMin + complexity*(p.ResponseMax-p.ResponseMin)
	extra := response - p.ResponseMin

	fromSlack := math.Min(extra, slack)
	fromHistory := extra - fromSlack

	history := p.HistoryBase - fromHistory
	if history < p.HistoryMin {
		// History floor holds: give the shortfall back to the response side.
		response -= p.HistoryMin - history
		history = p.HistoryMin
	}

	return Budget{
		SystemPct:   p.SystemPct,
		ToolsPct:    p.ToolsPct,
		HistoryPct:  history,
		ResponsePct: response,
		SafetyPct:   p.SafetyFloor + (slack - fromSlack),
	}, nil
}
