package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanInvalidWindow(t *testing.T) {
	planner := NewPlanner()

	for _, window := range []int{0, -1, -32768} {
		_, err := planner.Plan(window, ModeChat, 0.5)
		require.Error(t, err, "window %d", window)
		assert.ErrorIs(t, err, ErrInvalidWindow)
	}
}

func TestPlanSumsToOne(t *testing.T) {
	planner := NewPlanner()

	windows := []int{1, 2048, 4096, 32768, 128000, 1000000}
	complexities := []float64{0.0, 0.1, 0.25, 0.5, 0.75, 0.9, 1.0}

	for _, mode := range []Mode{ModeChat, ModeTools} {
		for _, w := range windows {
			for _, c := range complexities {
				b, err := planner.Plan(w, mode, c)
				require.NoError(t, err)
				assert.InDelta(t, 1.0, b.Sum(), SumTolerance,
					"mode=%s window=%d complexity=%v", mode, w, c)
			}
		}
	}
}

func TestPlanScaleInvariance(t *testing.T) {
	planner := NewPlanner()

	for _, mode := range []Mode{ModeChat, ModeTools} {
		for _, c := range []float64{0.0, 0.3, 0.7, 1.0} {
			small, err := planner.Plan(8192, mode, c)
			require.NoError(t, err)
			large, err := planner.Plan(16384, mode, c)
			require.NoError(t, err)

			assert.Equal(t, small, large, "mode=%s complexity=%v", mode, c)
		}
	}
}

func TestPlanResponseMonotonicInComplexity(t *testing.T) {
	planner := NewPlanner()

	for _, mode := range []Mode{ModeChat, ModeTools} {
		prev := -1.0
		for c := 0.0; c <= 1.0; c += 0.05 {
			b, err := planner.Plan(32768, mode, c)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, b.ResponsePct, prev,
				"response shrank at complexity %v for mode %s", c, mode)
			prev = b.ResponsePct
		}
	}
}

func TestPlanChatAnchors(t *testing.T) {
	planner := NewPlanner()

	// Simple chat query: response near its minimum, history near its base.
	b, err := planner.Plan(32768, ModeChat, 0.1)
	require.NoError(t, err)
	assert.InDelta(t, 0.17, b.ResponsePct, 0.001)
	assert.InDelta(t, 0.77, b.HistoryPct, 0.001)
	assert.InDelta(t, 0.05, b.SafetyPct, 0.001)
}

func TestPlanToolsComplexAnchors(t *testing.T) {
	planner := NewPlanner()

	simple, err := planner.Plan(32768, ModeTools, 0.1)
	require.NoError(t, err)
	complex, err := planner.Plan(32768, ModeTools, 0.9)
	require.NoError(t, err)

	// Response approaches its configured maximum and history shrinks to pay
	// for it; the fixed allocations do not move.
	assert.InDelta(t, 0.33, complex.ResponsePct, 0.001)
	assert.Less(t, complex.HistoryPct, simple.HistoryPct)
	assert.Equal(t, simple.SystemPct, complex.SystemPct)
	assert.Equal(t, simple.ToolsPct, complex.ToolsPct)
}

func TestPlanSafetyFloorNeverInvaded(t *testing.T) {
	planner := NewPlanner()

	for _, mode := range []Mode{ModeChat, ModeTools} {
		for c := 0.0; c <= 1.0; c += 0.1 {
			b, err := planner.Plan(4096, mode, c)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, b.SafetyPct, DefaultProfile(mode).SafetyFloor-1e-9)
			assert.GreaterOrEqual(t, b.HistoryPct, DefaultProfile(mode).HistoryMin-1e-9)
		}
	}
}

func TestPlanExtraResponseComesFromSlackFirst(t *testing.T) {
	planner := NewPlanner()

	base, err := planner.Plan(32768, ModeChat, 0.0)
	require.NoError(t, err)
	slight, err := planner.Plan(32768, ModeChat, 0.1)
	require.NoError(t, err)

	// +0.02 of response fits entirely in the profile slack, so history is
	// untouched and the surplus safety margin shrinks instead.
	assert.Equal(t, base.HistoryPct, slight.HistoryPct)
	assert.Greater(t, base.SafetyPct, slight.SafetyPct)
}

func TestPlanOutOfRangeComplexityClamped(t *testing.T) {
	planner := NewPlanner()

	low, err := planner.Plan(32768, ModeChat, -3)
	require.NoError(t, err)
	zero, err := planner.Plan(32768, ModeChat, 0)
	require.NoError(t, err)
	assert.Equal(t, zero, low)

	high, err := planner.Plan(32768, ModeChat, 42)
	require.NoError(t, err)
	one, err := planner.Plan(32768, ModeChat, 1)
	require.NoError(t, err)
	assert.Equal(t, one, high)
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Profile)
		wantErr bool
	}{
		{name: "default chat valid", mutate: func(*Profile) {}},
		{name: "negative fraction", mutate: func(p *Profile) { p.SystemPct = -0.1 }, wantErr: true},
		{name: "fraction above one", mutate: func(p *Profile) { p.HistoryBase = 1.5 }, wantErr: true},
		{name: "response range inverted", mutate: func(p *Profile) { p.ResponseMax = 0.05 }, wantErr: true},
		{name: "history floor above base", mutate: func(p *Profile) { p.HistoryMin = 0.9 }, wantErr: true},
		{name: "overcommitted window", mutate: func(p *Profile) { p.HistoryBase = 0.95 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultProfile(ModeChat)
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewPlannerWithProfilesIgnoresInvalid(t *testing.T) {
	bad := DefaultProfile(ModeChat)
	bad.HistoryBase = 2.0

	planner := NewPlannerWithProfiles(map[Mode]Profile{ModeChat: bad})
	b, err := planner.Plan(32768, ModeChat, 0.0)
	require.NoError(t, err)
	assert.InDelta(t, DefaultProfile(ModeChat).HistoryBase, b.HistoryPct, 0.001)
}

func TestBudgetTokenConversion(t *testing.T) {
	b := Budget{HistoryPct: 0.5, ResponsePct: 0.25}
	assert.Equal(t, 16384, b.HistoryTokens(32768))
	assert.Equal(t, 8192, b.ResponseTokens(32768))
	assert.Equal(t, 4096, b.ExchangeCapTokens(32768))
}
