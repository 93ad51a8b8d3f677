package stats

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var statsEpoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func TestHourlyCapSuppressesCalls(t *testing.T) {
	tr := NewTracker(Limits{HourlyCalls: 3}, nil)
	tr.SetProvider("anthropic", "claude-3-5-haiku")

	now := statsEpoch
	for i := 0; i < 3; i++ {
		require.True(t, tr.BudgetOK(now), "call %d should be allowed", i)
		tr.RecordCall(now, 0.001)
		now = now.Add(10 * time.Second)
	}
	assert.False(t, tr.BudgetOK(now), "hourly cap reached")

	// The next hour window clears the count.
	assert.True(t, tr.BudgetOK(now.Add(time.Hour)))
}

func TestDailyBudgetSuppressesCalls(t *testing.T) {
	tr := NewTracker(Limits{DailyBudgetUSD: 0.05}, nil)

	now := statsEpoch
	tr.RecordCall(now, 0.03)
	now = now.Add(10 * time.Second)
	assert.True(t, tr.BudgetOK(now))

	tr.RecordCall(now, 0.03)
	now = now.Add(10 * time.Second)
	assert.False(t, tr.BudgetOK(now), "spend exceeds the daily budget")

	// A new day resets the spend.
	assert.True(t, tr.BudgetOK(now.Add(24*time.Hour)))
}

func TestBurstSmoothing(t *testing.T) {
	tr := NewTracker(Limits{}, nil)

	// Uncapped limits still refuse a burst past the token bucket.
	now := statsEpoch
	for i := 0; i < 5; i++ {
		tr.RecordCall(now, 0)
	}
	assert.False(t, tr.BudgetOK(now))

	// One refill interval later a single call fits again.
	assert.True(t, tr.BudgetOK(now.Add(6*time.Second)))
}

func TestBudgetOKDoesNotConsume(t *testing.T) {
	tr := NewTracker(Limits{HourlyCalls: 1}, nil)
	now := statsEpoch
	for i := 0; i < 10; i++ {
		assert.True(t, tr.BudgetOK(now), "repeated checks must not charge the budget")
	}
	tr.RecordCall(now, 0)
	assert.False(t, tr.BudgetOK(now))
}

func TestSnapshot(t *testing.T) {
	tr := NewTracker(Limits{HourlyCalls: 2, DailyBudgetUSD: 5}, prometheus.NewRegistry())
	tr.SetProvider("openai", "gpt-4o-mini")

	now := statsEpoch
	tr.RecordCall(now, 0.01)
	s := tr.Snapshot(now)
	assert.Equal(t, "openai", s.Provider)
	assert.Equal(t, "gpt-4o-mini", s.Model)
	assert.Equal(t, 1, s.HourCalls)
	assert.Equal(t, 1, s.DayCalls)
	assert.InDelta(t, 0.01, s.DayCostUSD, 1e-9)
	assert.True(t, s.BudgetOK)
	assert.Empty(t, s.WindowResetAt)

	tr.RecordCall(now.Add(10*time.Second), 0.01)
	s = tr.Snapshot(now.Add(20 * time.Second))
	assert.False(t, s.BudgetOK)
	assert.NotEmpty(t, s.WindowResetAt)
}

func TestDayCallsSurviveHourRoll(t *testing.T) {
	tr := NewTracker(Limits{}, nil)
	now := statsEpoch
	tr.RecordCall(now, 0.01)
	tr.RecordCall(now.Add(90*time.Minute), 0.01)

	s := tr.Snapshot(now.Add(91 * time.Minute))
	assert.Equal(t, 1, s.HourCalls)
	assert.Equal(t, 2, s.DayCalls)
	assert.InDelta(t, 0.02, s.DayCostUSD, 1e-9)
}
