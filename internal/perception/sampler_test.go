package perception

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var samplerEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestSampler() *Sampler {
	return NewSampler(10*time.Second, 3*time.Second, 120*time.Second)
}

func changeAt(level ChangeLevel) ChangeResult {
	return ChangeResult{Level: level, Distance: 30}
}

func TestGateBudgetCapWinsFirst(t *testing.T) {
	s := newTestSampler()
	d := s.Gate(SamplerInput{
		Change:         changeAt(ChangeMajor),
		HasActiveRules: true,
		BudgetOK:       false,
		Now:            samplerEpoch,
	})
	assert.False(t, d.Analyze)
	assert.Equal(t, ReasonSkipBudget, d.Reason)
}

func TestGateNoRulesNoHeartbeat(t *testing.T) {
	s := NewSampler(10*time.Second, 3*time.Second, 0)
	d := s.Gate(SamplerInput{
		Change:   changeAt(ChangeMajor),
		BudgetOK: true,
		Now:      samplerEpoch,
	})
	assert.False(t, d.Analyze)
	assert.Equal(t, ReasonSkipNoRules, d.Reason)
}

func TestGateMajorAnalyzesImmediately(t *testing.T) {
	s := newTestSampler()
	d := s.Gate(SamplerInput{
		Change:         changeAt(ChangeMajor),
		HasActiveRules: true,
		BudgetOK:       true,
		Now:            samplerEpoch,
	})
	assert.True(t, d.Analyze)
	assert.Equal(t, ReasonMajor, d.Reason)
}

func TestGateMajorRespectsAnalysisCooldown(t *testing.T) {
	s := newTestSampler()
	s.MarkAnalyzed(samplerEpoch)

	in := SamplerInput{
		Change:         changeAt(ChangeMajor),
		HasActiveRules: true,
		BudgetOK:       true,
		Now:            samplerEpoch.Add(5 * time.Second),
	}
	d := s.Gate(in)
	assert.False(t, d.Analyze)
	assert.Equal(t, ReasonSkipCooldown, d.Reason)

	in.Now = samplerEpoch.Add(11 * time.Second)
	d = s.Gate(in)
	assert.True(t, d.Analyze)
	assert.Equal(t, ReasonMajor, d.Reason)
}

func TestGateModerateDebounces(t *testing.T) {
	s := newTestSampler()
	in := SamplerInput{
		Change:         changeAt(ChangeModerate),
		HasActiveRules: true,
		BudgetOK:       true,
		Now:            samplerEpoch,
	}

	// First sighting starts the debounce window.
	d := s.Gate(in)
	assert.False(t, d.Analyze)
	assert.Equal(t, ReasonSkipDebouncing, d.Reason)

	// Still inside the window.
	in.Now = samplerEpoch.Add(time.Second)
	d = s.Gate(in)
	assert.False(t, d.Analyze)

	// Sustained through the window: analyze.
	in.Now = samplerEpoch.Add(3 * time.Second)
	d = s.Gate(in)
	assert.True(t, d.Analyze)
	assert.Equal(t, ReasonModerateDebounced, d.Reason)
}

func TestGateDebounceAbandonedWhenChangeSubsides(t *testing.T) {
	s := newTestSampler()
	in := SamplerInput{
		Change:         changeAt(ChangeModerate),
		HasActiveRules: true,
		BudgetOK:       true,
		Now:            samplerEpoch,
	}
	s.Gate(in)

	// Level drops before the window elapses: debounce resets.
	in.Change = changeAt(ChangeMinor)
	in.Now = samplerEpoch.Add(time.Second)
	s.MarkAnalyzed(samplerEpoch) // keep heartbeat quiet
	d := s.Gate(in)
	assert.False(t, d.Analyze)
	assert.Equal(t, ReasonSkipQuiet, d.Reason)

	// A fresh MODERATE starts a new window rather than resuming the old one.
	in.Change = changeAt(ChangeModerate)
	in.Now = samplerEpoch.Add(2 * time.Second)
	d = s.Gate(in)
	assert.Equal(t, ReasonSkipDebouncing, d.Reason)
}

func TestGateHeartbeat(t *testing.T) {
	s := newTestSampler()
	s.MarkAnalyzed(samplerEpoch)

	in := SamplerInput{
		Change:         changeAt(ChangeNone),
		HasActiveRules: true,
		BudgetOK:       true,
		Now:            samplerEpoch.Add(119 * time.Second),
	}
	d := s.Gate(in)
	assert.False(t, d.Analyze)
	assert.Equal(t, ReasonSkipQuiet, d.Reason)

	in.Now = samplerEpoch.Add(120 * time.Second)
	d = s.Gate(in)
	assert.True(t, d.Analyze)
	assert.Equal(t, ReasonHeartbeat, d.Reason)
}

func TestGateHeartbeatDisabled(t *testing.T) {
	s := NewSampler(10*time.Second, 3*time.Second, 0)
	s.MarkAnalyzed(samplerEpoch)
	d := s.Gate(SamplerInput{
		Change:         changeAt(ChangeNone),
		HasActiveRules: true,
		BudgetOK:       true,
		Now:            samplerEpoch.Add(time.Hour),
	})
	assert.False(t, d.Analyze)
	assert.Equal(t, ReasonSkipQuiet, d.Reason)
}
