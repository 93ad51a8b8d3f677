package perception

import (
	"time"
)

// Decision is the sampler's verdict for one frame, with the reason exposed
// for observability.
type Decision struct {
	Analyze bool
	Reason  string
}

const (
	ReasonMajor             = "major"
	ReasonModerateDebounced = "moderate_debounced"
	ReasonHeartbeat         = "heartbeat"
	ReasonSkipBudget        = "skip:budget"
	ReasonSkipNoRules       = "skip:no_rules"
	ReasonSkipDebouncing    = "skip:debouncing"
	ReasonSkipCooldown      = "skip:cooldown"
	ReasonSkipQuiet         = "skip:quiet"
)

// SamplerInput carries everything the gate needs for one tick.
type SamplerInput struct {
	Change         ChangeResult
	HasActiveRules bool
	BudgetOK       bool
	Now            time.Time
}

// Sampler is the per-camera gating policy deciding which frames reach the
// VLM. It tracks the analysis cooldown, the moderate-change debounce window,
// and the heartbeat timer.
type Sampler struct {
	cooldown  time.Duration
	debounce  time.Duration
	heartbeat time.Duration // zero disables heartbeat

	lastAnalysis  time.Time
	debounceStart time.Time
}

func NewSampler(cooldown, debounce, heartbeat time.Duration) *Sampler {
	return &Sampler{
		cooldown:  cooldown,
		debounce:  debounce,
		heartbeat: heartbeat,
	}
}

// Gate evaluates the ordered gating rules; the first match wins.
func (s *Sampler) Gate(in SamplerInput) Decision {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}

	// 1. Budget or rate cap reached.
	if !in.BudgetOK {
		s.debounceStart = time.Time{}
		return Decision{Reason: ReasonSkipBudget}
	}

	// 2. Nothing to evaluate and no heartbeat to keep fresh.
	if !in.HasActiveRules && s.heartbeat == 0 {
		s.debounceStart = time.Time{}
		return Decision{Reason: ReasonSkipNoRules}
	}

	sinceLast := now.Sub(s.lastAnalysis)

	// 3. Major change, out of cooldown: analyze immediately.
	if in.Change.Level == ChangeMajor {
		s.debounceStart = time.Time{}
		if s.lastAnalysis.IsZero() || sinceLast > s.cooldown {
			return Decision{Analyze: true, Reason: ReasonMajor}
		}
		return Decision{Reason: ReasonSkipCooldown}
	}

	// 4. Moderate change: commit only after the level is sustained through
	// the debounce window.
	if in.Change.Level == ChangeModerate {
		if s.debounceStart.IsZero() {
			s.debounceStart = now
			return Decision{Reason: ReasonSkipDebouncing}
		}
		if now.Sub(s.debounceStart) >= s.debounce {
			s.debounceStart = time.Time{}
			return Decision{Analyze: true, Reason: ReasonModerateDebounced}
		}
		return Decision{Reason: ReasonSkipDebouncing}
	}

	// Change dropped below MODERATE: abandon any pending debounce.
	s.debounceStart = time.Time{}

	// 5. Heartbeat refresh on quiet scenes.
	if s.heartbeat > 0 && (s.lastAnalysis.IsZero() || sinceLast >= s.heartbeat) {
		return Decision{Analyze: true, Reason: ReasonHeartbeat}
	}

	// 6. Nothing worth spending a call on.
	return Decision{Reason: ReasonSkipQuiet}
}

// MarkAnalyzed records a completed analysis for cooldown and heartbeat
// bookkeeping.
func (s *Sampler) MarkAnalyzed(at time.Time) {
	s.lastAnalysis = at
}
