// Package stats tracks vision API usage against hourly and daily budgets.
package stats

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Limits caps model spend. Zero values disable the corresponding cap.
type Limits struct {
	DailyBudgetUSD float64
	HourlyCalls    int
}

// Snapshot is the externally visible usage state.
type Snapshot struct {
	Provider      string  `json:"provider"`
	Model         string  `json:"model"`
	HourCalls     int     `json:"hour_calls"`
	DayCalls      int     `json:"day_calls"`
	DayCostUSD    float64 `json:"day_cost_usd"`
	BudgetOK      bool    `json:"budget_ok"`
	HourlyCap     int     `json:"hourly_cap"`
	DailyCapUSD   float64 `json:"daily_cap_usd"`
	WindowResetAt string  `json:"window_reset_at,omitempty"`
}

// Tracker counts calls in rolling hour and day windows. A token bucket on top
// of the windows smooths bursts so a cap is not burned in the first seconds
// of an hour.
type Tracker struct {
	mu     sync.Mutex
	limits Limits

	provider string
	model    string

	hourStart time.Time
	hourCalls int
	dayStart  time.Time
	dayCalls  int
	dayCost   float64

	burst *rate.Limiter

	callsTotal  *prometheus.CounterVec
	costTotal   prometheus.Counter
	framesTotal *prometheus.CounterVec
	alertsTotal *prometheus.CounterVec
}

func NewTracker(limits Limits, reg prometheus.Registerer) *Tracker {
	t := &Tracker{
		limits: limits,
		// 10 calls per minute sustained, bursts of 5.
		burst: rate.NewLimiter(rate.Every(6*time.Second), 5),
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "physicalmcp_vision_calls_total",
			Help: "Vision API calls made, by provider and model.",
		}, []string{"provider", "model"}),
		costTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "physicalmcp_vision_cost_usd_total",
			Help: "Estimated cumulative vision API cost in USD.",
		}),
		framesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "physicalmcp_frames_total",
			Help: "Frames processed by the perception loops, per camera.",
		}, []string{"camera_id"}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "physicalmcp_alert_events_total",
			Help: "Alert events appended, by event type.",
		}, []string{"event_type"}),
	}
	if reg != nil {
		reg.MustRegister(t.callsTotal, t.costTotal, t.framesTotal, t.alertsTotal)
	}
	return t
}

// RecordFrame counts one captured frame for a camera.
func (t *Tracker) RecordFrame(cameraID string) {
	t.framesTotal.WithLabelValues(cameraID).Inc()
}

// RecordAlert counts one appended alert event.
func (t *Tracker) RecordAlert(eventType string) {
	t.alertsTotal.WithLabelValues(eventType).Inc()
}

// SetProvider records which backend subsequent calls are billed to.
func (t *Tracker) SetProvider(provider, model string) {
	t.mu.Lock()
	t.provider, t.model = provider, model
	t.mu.Unlock()
}

func (t *Tracker) roll(now time.Time) {
	if t.hourStart.IsZero() || now.Sub(t.hourStart) >= time.Hour {
		t.hourStart = now.Truncate(time.Hour)
		t.hourCalls = 0
	}
	if t.dayStart.IsZero() || now.YearDay() != t.dayStart.YearDay() || now.Year() != t.dayStart.Year() {
		t.dayStart = now.Truncate(24 * time.Hour)
		t.dayCalls = 0
		t.dayCost = 0
	}
}

// BudgetOK reports whether another call is allowed right now. Suppressed
// calls are skipped, never queued.
func (t *Tracker) BudgetOK(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roll(now)
	if t.limits.HourlyCalls > 0 && t.hourCalls >= t.limits.HourlyCalls {
		return false
	}
	if t.limits.DailyBudgetUSD > 0 && t.dayCost >= t.limits.DailyBudgetUSD {
		return false
	}
	return t.burst.TokensAt(now) >= 1
}

// RecordCall charges one call against the windows.
func (t *Tracker) RecordCall(now time.Time, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roll(now)
	t.hourCalls++
	t.dayCalls++
	t.dayCost += costUSD
	t.burst.AllowN(now, 1)
	t.callsTotal.WithLabelValues(t.provider, t.model).Inc()
	t.costTotal.Add(costUSD)
}

func (t *Tracker) Snapshot(now time.Time) Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roll(now)
	budgetOK := true
	if t.limits.HourlyCalls > 0 && t.hourCalls >= t.limits.HourlyCalls {
		budgetOK = false
	}
	if t.limits.DailyBudgetUSD > 0 && t.dayCost >= t.limits.DailyBudgetUSD {
		budgetOK = false
	}
	s := Snapshot{
		Provider:    t.provider,
		Model:       t.model,
		HourCalls:   t.hourCalls,
		DayCalls:    t.dayCalls,
		DayCostUSD:  t.dayCost,
		BudgetOK:    budgetOK,
		HourlyCap:   t.limits.HourlyCalls,
		DailyCapUSD: t.limits.DailyBudgetUSD,
	}
	if !budgetOK {
		s.WindowResetAt = t.hourStart.Add(time.Hour).UTC().Format(time.RFC3339)
	}
	return s
}
