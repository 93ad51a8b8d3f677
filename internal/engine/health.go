package engine

import (
	"sync"
	"time"
)

// Camera loop status values exposed via /health.
const (
	StatusRunning  = "running"
	StatusDegraded = "degraded"
	StatusBackoff  = "backoff"
	StatusOffline  = "offline"
)

const (
	providerBackoffStart = 5 * time.Second
	providerBackoffMax   = 300 * time.Second

	// offlineReopenLimit is how many source reopens in a row mark a camera
	// offline.
	offlineReopenLimit = 10
)

// cameraHealth tracks one perception loop's error state. A single error
// degrades the camera; repeated provider errors push it into backoff with
// doubling waits; any success returns it to running.
type cameraHealth struct {
	mu                sync.Mutex
	status            string
	consecutiveErrors int
	backoffUntil      time.Time
	backoffDelay      time.Duration
	lastSuccessAt     time.Time
	lastFrameAt       time.Time
	lastSeenAt        time.Time
}

// HealthSnapshot is the wire shape of one camera's health.
type HealthSnapshot struct {
	Status            string     `json:"status"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	BackoffUntil      *time.Time `json:"backoff_until,omitempty"`
	LastSuccessAt     *time.Time `json:"last_success_at,omitempty"`
	LastFrameAt       *time.Time `json:"last_frame_at,omitempty"`
}

func newCameraHealth() *cameraHealth {
	return &cameraHealth{status: StatusRunning}
}

func (h *cameraHealth) markFrame(at time.Time) {
	h.mu.Lock()
	h.lastFrameAt = at
	h.mu.Unlock()
}

func (h *cameraHealth) markSeen(at time.Time) {
	h.mu.Lock()
	h.lastSeenAt = at
	h.mu.Unlock()
}

// markFrameError records a capture failure. Offline is terminal until the
// source produces a frame again.
func (h *cameraHealth) markFrameError(reopens uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveErrors++
	if reopens >= offlineReopenLimit {
		h.status = StatusOffline
		return
	}
	if h.status == StatusRunning {
		h.status = StatusDegraded
	}
}

// markProviderError enters or extends backoff: 5s doubling to 300s.
func (h *cameraHealth) markProviderError(now time.Time) time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveErrors++
	if h.backoffDelay == 0 {
		h.backoffDelay = providerBackoffStart
	} else {
		h.backoffDelay *= 2
		if h.backoffDelay > providerBackoffMax {
			h.backoffDelay = providerBackoffMax
		}
	}
	h.backoffUntil = now.Add(h.backoffDelay)
	h.status = StatusBackoff
	return h.backoffUntil
}

func (h *cameraHealth) markSuccess(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.consecutiveErrors = 0
	h.backoffDelay = 0
	h.backoffUntil = time.Time{}
	h.lastSuccessAt = now
	h.status = StatusRunning
}

func (h *cameraHealth) inBackoff(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return now.Before(h.backoffUntil)
}

func (h *cameraHealth) snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := HealthSnapshot{
		Status:            h.status,
		ConsecutiveErrors: h.consecutiveErrors,
	}
	if !h.backoffUntil.IsZero() {
		t := h.backoffUntil
		s.BackoffUntil = &t
	}
	if !h.lastSuccessAt.IsZero() {
		t := h.lastSuccessAt
		s.LastSuccessAt = &t
	}
	if !h.lastFrameAt.IsZero() {
		t := h.lastFrameAt
		s.LastFrameAt = &t
	}
	return s
}
