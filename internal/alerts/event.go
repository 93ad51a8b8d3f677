package alerts

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event types form a closed set. Matching elsewhere is case-insensitive and
// tolerates surrounding whitespace on stored values.
const (
	EventRuleTriggered = "watch_rule_triggered"
	EventProviderError = "provider_error"
	EventStartupWarn   = "startup_warning"
	EventPendingEval   = "camera_alert_pending_eval"
	EventMCPLog        = "mcp_log"
)

// Event is an immutable alert record. Timestamps are stored as strings so
// entries written by older builds or external reporters survive replay.
type Event struct {
	EventID    string  `json:"event_id"`
	EventType  string  `json:"event_type"`
	CameraID   string  `json:"camera_id,omitempty"`
	CameraName string  `json:"camera_name,omitempty"`
	RuleID     string  `json:"rule_id,omitempty"`
	RuleName   string  `json:"rule_name,omitempty"`
	Priority   string  `json:"priority,omitempty"`
	Message    string  `json:"message"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Timestamp  string  `json:"timestamp"`
	Thumbnail  string  `json:"thumbnail,omitempty"`
	Data       string  `json:"data,omitempty"`
}

// NewEventID returns a fresh event id with the evt_ prefix.
func NewEventID() string {
	return "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// CorrelationLine builds the PMCP log line shared by the alert log entry, the
// process log, and the mcp_log fanout entry.
func CorrelationLine(e Event) string {
	return fmt.Sprintf("PMCP[%s] | event_id=%s | camera_id=%s | rule_id=%s | %s",
		strings.ToUpper(strings.TrimSpace(e.EventType)), e.EventID, e.CameraID, e.RuleID, e.Message)
}

// correlated reports whether the event type participates in mcp_log fanout.
func correlated(eventType string) bool {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case EventRuleTriggered, EventProviderError, EventStartupWarn, EventPendingEval:
		return true
	}
	return false
}

// timestampLayouts covers naive, offset-aware and Z-suffixed ISO 8601 forms.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// ParseTimestamp parses a stored or cursor timestamp and normalizes it to
// UTC. Naive values are interpreted as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
