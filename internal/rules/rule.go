package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("rule_not_found")
	ErrInvalid  = errors.New("invalid_request")
)

// Priorities form a closed set, ordered for display only.
const (
	PriorityLow      = "LOW"
	PriorityMedium   = "MEDIUM"
	PriorityHigh     = "HIGH"
	PriorityCritical = "CRITICAL"
)

// Notification routes a triggered rule to a delivery channel. Channel "auto"
// picks the first configured channel; "none" means log only.
type Notification struct {
	Channel string `yaml:"channel" json:"channel"`
	Target  string `yaml:"target,omitempty" json:"target,omitempty"`
}

// WatchRule is a user-defined natural-language condition watched on one
// camera (or all cameras when CameraID is empty). The id never changes after
// creation.
type WatchRule struct {
	ID              string       `yaml:"id" json:"id"`
	Name            string       `yaml:"name" json:"name"`
	Condition       string       `yaml:"condition" json:"condition"`
	CameraID        string       `yaml:"camera_id,omitempty" json:"camera_id,omitempty"`
	Priority        string       `yaml:"priority" json:"priority"`
	Notification    Notification `yaml:"notification" json:"notification"`
	CooldownSeconds int          `yaml:"cooldown_seconds" json:"cooldown_seconds"`
	Enabled         bool         `yaml:"enabled" json:"enabled"`
	CreatedAt       time.Time    `yaml:"created_at" json:"created_at"`
	LastTriggered   *time.Time   `yaml:"last_triggered,omitempty" json:"last_triggered,omitempty"`
	TriggerCount    int          `yaml:"trigger_count" json:"trigger_count"`
	CustomMessage   string       `yaml:"custom_message,omitempty" json:"custom_message,omitempty"`
	OwnerID         string       `yaml:"owner_id,omitempty" json:"owner_id,omitempty"`
}

// Spec is the caller-supplied shape for creating a rule.
type Spec struct {
	Name            string       `json:"name"`
	Condition       string       `json:"condition"`
	CameraID        string       `json:"camera_id"`
	Priority        string       `json:"priority"`
	Notification    Notification `json:"notification"`
	CooldownSeconds int          `json:"cooldown_seconds"`
	CustomMessage   string       `json:"custom_message"`
	OwnerID         string       `json:"owner_id"`
}

func newRuleID() string {
	return "r_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func normalizePriority(p string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(p)) {
	case "", PriorityMedium:
		return PriorityMedium, nil
	case PriorityLow:
		return PriorityLow, nil
	case PriorityHigh:
		return PriorityHigh, nil
	case PriorityCritical:
		return PriorityCritical, nil
	default:
		return "", fmt.Errorf("%w: unknown priority %q", ErrInvalid, p)
	}
}

// newRule validates a spec and assigns identity.
func newRule(spec Spec, now time.Time) (*WatchRule, error) {
	if strings.TrimSpace(spec.Condition) == "" {
		return nil, fmt.Errorf("%w: condition is required", ErrInvalid)
	}
	if spec.CooldownSeconds < 0 {
		return nil, fmt.Errorf("%w: cooldown_seconds must be >= 0", ErrInvalid)
	}
	priority, err := normalizePriority(spec.Priority)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = strings.TrimSpace(spec.Condition)
		if len(name) > 48 {
			name = name[:48]
		}
	}
	notification := spec.Notification
	if notification.Channel == "" {
		notification.Channel = "auto"
	}
	return &WatchRule{
		ID:              newRuleID(),
		Name:            name,
		Condition:       strings.TrimSpace(spec.Condition),
		CameraID:        strings.TrimSpace(spec.CameraID),
		Priority:        priority,
		Notification:    notification,
		CooldownSeconds: spec.CooldownSeconds,
		Enabled:         true,
		CreatedAt:       now.UTC(),
	}, nil
}

// inCooldown reports whether the rule is still cooling down at now.
func (r *WatchRule) inCooldown(now time.Time) bool {
	if r.LastTriggered == nil || r.CooldownSeconds <= 0 {
		return false
	}
	return now.Sub(*r.LastTriggered) < time.Duration(r.CooldownSeconds)*time.Second
}

// matchesCamera reports whether the rule watches the given camera. An empty
// rule camera id matches any camera.
func (r *WatchRule) matchesCamera(cameraID string) bool {
	return r.CameraID == "" || r.CameraID == cameraID
}

func (r *WatchRule) clone() *WatchRule {
	out := *r
	if r.LastTriggered != nil {
		lt := *r.LastTriggered
		out.LastTriggered = &lt
	}
	return &out
}
