package rules

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"physicalmcp/internal/alerts"
	"physicalmcp/internal/vlm"
)

const (
	// DefaultConfidenceFloor is the minimum confidence for a rule to trigger.
	DefaultConfidenceFloor = 0.75

	// reloadWindow bounds how often the rules file's mtime is polled.
	reloadWindow = 5 * time.Second
)

// Engine owns the in-memory rule set, its YAML persistence, and trigger
// bookkeeping. Cooldown filtering happens in ActiveFor, before rules are ever
// sent to a model; a rule that just triggered is not re-evaluated in the same
// pass.
type Engine struct {
	mu    sync.RWMutex
	rules map[string]*WatchRule

	store     *Store
	floor     float64
	log       zerolog.Logger
	lastMod   time.Time
	lastCheck time.Time
}

func NewEngine(store *Store, confidenceFloor float64, logger zerolog.Logger) (*Engine, error) {
	if confidenceFloor <= 0 {
		confidenceFloor = DefaultConfidenceFloor
	}
	e := &Engine{
		rules: make(map[string]*WatchRule),
		store: store,
		floor: confidenceFloor,
		log:   logger,
	}
	loaded, err := store.Load()
	if err != nil {
		return nil, err
	}
	for _, r := range loaded {
		e.rules[r.ID] = r
	}
	e.lastMod = store.ModTime()
	return e, nil
}

// Create validates the spec, assigns identity, and persists.
func (e *Engine) Create(spec Spec) (*WatchRule, error) {
	rule, err := newRule(spec, time.Now())
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.rules[rule.ID] = rule
	e.mu.Unlock()
	if err := e.save(); err != nil {
		return nil, err
	}
	e.log.Info().Str("rule_id", rule.ID).Str("condition", rule.Condition).Msg("rule created")
	return rule.clone(), nil
}

// List returns all rules sorted by creation time then id.
func (e *Engine) List() []*WatchRule {
	e.mu.RLock()
	out := make([]*WatchRule, 0, len(e.rules))
	for _, r := range e.rules {
		out = append(out, r.clone())
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (e *Engine) Get(id string) (*WatchRule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return r.clone(), nil
}

func (e *Engine) Delete(id string) error {
	e.mu.Lock()
	if _, ok := e.rules[id]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(e.rules, id)
	e.mu.Unlock()
	return e.save()
}

// Toggle flips the enabled flag and returns the updated rule.
func (e *Engine) Toggle(id string) (*WatchRule, error) {
	e.mu.Lock()
	r, ok := e.rules[id]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.Enabled = !r.Enabled
	out := r.clone()
	e.mu.Unlock()
	if err := e.save(); err != nil {
		return nil, err
	}
	return out, nil
}

// ActiveFor returns enabled rules watching the camera that are out of
// cooldown at now. This is the only selection path; suppressed rules never
// reach a provider.
func (e *Engine) ActiveFor(cameraID string, now time.Time) []*WatchRule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*WatchRule
	for _, r := range e.rules {
		if !r.Enabled || !r.matchesCamera(cameraID) || r.inCooldown(now) {
			continue
		}
		out = append(out, r.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EvalContext carries frame provenance into Evaluate.
type EvalContext struct {
	CameraID   string
	CameraName string
	Thumbnail  string
	Now        time.Time
}

// Evaluate applies model verdicts: a rule triggers iff the model said
// triggered and confidence clears the floor. Each trigger stamps
// last_triggered, bumps trigger_count, and yields exactly one alert event.
func (e *Engine) Evaluate(evaluations []vlm.RuleEvaluation, ec EvalContext) []alerts.Event {
	now := ec.Now
	if now.IsZero() {
		now = time.Now()
	}
	var events []alerts.Event
	var dirty bool

	e.mu.Lock()
	for _, ev := range evaluations {
		rule, ok := e.rules[ev.RuleID]
		if !ok || !rule.Enabled {
			continue
		}
		if !ev.Triggered || ev.Confidence < e.floor {
			continue
		}
		ts := now.UTC()
		rule.LastTriggered = &ts
		rule.TriggerCount++
		dirty = true

		message := rule.CustomMessage
		if message == "" {
			message = fmt.Sprintf("Watch rule %q triggered on %s", rule.Name, ec.CameraName)
		}
		events = append(events, alerts.Event{
			EventType:  alerts.EventRuleTriggered,
			CameraID:   ec.CameraID,
			CameraName: ec.CameraName,
			RuleID:     rule.ID,
			RuleName:   rule.Name,
			Priority:   rule.Priority,
			Message:    message,
			Reasoning:  ev.Reasoning,
			Confidence: ev.Confidence,
			Thumbnail:  ec.Thumbnail,
		})
	}
	e.mu.Unlock()

	if dirty {
		if err := e.save(); err != nil {
			e.log.Warn().Err(err).Msg("failed to persist trigger state")
		}
	}
	return events
}

// UnmatchedRules returns ids of enabled rules whose camera no longer exists.
// The rules are kept; they simply never trigger.
func (e *Engine) UnmatchedRules(cameraExists func(string) bool) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []string
	for _, r := range e.rules {
		if r.Enabled && r.CameraID != "" && !cameraExists(r.CameraID) {
			out = append(out, r.ID)
		}
	}
	sort.Strings(out)
	return out
}

// HasActive reports whether any enabled rule watches the camera, ignoring
// cooldown. Used by the sampling gate's rule-presence check.
func (e *Engine) HasActive(cameraID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.rules {
		if r.Enabled && r.matchesCamera(cameraID) {
			return true
		}
	}
	return false
}

func (e *Engine) save() error {
	e.mu.RLock()
	snapshot := make([]*WatchRule, 0, len(e.rules))
	for _, r := range e.rules {
		snapshot = append(snapshot, r.clone())
	}
	e.mu.RUnlock()
	sort.Slice(snapshot, func(i, j int) bool {
		if !snapshot[i].CreatedAt.Equal(snapshot[j].CreatedAt) {
			return snapshot[i].CreatedAt.Before(snapshot[j].CreatedAt)
		}
		return snapshot[i].ID < snapshot[j].ID
	})
	if err := e.store.Save(snapshot); err != nil {
		return err
	}
	e.mu.Lock()
	e.lastMod = e.store.ModTime()
	e.mu.Unlock()
	return nil
}

// CheckReload polls the rules file's mtime, at most once per reload window,
// and swaps in an edited rule set. In-memory trigger state survives for rules
// whose id is unchanged.
func (e *Engine) CheckReload(now time.Time) {
	e.mu.Lock()
	if now.Sub(e.lastCheck) < reloadWindow {
		e.mu.Unlock()
		return
	}
	e.lastCheck = now
	lastMod := e.lastMod
	e.mu.Unlock()

	mod := e.store.ModTime()
	if mod.IsZero() || mod.Equal(lastMod) {
		return
	}
	e.reload(mod)
}

func (e *Engine) reload(mod time.Time) {
	loaded, err := e.store.Load()
	if err != nil {
		e.log.Warn().Err(err).Msg("rules file changed but failed to reload")
		return
	}
	fresh := make(map[string]*WatchRule, len(loaded))
	for _, r := range loaded {
		fresh[r.ID] = r
	}

	e.mu.Lock()
	for id, old := range e.rules {
		if nr, ok := fresh[id]; ok {
			nr.LastTriggered = old.LastTriggered
			if old.TriggerCount > nr.TriggerCount {
				nr.TriggerCount = old.TriggerCount
			}
		}
	}
	e.rules = fresh
	e.lastMod = mod
	e.mu.Unlock()
	e.log.Info().Int("rules", len(fresh)).Msg("rules reloaded from disk")
}

// Watch reacts to filesystem events on the rules file until ctx is done. The
// mtime poll in CheckReload remains the fallback for editors that rename over
// the file or filesystems without inotify.
func (e *Engine) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		e.log.Debug().Err(err).Msg("fsnotify unavailable, relying on mtime polling")
		return
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(e.store.Path())); err != nil {
		e.log.Debug().Err(err).Msg("cannot watch rules dir, relying on mtime polling")
		return
	}
	target := filepath.Clean(e.store.Path())
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			mod := e.store.ModTime()
			e.mu.RLock()
			changed := !mod.IsZero() && !mod.Equal(e.lastMod)
			e.mu.RUnlock()
			if changed {
				e.reload(mod)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			e.log.Debug().Err(err).Msg("rules watcher error")
		}
	}
}
