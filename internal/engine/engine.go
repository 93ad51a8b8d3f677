// Package engine runs the perception loops and ties capture, change
// detection, sampling, model calls, rules, alerts, and notifications
// together.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"physicalmcp/internal/alerts"
	"physicalmcp/internal/camera"
	"physicalmcp/internal/config"
	"physicalmcp/internal/notify"
	"physicalmcp/internal/perception"
	"physicalmcp/internal/rules"
	"physicalmcp/internal/stats"
	"physicalmcp/internal/vlm"
)

// Engine owns one perception loop per camera plus the shared services they
// report into.
type Engine struct {
	cfg        *config.Config
	Cameras    *camera.Manager
	Rules      *rules.Engine
	Alerts     *alerts.Log
	Pending    *alerts.PendingQueue
	Dispatcher *notify.Dispatcher
	Tracker    *stats.Tracker

	providerMu sync.RWMutex
	provider   vlm.Provider

	stateMu sync.RWMutex
	scenes  map[string]*perception.SceneState
	healths map[string]*cameraHealth

	loopWG sync.WaitGroup
	runCtx context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

func New(cfg *config.Config, cameras *camera.Manager, ruleEngine *rules.Engine,
	alertLog *alerts.Log, dispatcher *notify.Dispatcher, tracker *stats.Tracker,
	provider vlm.Provider, logger zerolog.Logger) *Engine {
	e := &Engine{
		cfg:        cfg,
		Cameras:    cameras,
		Rules:      ruleEngine,
		Alerts:     alertLog,
		Pending:    alerts.NewPendingQueue(),
		Dispatcher: dispatcher,
		Tracker:    tracker,
		provider:   provider,
		scenes:     make(map[string]*perception.SceneState),
		healths:    make(map[string]*cameraHealth),
		log:        logger.With().Str("component", "engine").Logger(),
	}
	if provider != nil {
		tracker.SetProvider(provider.Name(), provider.Model())
	}
	return e
}

// Start opens every enabled camera and launches its loop. Open failures do
// not abort startup; the camera is reported offline and keeps retrying.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.runCtx = ctx

	if e.Provider() == nil {
		ev := e.Alerts.Append(alerts.Event{
			EventType: alerts.EventStartupWarn,
			Message: "No vision provider configured; running in client-side fallback mode. " +
				"Rule evaluation is deferred to connected MCP clients. " +
				"Configure reasoning.provider for server-side analysis.",
		})
		e.Dispatcher.Dispatch(ev, e.cfg.Notifications.DefaultChannel, "")
	}

	go e.Rules.Watch(ctx)

	for _, cam := range e.Cameras.List() {
		if cam.Enabled {
			e.StartCamera(ctx, cam)
		}
	}
}

// StartCamera launches a perception loop for one camera. Also used after
// dynamic registration over HTTP.
func (e *Engine) StartCamera(ctx context.Context, cam *camera.Camera) {
	e.stateMu.Lock()
	if _, running := e.healths[cam.ID]; running {
		e.stateMu.Unlock()
		return
	}
	health := newCameraHealth()
	scene := perception.NewSceneState(cam.ID)
	e.healths[cam.ID] = health
	e.scenes[cam.ID] = scene
	e.stateMu.Unlock()

	e.loopWG.Add(1)
	go func() {
		defer e.loopWG.Done()
		e.runCamera(ctx, cam, scene, health)
	}()
}

// StartRuntimeCamera launches a loop for a camera registered after startup.
func (e *Engine) StartRuntimeCamera(cam *camera.Camera) {
	if e.runCtx == nil {
		return
	}
	e.StartCamera(e.runCtx, cam)
}

// Stop cancels the loops and waits for each to finish its current tick, then
// flushes shared state. Camera handles close after the loops are down.
func (e *Engine) Stop(notifyGrace time.Duration) {
	if e.cancel != nil {
		e.cancel()
	}
	e.loopWG.Wait()
	e.Cameras.CloseAll()
	e.Dispatcher.Close(notifyGrace)
	if err := e.Alerts.Close(); err != nil {
		e.log.Warn().Err(err).Msg("alert log close failed")
	}
}

// Provider returns the current model backend, nil in client-side mode.
func (e *Engine) Provider() vlm.Provider {
	e.providerMu.RLock()
	defer e.providerMu.RUnlock()
	return e.provider
}

// ReasoningMode reports "server" when a provider is configured, else
// "client".
func (e *Engine) ReasoningMode() string {
	if e.Provider() == nil {
		return "client"
	}
	return "server"
}

// ProviderSwitch is the result of a runtime provider change.
type ProviderSwitch struct {
	Provider               string `json:"provider"`
	Model                  string `json:"model"`
	ReasoningMode          string `json:"reasoning_mode"`
	FallbackWarningEmitted bool   `json:"fallback_warning_emitted"`
	FallbackWarningReason  string `json:"fallback_warning_reason"`
}

// ConfigureProvider swaps the model backend at runtime. Switching to an empty
// provider downgrades to client-side mode and emits a warning event.
func (e *Engine) ConfigureProvider(cfg vlm.Config) (*ProviderSwitch, error) {
	next, err := vlm.New(cfg)
	if err != nil {
		return nil, err
	}

	e.providerMu.Lock()
	prev := e.provider
	e.provider = next
	e.providerMu.Unlock()

	out := &ProviderSwitch{}
	if next != nil {
		out.Provider = next.Name()
		out.Model = next.Model()
		out.ReasoningMode = "server"
		e.Tracker.SetProvider(next.Name(), next.Model())
		e.log.Info().Str("provider", next.Name()).Str("model", next.Model()).Msg("provider configured")
	} else {
		out.ReasoningMode = "client"
		e.Tracker.SetProvider("", "")
		if prev != nil {
			ev := e.Alerts.Append(alerts.Event{
				EventType: alerts.EventStartupWarn,
				Message: "Vision provider removed at runtime; downgraded to client-side fallback mode. " +
					"Configure reasoning.provider to restore server-side analysis.",
			})
			e.Dispatcher.Dispatch(ev, e.cfg.Notifications.DefaultChannel, "")
			out.FallbackWarningEmitted = true
			out.FallbackWarningReason = "runtime_switch"
		}
	}
	return out, nil
}

// ReportRuleEvaluation consumes a pending evaluation produced in client-side
// mode. The external evaluator's verdicts run through the same trigger path
// as server-side ones.
func (e *Engine) ReportRuleEvaluation(eventID string, evaluations []vlm.RuleEvaluation) ([]alerts.Event, error) {
	pending, ok := e.Pending.Take(eventID)
	if !ok {
		return nil, alerts.ErrPendingNotFound
	}
	cam, err := e.Cameras.Get(pending.CameraID)
	cameraName := pending.CameraID
	if err == nil {
		cameraName = cam.Name
	}
	events := e.Rules.Evaluate(evaluations, rules.EvalContext{
		CameraID:   pending.CameraID,
		CameraName: cameraName,
		Thumbnail:  pending.Thumbnail,
		Now:        time.Now(),
	})
	for i, ev := range events {
		events[i] = e.emitRuleAlert(ev)
	}
	return events, nil
}

// emitRuleAlert appends a rule trigger to the log and routes it to the
// rule's notification channel.
func (e *Engine) emitRuleAlert(ev alerts.Event) alerts.Event {
	ev = e.Alerts.Append(ev)
	selector, target := "auto", ""
	if rule, err := e.Rules.Get(ev.RuleID); err == nil {
		selector = rule.Notification.Channel
		target = rule.Notification.Target
	}
	e.Dispatcher.Dispatch(ev, selector, target)
	return ev
}

// Scene returns a camera's scene state.
func (e *Engine) Scene(cameraID string) (*perception.SceneState, bool) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	s, ok := e.scenes[cameraID]
	return s, ok
}

// Scenes returns every camera's scene state keyed by camera id.
func (e *Engine) Scenes() map[string]*perception.SceneState {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	out := make(map[string]*perception.SceneState, len(e.scenes))
	for id, s := range e.scenes {
		out[id] = s
	}
	return out
}

// Health returns per-camera health snapshots.
func (e *Engine) Health() map[string]HealthSnapshot {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	out := make(map[string]HealthSnapshot, len(e.healths))
	for id, h := range e.healths {
		out[id] = h.snapshot()
	}
	return out
}
