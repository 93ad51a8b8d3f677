package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"physicalmcp/internal/alerts"
	"physicalmcp/internal/camera"
	"physicalmcp/internal/perception"
	"physicalmcp/internal/rules"
	"physicalmcp/internal/vlm"
)

// tickPeriod returns the loop's base period: the frame interval for cameras
// faster than 1 FPS, otherwise one second so health and rule reload stay
// responsive.
func tickPeriod(fps int) time.Duration {
	if fps > 1 {
		return time.Second / time.Duration(fps)
	}
	return time.Second
}

// runCamera is one perception loop: capture, detect change against the last
// analyzed frame, pick cooldown-filtered rules, gate, then either analyze
// server-side, defer to a client, or skip.
func (e *Engine) runCamera(ctx context.Context, cam *camera.Camera, scene *perception.SceneState, health *cameraHealth) {
	log := e.log.With().Str("camera_id", cam.ID).Logger()

	if err := cam.Source.Open(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Msg("camera failed to open, loop will keep retrying")
		health.markFrameError(offlineReopenLimit)
	}

	detector := perception.NewChangeDetector(perception.Thresholds{
		Minor:    e.cfg.Perception.MinorThreshold,
		Moderate: e.cfg.Perception.ModerateThreshold,
		Major:    e.cfg.Perception.MajorThreshold,
	})
	sampler := perception.NewSampler(e.cfg.Perception.Cooldown(), e.cfg.Perception.Debounce(), e.cfg.Perception.Heartbeat())

	ticker := time.NewTicker(tickPeriod(cam.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		e.tick(ctx, cam, scene, health, detector, sampler, log)
	}
}

func (e *Engine) tick(ctx context.Context, cam *camera.Camera, scene *perception.SceneState,
	health *cameraHealth, detector *perception.ChangeDetector, sampler *perception.Sampler, log zerolog.Logger) {

	now := time.Now()
	e.Rules.CheckReload(now)

	frame, err := cam.Source.GrabFrame()
	if err != nil {
		health.markFrameError(cam.Source.Reopens())
		if !errors.Is(err, camera.ErrNotAvailable) {
			log.Debug().Err(err).Msg("no usable frame this tick")
		}
		return
	}
	health.markFrame(frame.Timestamp)
	e.Tracker.RecordFrame(cam.ID)

	change, err := detector.Detect(frame.Data)
	if err != nil {
		log.Debug().Err(err).Msg("frame not decodable, skipping tick")
		return
	}

	provider := e.Provider()
	budgetOK := provider == nil || e.Tracker.BudgetOK(now)
	decision := sampler.Gate(perception.SamplerInput{
		Change:         change,
		HasActiveRules: e.Rules.HasActive(cam.ID),
		BudgetOK:       budgetOK,
		Now:            now,
	})
	if !decision.Analyze {
		health.markSeen(now)
		return
	}
	if provider != nil && health.inBackoff(now) {
		health.markSeen(now)
		return
	}

	log.Debug().Str("reason", decision.Reason).Str("level", string(change.Level)).Int("distance", change.Distance).Msg("analyzing frame")

	active := e.Rules.ActiveFor(cam.ID, now)

	thumb := ""
	if data, err := perception.Thumbnail(frame.Data); err == nil {
		thumb = base64.StdEncoding.EncodeToString(data)
	}

	if provider == nil {
		e.deferToClient(cam, active, thumb)
		detector.Commit(frame.Data)
		sampler.MarkAnalyzed(now)
		health.markSuccess(now)
		return
	}

	if e.analyzeServerSide(ctx, cam, provider, scene, health, active, frame.Data, thumb, change, log) {
		detector.Commit(frame.Data)
		sampler.MarkAnalyzed(now)
	}
}

// deferToClient queues the frame for an external evaluator and records the
// pending event; both carry the same event id.
func (e *Engine) deferToClient(cam *camera.Camera, active []*rules.WatchRule, thumb string) {
	if len(active) == 0 {
		return
	}
	pendingRules := make([]alerts.PendingRule, len(active))
	for i, r := range active {
		pendingRules[i] = alerts.PendingRule{
			RuleID:    r.ID,
			Name:      r.Name,
			Condition: r.Condition,
			Priority:  r.Priority,
		}
	}
	ev := e.Alerts.Append(alerts.Event{
		EventType:  alerts.EventPendingEval,
		CameraID:   cam.ID,
		CameraName: cam.Name,
		Message:    "Frame awaiting client-side rule evaluation",
		Thumbnail:  thumb,
	})
	e.Pending.Enqueue(alerts.Pending{
		EventID:   ev.EventID,
		CameraID:  cam.ID,
		Thumbnail: thumb,
		Rules:     pendingRules,
		CreatedAt: time.Now(),
	})
}

// analyzeServerSide calls the provider and feeds the results through scene
// state and the rules engine. Returns true when the frame counts as
// analyzed.
func (e *Engine) analyzeServerSide(ctx context.Context, cam *camera.Camera, provider vlm.Provider,
	scene *perception.SceneState, health *cameraHealth, active []*rules.WatchRule,
	frameData []byte, thumb string, change perception.ChangeResult, log zerolog.Logger) bool {

	now := time.Now()
	analysis, err := provider.AnalyzeScene(ctx, frameData, scene.ContextString())
	if err != nil {
		e.handleProviderError(cam, health, err, log)
		return false
	}
	e.Tracker.RecordCall(now, vlm.CostPerCall(provider.Name()))
	scene.Apply(perception.SceneUpdate{
		Summary:     analysis.Summary,
		Objects:     analysis.Objects,
		PeopleCount: analysis.PeopleCount,
		Changes:     analysis.Changes,
	}, change.Description, now)

	if len(active) > 0 {
		specs := make([]vlm.RuleSpec, len(active))
		for i, r := range active {
			specs[i] = vlm.RuleSpec{ID: r.ID, Condition: r.Condition}
		}
		evaluations, err := provider.EvaluateRules(ctx, frameData, specs, scene.ContextString())
		if err != nil {
			e.handleProviderError(cam, health, err, log)
			return false
		}
		e.Tracker.RecordCall(time.Now(), vlm.CostPerCall(provider.Name()))
		for _, ev := range e.Rules.Evaluate(evaluations, rules.EvalContext{
			CameraID:   cam.ID,
			CameraName: cam.Name,
			Thumbnail:  thumb,
			Now:        time.Now(),
		}) {
			e.emitRuleAlert(ev)
		}
	}

	health.markSuccess(time.Now())
	return true
}

func (e *Engine) handleProviderError(cam *camera.Camera, health *cameraHealth, err error, log zerolog.Logger) {
	until := health.markProviderError(time.Now())
	ev := e.Alerts.Append(alerts.Event{
		EventType:  alerts.EventProviderError,
		CameraID:   cam.ID,
		CameraName: cam.Name,
		Message:    "Vision provider call failed: " + err.Error(),
	})
	e.Dispatcher.Dispatch(ev, e.cfg.Notifications.DefaultChannel, "")
	log.Warn().Err(err).Time("backoff_until", until).Str("event_id", ev.EventID).Msg("provider error, backing off")
}
