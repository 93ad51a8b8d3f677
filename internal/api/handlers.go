package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"physicalmcp/internal/alerts"
	"physicalmcp/internal/camera"
	"physicalmcp/internal/perception"
	"physicalmcp/internal/rules"
	"physicalmcp/internal/storage"
	"physicalmcp/internal/vlm"
)

// cameraQuery returns the camera id from the query string. Both camera_id
// and camera are accepted.
func cameraQuery(r *http.Request) string {
	if id := r.URL.Query().Get("camera_id"); id != "" {
		return id
	}
	return r.URL.Query().Get("camera")
}

// cameraParam resolves the camera query parameter, falling back to the
// default camera when absent.
func (s *Server) cameraParam(r *http.Request) (*camera.Camera, error) {
	id := cameraQuery(r)
	if id == "" {
		return s.engine.Cameras.Default()
	}
	return s.engine.Cameras.Get(id)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Tracker.Snapshot(time.Now())
	resp := map[string]any{
		"status":         "ok",
		"version":        s.version,
		"provider":       snap.Provider,
		"model":          snap.Model,
		"reasoning_mode": s.engine.ReasoningMode(),
		"cameras":        s.engine.Health(),
		"stats":          snap,
		"ws_clients":     s.hub.ClientCount(),
	}
	if unmatched := s.engine.Rules.UnmatchedRules(func(id string) bool {
		_, err := s.engine.Cameras.Get(id)
		return err == nil
	}); len(unmatched) > 0 {
		resp["unmatched_rules"] = unmatched
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	cam, err := s.cameraParam(r)
	if err != nil {
		writeDomainError(w, err, r.URL.Query().Get("camera"))
		return
	}
	scene, ok := s.engine.Scene(cam.ID)
	if !ok {
		writeError(w, http.StatusNotFound, "camera_not_found", "no perception loop for camera", cam.ID)
		return
	}
	writeJSON(w, http.StatusOK, scene.Snapshot())
}

// changeRecord is one change log entry tagged with its camera.
type changeRecord struct {
	CameraID string `json:"camera_id"`
	perception.ChangeEntry
}

// handleChanges returns recent change log entries across cameras (or one
// camera). wait=true long-polls until a new entry arrives or the client
// disconnects.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cameraID := cameraQuery(r)
	if cameraID != "" {
		if _, err := s.engine.Cameras.Get(cameraID); err != nil {
			writeDomainError(w, err, cameraID)
			return
		}
	}
	var since time.Time
	if raw := q.Get("since"); raw != "" {
		if t, ok := alerts.ParseTimestamp(raw); ok {
			since = t
		}
	}

	collect := func() []changeRecord {
		var out []changeRecord
		for id, scene := range s.engine.Scenes() {
			if cameraID != "" && id != cameraID {
				continue
			}
			for _, entry := range scene.ChangesSince(since) {
				out = append(out, changeRecord{CameraID: id, ChangeEntry: entry})
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
		return out
	}

	changes := collect()
	if len(changes) == 0 && q.Get("wait") == "true" {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.After(55 * time.Second)
	poll:
		for {
			select {
			case <-r.Context().Done():
				return
			case <-deadline:
				break poll
			case <-ticker.C:
				if changes = collect(); len(changes) > 0 {
					break poll
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}
	events := s.engine.Alerts.Query(alerts.Filter{
		Since:     q.Get("since"),
		Until:     q.Get("until"),
		CameraID:  q.Get("camera_id"),
		EventType: q.Get("event_type"),
		Limit:     limit,
	})
	writeJSON(w, http.StatusOK, map[string]any{"alerts": events, "count": len(events)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Tracker.Snapshot(time.Now()))
}

// --- rules ---

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rules": s.engine.Rules.List()})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var spec rules.Spec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", "")
		return
	}
	rule, err := s.engine.Rules.Create(spec)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Rules.Delete(chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.Rules.Toggle(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": rules.Templates()})
}

func (s *Server) handleCreateFromTemplate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CameraID string `json:"camera_id"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", "")
			return
		}
	}
	rule, err := s.engine.Rules.CreateFromTemplate(chi.URLParam(r, "id"), body.CameraID)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

// --- cameras ---

type cameraView struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Device     string `json:"device"`
	Resolution string `json:"resolution,omitempty"`
	FPS        int    `json:"fps"`
	Enabled    bool   `json:"enabled"`
}

func viewCamera(cam *camera.Camera) cameraView {
	return cameraView{
		ID:         cam.ID,
		Name:       cam.Name,
		Kind:       cam.Kind,
		Device:     camera.MaskCredentials(cam.Device),
		Resolution: cam.Resolution,
		FPS:        cam.FPS,
		Enabled:    cam.Enabled,
	}
}

func (s *Server) handleListCameras(w http.ResponseWriter, r *http.Request) {
	cams := s.engine.Cameras.List()
	views := make([]cameraView, len(cams))
	for i, cam := range cams {
		views[i] = viewCamera(cam)
	}
	writeJSON(w, http.StatusOK, map[string]any{"cameras": views})
}

func (s *Server) handleAddCamera(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Kind       string `json:"kind"`
		Device     string `json:"device"`
		Resolution string `json:"resolution"`
		FPS        int    `json:"fps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", "")
		return
	}
	if body.ID == "" || body.Device == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "id and device are required", "")
		return
	}
	cam := &camera.Camera{
		ID:         body.ID,
		Name:       body.Name,
		Kind:       body.Kind,
		Device:     body.Device,
		Resolution: body.Resolution,
		FPS:        body.FPS,
		Enabled:    true,
	}
	if err := s.engine.Cameras.Register(cam); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), body.ID)
		return
	}
	s.engine.StartRuntimeCamera(cam)
	writeJSON(w, http.StatusCreated, viewCamera(cam))
}

func (s *Server) handleRemoveCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Cameras.Remove(id); err != nil {
		writeDomainError(w, err, id)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// handleOpenCamera serves both route shapes: /cameras/{id}/open and
// /cameras/open with the camera id in the JSON body.
func (s *Server) handleOpenCamera(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		var body struct {
			CameraID string `json:"camera_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CameraID == "" {
			writeError(w, http.StatusBadRequest, "invalid_request", "camera_id is required", "")
			return
		}
		id = body.CameraID
	}
	cam, err := s.engine.Cameras.Get(id)
	if err != nil {
		writeDomainError(w, err, id)
		return
	}
	s.engine.StartRuntimeCamera(cam)
	writeJSON(w, http.StatusOK, viewCamera(cam))
}

func (s *Server) handleDiscoverCameras(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	found, err := s.engine.Cameras.Discover(ctx)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"discovered": found})
}

// --- provider and evaluations ---

func (s *Server) handleConfigureProvider(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
		Model    string `json:"model"`
		BaseURL  string `json:"base_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", "")
		return
	}
	result, err := s.engine.ConfigureProvider(vlm.Config{
		Provider: body.Provider,
		APIKey:   body.APIKey,
		Model:    body.Model,
		BaseURL:  body.BaseURL,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handlePendingEvaluations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": s.engine.Pending.List(r.URL.Query().Get("camera")),
	})
}

func (s *Server) handleReportEvaluation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		EventID     string               `json:"event_id"`
		Evaluations []vlm.RuleEvaluation `json:"evaluations"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", "")
		return
	}
	events, err := s.engine.ReportRuleEvaluation(body.EventID, body.Evaluations)
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": events})
}

func (s *Server) handleStreamToken(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CameraID string `json:"camera_id"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body", "")
			return
		}
	}
	token, expiresAt, err := s.auth.StreamTokens().Issue(body.CameraID)
	if err != nil {
		writeDomainError(w, err, body.CameraID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

// --- memory ---

func (s *Server) handleMemoryList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.MemoryList(chi.URLParam(r, "namespace"))
	if err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleMemoryGet(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.MemoryGet(chi.URLParam(r, "namespace"), chi.URLParam(r, "key"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "invalid_request", "memory key not found", "")
			return
		}
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleMemorySet(w http.ResponseWriter, r *http.Request) {
	value, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unreadable body", "")
		return
	}
	namespace, key := chi.URLParam(r, "namespace"), chi.URLParam(r, "key")
	if err := s.store.MemorySet(namespace, key, string(value)); err != nil {
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stored": true})
}

func (s *Server) handleMemoryDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.MemoryDelete(chi.URLParam(r, "namespace"), chi.URLParam(r, "key")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "invalid_request", "memory key not found", "")
			return
		}
		writeDomainError(w, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}
