package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"physicalmcp/internal/alerts"
	"physicalmcp/internal/auth"
	"physicalmcp/internal/camera"
	"physicalmcp/internal/rules"
	"physicalmcp/internal/vlm"
)

// apiError is the wire shape of every error response.
type apiError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	CameraID string `json:"camera_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message, cameraID string) {
	writeJSON(w, status, apiError{Code: code, Message: message, CameraID: cameraID})
}

// writeDomainError maps domain sentinel errors to their stable codes.
func writeDomainError(w http.ResponseWriter, err error, cameraID string) {
	switch {
	case errors.Is(err, camera.ErrCameraNotFound):
		writeError(w, http.StatusNotFound, "camera_not_found", err.Error(), cameraID)
	case errors.Is(err, rules.ErrNotFound):
		writeError(w, http.StatusNotFound, "rule_not_found", err.Error(), "")
	case errors.Is(err, rules.ErrInvalid):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), "")
	case errors.Is(err, vlm.ErrBadJSON):
		writeError(w, http.StatusBadGateway, "provider_bad_json", err.Error(), cameraID)
	case errors.Is(err, alerts.ErrPendingNotFound):
		writeError(w, http.StatusNotFound, "invalid_request", err.Error(), "")
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid credentials", "")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), cameraID)
	}
}
