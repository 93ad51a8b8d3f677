package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// handleFrame returns the latest JPEG for a camera.
func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	cam, err := s.cameraParam(r)
	if err != nil {
		writeDomainError(w, err, r.URL.Query().Get("camera"))
		return
	}
	frame := cam.Ring.Latest()
	if frame == nil {
		writeError(w, http.StatusServiceUnavailable, "camera_not_found", "no frame captured yet", cam.ID)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(frame.Data)))
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Write(frame.Data)
}

// handleStream serves MJPEG over multipart/x-mixed-replace. Each client
// follows the ring at its own pace; a client that falls behind simply gets
// the newest frame, never a backlog.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	cam, err := s.cameraParam(r)
	if err != nil {
		writeDomainError(w, err, r.URL.Query().Get("camera"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "invalid_request", "streaming unsupported", cam.ID)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	var lastSeq uint64
	for {
		select {
		case <-r.Context().Done():
			return
		default:
		}
		frame := cam.Ring.WaitForNew(lastSeq, 5*time.Second)
		if frame == nil {
			continue
		}
		lastSeq = frame.Seq

		if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame.Data)); err != nil {
			return
		}
		if _, err := w.Write(frame.Data); err != nil {
			return
		}
		if _, err := fmt.Fprint(w, "\r\n"); err != nil {
			return
		}
		flusher.Flush()
	}
}
