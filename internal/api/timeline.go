package api

import (
	"encoding/json"
	"net/http"

	"github.com/nerrad567/playsem-core/internal/ingress"
)

// handleSnapshot returns the timeline state, playhead and queue sizes.
func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// handleTimelineAction wraps a no-argument control call.
func (s *Server) handleTimelineAction(action func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if err := action(); err != nil {
			writeTimelineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.engine.Snapshot())
	}
}

// handleSeek moves the playhead. Body: {"offsetMs": 1500}.
func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var cmd ingress.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	cmd.Action = ingress.ActionSeek

	if err := ingress.Apply(s.engine, cmd); err != nil {
		writeTimelineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// handleCancelPending drops every queued and pending effect.
func (s *Server) handleCancelPending(w http.ResponseWriter, _ *http.Request) {
	n := s.engine.CancelPending()
	s.logger.Info("pending effects cancelled", "count", n)
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": n})
}
