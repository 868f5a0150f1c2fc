package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/playsem-core/internal/effect"
)

// ProtocolHTTP is the SourceMeta protocol for effects posted over HTTP.
const ProtocolHTTP = "http"

// handleIngestEffect accepts one canonical effect payload and returns the
// assigned id. Rejections use writeIngestError's status mapping.
func (s *Server) handleIngestEffect(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "failed to read request body")
		return
	}

	meta := effect.SourceMeta{Protocol: ProtocolHTTP, Origin: r.RemoteAddr}
	id, err := s.engine.IngestJSON(body, meta)
	s.observeIngest(ProtocolHTTP, err)
	if err != nil {
		writeIngestError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"id": id})
}

// handleGetEffect returns a recently ingested effect with its current status.
func (s *Server) handleGetEffect(w http.ResponseWriter, r *http.Request) {
	v, ok := s.engine.Effect(chi.URLParam(r, "id"))
	if !ok {
		writeNotFound(w, "effect not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}
