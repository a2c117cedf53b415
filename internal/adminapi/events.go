package adminapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleEmitEvent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	queue := s.queueParam(r)

	var payload json.RawMessage
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	if err := s.facade.EmitEvent(r.Context(), queue, name, payload); err != nil {
		s.logger.Error("emit event", "error", err, "event", name, "queue", queue)
		s.writeError(w, http.StatusInternalServerError, "failed to emit event")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
