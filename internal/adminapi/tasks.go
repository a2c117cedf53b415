package adminapi

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/chronos/internal/dsa"
)

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	queue := s.queueParam(r)

	task, err := s.facade.GetTask(r.Context(), queue, id)
	if errors.Is(err, dsa.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("get task", "error", err, "task_id", id, "queue", queue)
		s.writeError(w, http.StatusInternalServerError, "failed to get task")
		return
	}

	s.writeJSON(w, http.StatusOK, task)
}

// handleCancelTask cancels a task (and, per policy, its descendants). The
// cancellation is idempotent: repeating it against a terminal task is a 204
// no-op.
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	queue := s.queueParam(r)

	err := s.facade.CancelTask(r.Context(), queue, id)
	if errors.Is(err, dsa.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.logger.Error("cancel task", "error", err, "task_id", id, "queue", queue)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel task")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
