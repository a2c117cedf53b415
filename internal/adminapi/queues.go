package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/chronos/internal/dsa"
)

// createQueueRequest is the JSON body for POST /v1/queues.
type createQueueRequest struct {
	Name string `json:"name"`
}

// listQueuesResponse wraps the queue-name list.
type listQueuesResponse struct {
	Queues []string `json:"queues"`
}

func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	queues, err := s.facade.ListQueues(r.Context())
	if err != nil {
		s.logger.Error("list queues", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list queues")
		return
	}
	if queues == nil {
		queues = []string{}
	}
	s.writeJSON(w, http.StatusOK, listQueuesResponse{Queues: queues})
}

func (s *Server) handleCreateQueue(w http.ResponseWriter, r *http.Request) {
	var req createQueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := s.facade.CreateQueue(r.Context(), req.Name); err != nil {
		if errors.Is(err, dsa.ErrQueueExists) {
			s.writeError(w, http.StatusConflict, "queue already exists")
			return
		}
		if errors.Is(err, dsa.ErrInvalidQueueName) {
			s.writeError(w, http.StatusBadRequest, "invalid queue name")
			return
		}
		s.logger.Error("create queue", "error", err, "name", req.Name)
		s.writeError(w, http.StatusInternalServerError, "failed to create queue")
		return
	}

	s.writeJSON(w, http.StatusCreated, createQueueRequest{Name: req.Name})
}

func (s *Server) handleDropQueue(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.facade.DropQueue(r.Context(), name); err != nil {
		s.logger.Error("drop queue", "error", err, "name", name)
		s.writeError(w, http.StatusInternalServerError, "failed to drop queue")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
