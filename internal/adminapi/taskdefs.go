package adminapi

import "net/http"

// taskDefResponse is the JSON-safe projection of a registry.TaskDef; the
// handler function itself is not serializable and is omitted.
type taskDefResponse struct {
	Name               string `json:"name"`
	DefaultMaxAttempts int    `json:"default_max_attempts"`
	BoundQueue         string `json:"bound_queue,omitempty"`
}

func (s *Server) handleListTaskDefs(w http.ResponseWriter, r *http.Request) {
	defs := s.facade.Registry().List()
	out := make([]taskDefResponse, len(defs))
	for i, d := range defs {
		out[i] = taskDefResponse{
			Name:               d.Name,
			DefaultMaxAttempts: d.DefaultMaxAttempts,
			BoundQueue:         d.BoundQueue,
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}
