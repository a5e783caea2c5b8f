package api

import (
	"net/http"
	"strings"
)

// handleServiceStatus answers GET /status?service=a&service=b. Without a
// service parameter every tracked service is returned; unknown services map
// to null.
func (s *Server) handleServiceStatus(w http.ResponseWriter, r *http.Request) {
	var names []string
	if values, ok := r.URL.Query()["service"]; ok {
		names = make([]string, 0, len(values))
		for _, v := range values {
			name := strings.TrimSpace(v)
			if name == "" {
				s.respondError(w, http.StatusBadRequest, "service name cannot be empty")
				return
			}
			names = append(names, name)
		}
	}

	s.respondJSON(w, http.StatusOK, s.src.GetServiceStatus(names))
}

// handleWorkStatus answers GET /status/node with this node's counters
func (s *Server) handleWorkStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.src.WorkStatus())
}
