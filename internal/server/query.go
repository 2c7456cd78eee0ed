package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/straja-ai/vlaguard/internal/incident"
	"github.com/straja-ai/vlaguard/internal/redact"
	"github.com/straja-ai/vlaguard/internal/robot"
)

// incidentGetter is implemented by stores that can fetch one incident.
type incidentGetter interface {
	Get(ctx context.Context, id string) (incident.Incident, bool, error)
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errorBody{Error: errRequest, Reason: "method_not_allowed"})
		return
	}
	if _, ok := s.authenticate(w, r); !ok {
		return
	}
	profiles := []robot.Profile{}
	if s.robots != nil {
		profiles = s.robots.Profiles()
	}
	writeJSON(w, http.StatusOK, map[string]any{"robots": profiles})
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errorBody{Error: errRequest, Reason: "method_not_allowed"})
		return
	}
	customerID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if s.incidents == nil {
		writeError(w, http.StatusNotFound, errorBody{Error: errRequest, Reason: "incidents_disabled"})
		return
	}

	q := r.URL.Query()
	if customerID == "" {
		customerID = strings.TrimSpace(q.Get("customer_id"))
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errorBody{Error: errRequest, Reason: "invalid_limit"})
			return
		}
		limit = n
	}

	list, err := s.incidents.List(r.Context(), incident.Filter{CustomerID: customerID, Limit: limit})
	if err != nil {
		redact.Logf("server: list incidents failed: %v", err)
		writeError(w, http.StatusInternalServerError, errorBody{Error: errInternal, Reason: "incident_store"})
		return
	}
	if list == nil {
		list = []incident.Incident{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"incidents": list})
}

func (s *Server) handleIncident(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errorBody{Error: errRequest, Reason: "method_not_allowed"})
		return
	}
	customerID, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, "/v1/incidents/"))
	getter, canGet := s.incidents.(incidentGetter)
	if id == "" || !canGet {
		http.NotFound(w, r)
		return
	}

	inc, found, err := getter.Get(r.Context(), id)
	if err != nil {
		redact.Logf("server: get incident failed: %v", err)
		writeError(w, http.StatusInternalServerError, errorBody{Error: errInternal, Reason: "incident_store"})
		return
	}
	if !found || (customerID != "" && inc.CustomerID != customerID) {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, inc)
}
