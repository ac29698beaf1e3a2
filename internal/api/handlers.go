package api

import (
	"encoding/json"
	"net/http"

	"github.com/ernie/renx-relay/internal/domain"
	"github.com/ernie/renx-relay/internal/storage"
)

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleGetServers returns the status of every relayed server
func (r *Router) handleGetServers(w http.ResponseWriter, req *http.Request) {
	statuses := r.servers.Statuses()
	if statuses == nil {
		statuses = []domain.ServerStatus{}
	}
	writeJSON(w, http.StatusOK, statuses)
}

// handleGetServer returns one server's status
func (r *Router) handleGetServer(w http.ResponseWriter, req *http.Request) {
	name := req.PathValue("name")
	for _, s := range r.servers.Statuses() {
		if s.Name == name {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeError(w, http.StatusNotFound, "server not found")
}

// handleGetCommands returns the command journal, newest first
func (r *Router) handleGetCommands(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	outcome := q.Get("outcome")
	if outcome != "" && !validateOutcome(outcome) {
		writeError(w, http.StatusBadRequest, "invalid outcome")
		return
	}

	records, err := r.store.GetCommands(req.Context(), storage.CommandFilter{
		Server:   q.Get("server"),
		Upstream: q.Get("upstream"),
		Outcome:  outcome,
		BeforeID: parseBeforeID(req),
		Limit:    parseLimit(req, 50, 500),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []domain.CommandRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetSessions returns recent upstream sessions
func (r *Router) handleGetSessions(w http.ResponseWriter, req *http.Request) {
	sessions, err := r.store.GetUpstreamSessions(req.Context(), req.URL.Query().Get("server"), parseLimit(req, 50, 500))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sessions == nil {
		sessions = []domain.UpstreamSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// handleHealth returns a simple health check response
func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
