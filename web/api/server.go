// Package api exposes the orchestrator over HTTP: run triggering, run
// inspection, cancellation, changeset approval and an SSE event stream.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/aicouncil/council-orchestrator/internal/domain"
	"github.com/aicouncil/council-orchestrator/internal/orchestrator"
	"github.com/aicouncil/council-orchestrator/internal/runstore"
)

// Trigger is the slice of the orchestrator the API needs
type Trigger interface {
	Trigger(feature string, languages []string, branch string, priority domain.Priority) (*domain.Run, error)
	Cancel(runID string) error
}

// Approver flips a published changeset to approved
type Approver interface {
	Approve(runID string) error
}

// Server is the HTTP API server
type Server struct {
	store    *runstore.Store
	trigger  Trigger
	approver Approver
	addr     string
	mux      *http.ServeMux
	events   *eventHub
}

// NewServer creates a new API server. trigger and approver may be nil for
// read-only deployments; the mutating endpoints then return 503.
func NewServer(store *runstore.Store, trigger Trigger, approver Approver, addr string) *Server {
	s := &Server{
		store:    store,
		trigger:  trigger,
		approver: approver,
		addr:     addr,
		mux:      http.NewServeMux(),
		events:   newEventHub(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/runs", s.runsHandler())
	s.mux.HandleFunc("/api/runs/", s.runHandler())
	s.mux.HandleFunc("/api/events", s.eventsHandler())
}

// Handler returns the server's routing handler, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start starts the HTTP server
func (s *Server) Start() error {
	return http.ListenAndServe(s.addr, s.mux)
}

// Broadcast delivers an orchestrator event to every connected SSE client.
// Safe to call before Start and with no clients connected.
func (s *Server) Broadcast(ev orchestrator.Event) {
	s.events.publish(ev)
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
