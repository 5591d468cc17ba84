// Package api exposes the server's HTTP surface: CRUD on tasks, projects,
// flows and messages, plus the lifecycle endpoints that are the only
// sanctioned way to move a task between queues. It is built on the
// stdlib's Go 1.22+ method+path-pattern ServeMux, a plain JSON-over-HTTP
// style rather than an RPC framework.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/maxthelion/octopoid/internal/apierr"
	"github.com/maxthelion/octopoid/internal/flow"
	"github.com/maxthelion/octopoid/internal/log"
	"github.com/maxthelion/octopoid/internal/metrics"
	"github.com/maxthelion/octopoid/internal/statemachine"
	"github.com/maxthelion/octopoid/internal/store"
)

// Server is the HTTP surface over a Store. It holds no in-memory queue
// state of its own: every handler reads and writes through store and
// statemachine.Machine.
type Server struct {
	store   store.Store
	machine *statemachine.Machine
	flows   *flow.Engine
	mux     *http.ServeMux
}

// NewServer builds a Server with all routes registered.
func NewServer(s store.Store) *Server {
	srv := &Server{
		store:   s,
		machine: statemachine.New(s),
		flows:   flow.New(s),
		mux:     http.NewServeMux(),
	}
	srv.routes()
	return srv
}

// Handler returns the instrumented http.Handler for mounting in an
// http.Server or for use directly in tests via httptest.
func (s *Server) Handler() http.Handler {
	return instrument(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	s.mux.HandleFunc("POST /api/v1/tasks", s.handleCreateTask)
	s.mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleGetTask)
	s.mux.HandleFunc("PATCH /api/v1/tasks/{id}", s.handlePatchTask)
	s.mux.HandleFunc("DELETE /api/v1/tasks/{id}", s.handleDeleteTask)

	s.mux.HandleFunc("POST /api/v1/tasks/claim", s.handleClaim)
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/submit", s.handleSubmit)
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/accept", s.handleAccept)
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/reject", s.handleReject)
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/fail", s.handleFail)
	s.mux.HandleFunc("POST /api/v1/tasks/{id}/requeue", s.handleRequeue)

	s.mux.HandleFunc("POST /api/v1/orchestrators/register", s.handleRegisterOrchestrator)
	s.mux.HandleFunc("POST /api/v1/orchestrators/{id}/heartbeat", s.handleHeartbeat)
	s.mux.HandleFunc("GET /api/v1/orchestrators", s.handleListOrchestrators)
	s.mux.HandleFunc("GET /api/v1/scheduler/poll", s.handlePoll)

	s.mux.HandleFunc("PUT /api/v1/flows/{name}", s.handlePutFlow)
	s.mux.HandleFunc("GET /api/v1/flows", s.handleListFlows)
	s.mux.HandleFunc("GET /api/v1/flows/{name}", s.handleGetFlow)

	s.mux.HandleFunc("POST /api/v1/roles/register", s.handleRegisterRole)
	s.mux.HandleFunc("GET /api/v1/roles", s.handleListRoles)

	s.mux.HandleFunc("POST /api/v1/projects", s.handleCreateProject)
	s.mux.HandleFunc("GET /api/v1/projects", s.handleListProjects)
	s.mux.HandleFunc("GET /api/v1/projects/{id}", s.handleGetProject)

	s.mux.HandleFunc("POST /api/v1/messages", s.handlePostMessage)
	s.mux.HandleFunc("GET /api/v1/messages", s.handleListMessages)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}

// --- shared response helpers ---

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, err error) {
	ae := apierr.Classify(err)
	writeJSON(w, ae.Status, map[string]string{"kind": string(ae.Kind), "message": ae.Message})
}

func decodeBody(r *http.Request, out interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil && err.Error() != "EOF" {
		return err
	}
	return nil
}

// decodeJSONRaw decodes into an untyped map, used by the PATCH handler so
// it can detect a "queue" key before any struct has a chance to silently
// drop it.
func decodeJSONRaw(r *http.Request, out *map[string]interface{}) error {
	if r.Body == nil {
		*out = map[string]interface{}{}
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		if err.Error() == "EOF" {
			*out = map[string]interface{}{}
			return nil
		}
		return err
	}
	if *out == nil {
		*out = map[string]interface{}{}
	}
	return nil
}

// instrument wraps h so every request is logged and counted: failures show
// up in metrics rather than crashing the handler chain.
func instrument(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(sw, r)

		route := r.URL.Path
		metrics.APIRequestsTotal.WithLabelValues(route, http.StatusText(sw.status)).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())

		log.WithComponent("api").Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
