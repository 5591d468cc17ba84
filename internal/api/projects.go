package api

import (
	"net/http"

	"github.com/maxthelion/octopoid/internal/apierr"
	"github.com/maxthelion/octopoid/internal/types"
)

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var p types.Project
	if err := decodeBody(r, &p); err != nil {
		writeError(w, apierr.Validation("malformed request body"))
		return
	}
	if p.Status == "" {
		p.Status = types.ProjectActive
	}
	if err := s.store.CreateProject(&p); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &p)
}

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProject(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
