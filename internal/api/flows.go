package api

import (
	"net/http"

	"github.com/maxthelion/octopoid/internal/apierr"
	"github.com/maxthelion/octopoid/internal/types"
)

func (s *Server) handlePutFlow(w http.ResponseWriter, r *http.Request) {
	var f types.Flow
	if err := decodeBody(r, &f); err != nil {
		writeError(w, apierr.Validation("malformed request body"))
		return
	}
	f.Name = r.PathValue("name")
	if err := s.store.PutFlow(&f); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &f)
}

func (s *Server) handleListFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.store.ListFlows()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"flows": flows})
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.GetFlow(r.PathValue("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

type registerRoleRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleRegisterRole(w http.ResponseWriter, r *http.Request) {
	var req registerRoleRequest
	if err := decodeBody(r, &req); err != nil || req.Name == "" {
		writeError(w, apierr.Validation("name is required"))
		return
	}
	if err := s.store.RegisterRole(req.Name); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.store.ListRoles()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"roles": roles})
}
