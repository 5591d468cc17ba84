package api

import (
	"net/http"

	"github.com/maxthelion/octopoid/internal/apierr"
	"github.com/maxthelion/octopoid/internal/types"
)

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var m types.Message
	if err := decodeBody(r, &m); err != nil {
		writeError(w, apierr.Validation("malformed request body"))
		return
	}
	if m.TaskID == "" {
		writeError(w, apierr.Validation("task_id is required"))
		return
	}
	if err := s.store.CreateMessage(&m); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &m)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	taskID := r.URL.Query().Get("task_id")
	if taskID == "" {
		writeError(w, apierr.Validation("task_id query parameter is required"))
		return
	}
	msgs, err := s.store.ListMessages(taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}
