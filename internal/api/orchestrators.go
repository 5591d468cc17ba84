package api

import (
	"net/http"
	"time"

	"github.com/maxthelion/octopoid/internal/apierr"
	"github.com/maxthelion/octopoid/internal/store"
	"github.com/maxthelion/octopoid/internal/types"
)

type registerOrchestratorRequest struct {
	ID        string `json:"id"`
	Cluster   string `json:"cluster"`
	MachineID string `json:"machine_id"`
	RepoURL   string `json:"repo_url"`
}

func (s *Server) handleRegisterOrchestrator(w http.ResponseWriter, r *http.Request) {
	var req registerOrchestratorRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, apierr.Validation("malformed request body"))
		return
	}
	id := req.ID
	if id == "" {
		id = req.Cluster + "-" + req.MachineID
	}

	o := &types.Orchestrator{
		ID:              id,
		Cluster:         req.Cluster,
		MachineID:       req.MachineID,
		RepoURL:         req.RepoURL,
		Status:          types.OrchestratorActive,
		LastHeartbeatAt: time.Now(),
	}
	if existing, err := s.store.GetOrchestrator(id); err == nil {
		o.Version = existing.Version
	}
	if err := s.store.UpsertOrchestrator(o); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	o, err := s.store.GetOrchestrator(id)
	if err != nil {
		writeError(w, err)
		return
	}
	o.LastHeartbeatAt = time.Now()
	o.Status = types.OrchestratorActive
	if err := s.store.UpsertOrchestrator(o); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleListOrchestrators(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListOrchestrators()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"orchestrators": list})
}

// handlePoll serves the batch snapshot a scheduler tick's housekeeping and
// backpressure guard both need in one round trip: queue counts and the
// current provisional backlog.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	all, _, err := s.store.ListTasks(store.TaskFilter{})
	if err != nil {
		writeError(w, err)
		return
	}

	counts := map[string]int{}
	var provisional []*types.Task
	var claimedTotal, openTotal int
	for _, t := range all {
		counts[string(t.Queue)]++
		if t.Queue == types.QueueProvisional {
			provisional = append(provisional, t)
		}
		if t.Queue == types.QueueClaimed {
			claimedTotal++
		}
		if t.Queue == types.QueueIncoming {
			openTotal++
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queue_counts":  counts,
		"provisional":   provisional,
		"registered":    true,
		"open_total":    openTotal,
		"claimed_total": claimedTotal,
	})
}
