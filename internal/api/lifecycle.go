package api

import (
	"net/http"
	"time"

	"github.com/maxthelion/octopoid/internal/apierr"
	"github.com/maxthelion/octopoid/internal/metrics"
	"github.com/maxthelion/octopoid/internal/store"
	"github.com/maxthelion/octopoid/internal/types"
)

// claimRequest is the body of POST /tasks/claim.
type claimRequest struct {
	OrchestratorID string `json:"orchestrator_id"`
	AgentName      string `json:"agent_name"`
	RoleFilter     string `json:"role_filter"`
	Queue          string `json:"queue"`
	LeaseDuration  string `json:"lease_duration"`
}

// handleClaim atomically claims one matching task. Claimable tasks are
// unpaused, unblocked, not the awaiting-approval sentinel, and — when a
// role filter is given — role-matched. Candidates are scanned in priority
// order (P0 first) and the first one whose CAS succeeds wins; losing the
// race on one candidate just advances to the next rather than failing the
// whole call, since contention there is expected under multiple
// orchestrators claiming concurrently.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, apierr.Validation("malformed request body"))
		return
	}
	if req.OrchestratorID == "" || req.AgentName == "" {
		writeError(w, apierr.Validation("orchestrator_id and agent_name are required"))
		return
	}

	fromQueue := types.QueueIncoming
	if req.Queue != "" {
		fromQueue = types.Queue(req.Queue)
	}

	leaseDuration := time.Duration(0)
	if req.LeaseDuration != "" {
		if d, err := time.ParseDuration(req.LeaseDuration); err == nil {
			leaseDuration = d
		}
	}

	var roleFilter []string
	if req.RoleFilter != "" {
		roleFilter = []string{req.RoleFilter}
	}

	candidates, _, err := s.store.ListTasks(store.TaskFilter{
		Queue: []types.Queue{fromQueue},
		Role:  roleFilter,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	candidates = claimableCandidates(candidates)
	sortByPriority(candidates)

	for _, c := range candidates {
		task, err := s.machine.Claim(c.ID, c.Version, req.AgentName, req.OrchestratorID, leaseDuration)
		if err == nil {
			metrics.ClaimsTotal.WithLabelValues("claimed").Inc()
			writeJSON(w, http.StatusOK, task)
			return
		}
		// Lost the race on this candidate (another orchestrator claimed it
		// first) or it became unclaimable between list and CAS; try the
		// next one instead of surfacing contention to the caller.
		metrics.ClaimsTotal.WithLabelValues("contended").Inc()
	}

	metrics.ClaimsTotal.WithLabelValues("empty").Inc()
	w.WriteHeader(http.StatusNoContent)
}

// claimableCandidates filters out paused tasks, blocked tasks and the
// awaiting-approval sentinel.
func claimableCandidates(tasks []*types.Task) []*types.Task {
	out := make([]*types.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Paused {
			continue
		}
		if t.BlockedBy != "" {
			continue
		}
		out = append(out, t)
	}
	return out
}

var priorityRank = map[types.Priority]int{
	types.PriorityP0: 0,
	types.PriorityP1: 1,
	types.PriorityP2: 2,
	types.PriorityP3: 3,
}

func sortByPriority(tasks []*types.Task) {
	for i := 1; i < len(tasks); i++ {
		for j := i; j > 0 && priorityRank[tasks[j].Priority] < priorityRank[tasks[j-1].Priority]; j-- {
			tasks[j], tasks[j-1] = tasks[j-1], tasks[j]
		}
	}
}

type submitRequest struct {
	Version      int64          `json:"version"`
	SubmittedBy  string         `json:"submitted_by"`
	CommitsCount int            `json:"commits_count"`
	TurnsUsed    int            `json:"turns_used"`
	Outcome      types.Outcome  `json:"outcome"`
	Reason       string         `json:"reason"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, apierr.Validation("malformed request body"))
		return
	}
	if req.Outcome == "" {
		req.Outcome = types.OutcomeDone
	}

	task, err := s.machine.Submit(r.PathValue("id"), req.Version, req.SubmittedBy, types.Result{
		Outcome:      req.Outcome,
		Reason:       req.Reason,
		CommitsCount: req.CommitsCount,
		TurnsUsed:    req.TurnsUsed,
	})
	s.recordTransition("submit", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type acceptRequest struct {
	Version    int64  `json:"version"`
	AcceptedBy string `json:"accepted_by"`
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req acceptRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, apierr.Validation("malformed request body"))
		return
	}
	task, err := s.machine.Accept(r.PathValue("id"), req.Version, req.AcceptedBy)
	s.recordTransition("accept", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type rejectRequest struct {
	Version    int64  `json:"version"`
	RejectedBy string `json:"rejected_by"`
	Reason     string `json:"reason"`
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, apierr.Validation("malformed request body"))
		return
	}

	task, err := s.store.GetTask(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var flow *types.Flow
	if task.FlowName != "" {
		flow, _ = s.store.GetFlow(task.FlowName)
	}

	updated, err := s.machine.Reject(r.PathValue("id"), req.Version, req.RejectedBy, req.Reason, flow)
	s.recordTransition("reject", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type failRequest struct {
	Version    int64  `json:"version"`
	ReportedBy string `json:"reported_by"`
	Reason     string `json:"reason"`
}

func (s *Server) handleFail(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, apierr.Validation("malformed request body"))
		return
	}
	task, err := s.machine.Fail(r.PathValue("id"), req.Version, req.ReportedBy, req.Reason)
	s.recordTransition("fail", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type requeueRequest struct {
	Version    int64  `json:"version"`
	RequeuedBy string `json:"requeued_by"`
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	var req requeueRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, apierr.Validation("malformed request body"))
		return
	}
	task, err := s.machine.Requeue(r.PathValue("id"), req.Version, req.RequeuedBy)
	s.recordTransition("requeue", err)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) recordTransition(name string, err error) {
	result := "ok"
	if err != nil {
		result = string(apierr.Classify(err).Kind)
	}
	metrics.TransitionsTotal.WithLabelValues(name, result).Inc()
}
