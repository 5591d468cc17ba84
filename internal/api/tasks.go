package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/maxthelion/octopoid/internal/apierr"
	"github.com/maxthelion/octopoid/internal/store"
	"github.com/maxthelion/octopoid/internal/types"
)

// validQueue reports whether q is acceptable on a write: always true for
// the built-ins, otherwise true only if some registered flow declares it.
// An unknown queue is rejected once any flow has been registered; with no
// flows registered yet, any value is accepted for backward compatibility.
func (s *Server) validQueue(q types.Queue) bool {
	if types.BuiltinQueues[q] {
		return true
	}
	flows, err := s.store.ListFlows()
	if err != nil || len(flows) == 0 {
		return true
	}
	for _, f := range flows {
		if f.StateSet()[q] {
			return true
		}
	}
	return false
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{
		Queue:     splitQueues(q.Get("queue")),
		Priority:  splitPriorities(q.Get("priority")),
		Role:      splitCSV(q.Get("role")),
		ClaimedBy: q.Get("claimed_by"),
		ProjectID: q.Get("project_id"),
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	if v := q.Get("offset"); v != "" {
		filter.Offset, _ = strconv.Atoi(v)
	}

	tasks, total, err := s.store.ListTasks(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tasks": tasks, "total": total})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type createTaskRequest struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Role      string         `json:"role"`
	Priority  types.Priority `json:"priority"`
	Queue     types.Queue    `json:"queue"`
	Branch    string         `json:"branch"`
	ProjectID string         `json:"project_id"`
	FlowName  string         `json:"flow_name"`
	BlockedBy string         `json:"blocked_by"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, apierr.Validation("malformed request body"))
		return
	}
	if req.Queue == types.QueueDone {
		writeError(w, apierr.Validation("cannot create a task already in queue=done"))
		return
	}
	if req.Queue == "" {
		req.Queue = types.QueueIncoming
	}
	if !s.validQueue(req.Queue) {
		writeError(w, apierr.Validation("unknown queue: "+string(req.Queue)))
		return
	}
	if req.Priority == "" {
		req.Priority = types.PriorityP2
	}

	task := &types.Task{
		ID:        req.ID,
		Title:     req.Title,
		Role:      req.Role,
		Priority:  req.Priority,
		Queue:     req.Queue,
		Branch:    req.Branch,
		ProjectID: req.ProjectID,
		FlowName:  req.FlowName,
		BlockedBy: req.BlockedBy,
	}

	// A task created under a project inherits the project's shared branch
	// when none was supplied directly.
	if task.ProjectID != "" && task.Branch == "" {
		if proj, err := s.store.GetProject(task.ProjectID); err == nil {
			task.Branch = proj.Branch
		}
	}

	if err := s.store.CreateTask(task); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handlePatchTask(w http.ResponseWriter, r *http.Request) {
	var raw map[string]interface{}
	if err := decodeJSONRaw(r, &raw); err != nil {
		writeError(w, apierr.Validation("malformed request body"))
		return
	}
	if _, hasQueue := raw["queue"]; hasQueue {
		writeError(w, apierr.Validation("queue cannot be set via PATCH; use the lifecycle endpoints such as /tasks/:id/accept"))
		return
	}

	id := r.PathValue("id")
	task, err := s.store.PatchTask(id, func(t *types.Task) error {
		applyTaskPatch(t, raw)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// applyTaskPatch copies over the metadata fields PATCH is allowed to touch.
// blocked_by is explicitly permitted, so an operator can manually unblock a
// task without going through the lifecycle endpoints.
func applyTaskPatch(t *types.Task, raw map[string]interface{}) {
	if v, ok := raw["title"].(string); ok {
		t.Title = v
	}
	if v, ok := raw["role"].(string); ok {
		t.Role = v
	}
	if v, ok := raw["priority"].(string); ok {
		t.Priority = types.Priority(v)
	}
	if v, ok := raw["branch"].(string); ok {
		t.Branch = v
	}
	if v, ok := raw["blocked_by"]; ok {
		if s, ok := v.(string); ok {
			t.BlockedBy = s
		} else if v == nil {
			t.BlockedBy = ""
		}
	}
	if v, ok := raw["paused"].(bool); ok {
		t.Paused = v
	}
	if v, ok := raw["flow_name"].(string); ok {
		t.FlowName = v
	}
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteTask(r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func splitCSV(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

func splitQueues(v string) []types.Queue {
	parts := splitCSV(v)
	if parts == nil {
		return nil
	}
	out := make([]types.Queue, len(parts))
	for i, p := range parts {
		out[i] = types.Queue(p)
	}
	return out
}

func splitPriorities(v string) []types.Priority {
	parts := splitCSV(v)
	if parts == nil {
		return nil
	}
	out := make([]types.Priority, len(parts))
	for i, p := range parts {
		out[i] = types.Priority(p)
	}
	return out
}
