// Package sdkclient is the orchestrator's typed handle to the server's
// HTTP API: it gives every caller (here, the scheduler tick) a small set
// of named methods instead of hand-building requests, talking plain JSON
// over net/http rather than an RPC framework, so there is no certificate
// dance to reproduce.
package sdkclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/maxthelion/octopoid/internal/types"
)

// Client is a thin wrapper over http.Client scoped to one server's
// /api/v1 surface.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against baseURL (e.g. "http://localhost:8080").
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is returned for any non-2xx response; Kind mirrors the server's
// apierr classification when present in the JSON error body.
type APIError struct {
	Status int
	Kind   string
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sdkclient: %d %s: %s", e.Status, e.Kind, e.Body)
}

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("sdkclient: marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("sdkclient: build request: %w", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("sdkclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("sdkclient: read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(data, &eb)
		return &APIError{Status: resp.StatusCode, Kind: eb.Kind, Body: eb.Message}
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("sdkclient: decode response: %w", err)
		}
	}
	return nil
}

// ClaimRequest is the body for POST /tasks/claim.
type ClaimRequest struct {
	OrchestratorID string `json:"orchestrator_id"`
	AgentName      string `json:"agent_name"`
	RoleFilter     string `json:"role_filter,omitempty"`
	Queue          string `json:"queue,omitempty"`
	LeaseDuration  string `json:"lease_duration,omitempty"`
}

// Claim attempts to atomically claim one task. A nil task with nil error
// means no claimable task was found — the scheduler's claim_task guard
// treats that as a block, not an error.
func (c *Client) Claim(ctx context.Context, req ClaimRequest) (*types.Task, error) {
	var task types.Task
	err := c.do(ctx, http.MethodPost, "/api/v1/tasks/claim", req, &task)
	if err != nil {
		var apiErr *APIError
		if errorsAs(err, &apiErr) && apiErr.Status == http.StatusNoContent {
			return nil, nil
		}
		return nil, err
	}
	if task.ID == "" {
		return nil, nil
	}
	return &task, nil
}

// Submit reports an agent's result for a claimed task, moving it to
// provisional (or failed, if the server classifies the outcome as such).
func (c *Client) Submit(ctx context.Context, taskID string, version int64, submittedBy string, result types.Result) (*types.Task, error) {
	body := map[string]interface{}{
		"version":       version,
		"submitted_by":  submittedBy,
		"commits_count": result.CommitsCount,
		"turns_used":    result.TurnsUsed,
		"outcome":       result.Outcome,
		"reason":        result.Reason,
	}
	var task types.Task
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+taskID+"/submit", body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Accept moves a provisional task to done.
func (c *Client) Accept(ctx context.Context, taskID string, version int64, acceptedBy string) (*types.Task, error) {
	body := map[string]interface{}{"version": version, "accepted_by": acceptedBy}
	var task types.Task
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+taskID+"/accept", body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Reject moves a provisional task back to incoming (or to escalation).
func (c *Client) Reject(ctx context.Context, taskID string, version int64, rejectedBy, reason string) (*types.Task, error) {
	body := map[string]interface{}{"version": version, "rejected_by": rejectedBy, "reason": reason}
	var task types.Task
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+taskID+"/reject", body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Fail moves a lease-holding task to failed.
func (c *Client) Fail(ctx context.Context, taskID string, version int64, reportedBy, reason string) (*types.Task, error) {
	body := map[string]interface{}{"version": version, "reported_by": reportedBy, "reason": reason}
	var task types.Task
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+taskID+"/fail", body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Requeue returns a failed task to incoming. The server accepts it only
// from failed; a claimed task is not requeued directly, so compensating a
// claim the scheduler could not act on means Fail first, then Requeue.
func (c *Client) Requeue(ctx context.Context, taskID string, version int64, requeuedBy string) (*types.Task, error) {
	body := map[string]interface{}{"version": version, "requeued_by": requeuedBy}
	var task types.Task
	if err := c.do(ctx, http.MethodPost, "/api/v1/tasks/"+taskID+"/requeue", body, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string) (*types.Task, error) {
	var task types.Task
	if err := c.do(ctx, http.MethodGet, "/api/v1/tasks/"+id, nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// ListTasksResponse is the body of GET /tasks.
type ListTasksResponse struct {
	Tasks []*types.Task `json:"tasks"`
	Total int           `json:"total"`
}

// ListTasksFilter mirrors store.TaskFilter's query-string shape.
type ListTasksFilter struct {
	Queue     []string
	Priority  []string
	Role      []string
	ClaimedBy string
	ProjectID string
	Limit     int
	Offset    int
}

// ListTasks lists tasks matching filter.
func (c *Client) ListTasks(ctx context.Context, filter ListTasksFilter) (*ListTasksResponse, error) {
	q := url.Values{}
	if len(filter.Queue) > 0 {
		q.Set("queue", strings.Join(filter.Queue, ","))
	}
	if len(filter.Priority) > 0 {
		q.Set("priority", strings.Join(filter.Priority, ","))
	}
	if len(filter.Role) > 0 {
		q.Set("role", strings.Join(filter.Role, ","))
	}
	if filter.ClaimedBy != "" {
		q.Set("claimed_by", filter.ClaimedBy)
	}
	if filter.ProjectID != "" {
		q.Set("project_id", filter.ProjectID)
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}

	var resp ListTasksResponse
	path := "/api/v1/tasks"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Register registers this orchestrator with the server.
func (c *Client) Register(ctx context.Context, o types.Orchestrator) error {
	return c.do(ctx, http.MethodPost, "/api/v1/orchestrators/register", o, nil)
}

// Heartbeat tells the server this orchestrator is still alive.
func (c *Client) Heartbeat(ctx context.Context, orchestratorID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/orchestrators/"+orchestratorID+"/heartbeat", nil, nil)
}

// PollResponse is the batch snapshot GET /scheduler/poll returns, used by a
// tick to avoid one round trip per queue count.
type PollResponse struct {
	QueueCounts  map[string]int `json:"queue_counts"`
	Provisional  []*types.Task  `json:"provisional"`
	Registered   bool           `json:"registered"`
	OpenTotal    int            `json:"open_total"`
	ClaimedTotal int            `json:"claimed_total"`
}

// Poll fetches the batch snapshot a scheduler tick's housekeeping and
// backpressure guard both need.
func (c *Client) Poll(ctx context.Context, cluster string) (*PollResponse, error) {
	var resp PollResponse
	path := "/api/v1/scheduler/poll"
	if cluster != "" {
		path += "?cluster=" + url.QueryEscape(cluster)
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PostMessage appends a durable mailbox entry for a task.
func (c *Client) PostMessage(ctx context.Context, m types.Message) error {
	return c.do(ctx, http.MethodPost, "/api/v1/messages", m, nil)
}

type listMessagesResponse struct {
	Messages []*types.Message `json:"messages"`
}

// ListMessages satisfies flow.MessageReader so the orchestrator-side flow
// engine can evaluate agent/manual conditions without a local Store.
func (c *Client) ListMessages(taskID string) ([]*types.Message, error) {
	var resp listMessagesResponse
	path := "/api/v1/messages?task_id=" + url.QueryEscape(taskID)
	if err := c.do(context.Background(), http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// errorsAs is a package-local alias kept next to its one call site so the
// import list doesn't need "errors" just for this.
func errorsAs(err error, target **APIError) bool {
	apiErr, ok := err.(*APIError)
	if !ok {
		return false
	}
	*target = apiErr
	return true
}
