package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxthelion/octopoid/internal/store"
	"github.com/maxthelion/octopoid/internal/types"
)

func newTestServer(t *testing.T) (*Server, store.Store) {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewServer(s), s
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPatchRejectsQueueField(t *testing.T) {
	srv, s := newTestServer(t)
	h := srv.Handler()

	task := &types.Task{Title: "x", Queue: types.QueueIncoming, Priority: types.PriorityP1}
	require.NoError(t, s.CreateTask(task))

	rec := doJSON(t, h, http.MethodPatch, "/api/v1/tasks/"+task.ID, map[string]string{"queue": "done"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body["message"], "/tasks/:id/accept")

	fresh, err := s.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, types.QueueIncoming, fresh.Queue)
}

func TestCreateTaskRejectsQueueDone(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks", createTaskRequest{Title: "x", Queue: types.QueueDone})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClaimRaceYieldsExactlyOneWinner(t *testing.T) {
	srv, s := newTestServer(t)
	h := srv.Handler()

	task := &types.Task{Title: "race", Queue: types.QueueIncoming, Priority: types.PriorityP1, Role: "implement"}
	require.NoError(t, s.CreateTask(task))

	rec1 := doJSON(t, h, http.MethodPost, "/api/v1/tasks/claim", claimRequest{
		OrchestratorID: "cluster-host1", AgentName: "agent-1", RoleFilter: "implement",
	})
	rec2 := doJSON(t, h, http.MethodPost, "/api/v1/tasks/claim", claimRequest{
		OrchestratorID: "cluster-host2", AgentName: "agent-2", RoleFilter: "implement",
	})

	codes := []int{rec1.Code, rec2.Code}
	require.Contains(t, codes, http.StatusOK)
	require.Contains(t, codes, http.StatusNoContent)

	fresh, err := s.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, types.QueueClaimed, fresh.Queue)
	require.NotEmpty(t, fresh.ClaimedBy)
}

func TestTaskCreateInheritsProjectBranch(t *testing.T) {
	srv, s := newTestServer(t)
	h := srv.Handler()

	proj := &types.Project{Title: "p", Branch: "feature/widgets", BaseBranch: "main"}
	require.NoError(t, s.CreateProject(proj))

	rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks", createTaskRequest{
		Title: "member task", ProjectID: proj.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var task types.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
	require.Equal(t, "feature/widgets", task.Branch)
}

func TestDependentUnblockedAfterAccept(t *testing.T) {
	srv, s := newTestServer(t)
	h := srv.Handler()

	blocker := &types.Task{Title: "T4", Queue: types.QueueProvisional, Priority: types.PriorityP1}
	require.NoError(t, s.CreateTask(blocker))
	dependent := &types.Task{Title: "T5", Queue: types.QueueIncoming, Priority: types.PriorityP1, BlockedBy: blocker.ID}
	require.NoError(t, s.CreateTask(dependent))

	rec := doJSON(t, h, http.MethodPost, "/api/v1/tasks/"+blocker.ID+"/accept", acceptRequest{
		Version: blocker.Version, AcceptedBy: "reviewer-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	fresh, err := s.GetTask(dependent.ID)
	require.NoError(t, err)
	require.Empty(t, fresh.BlockedBy)
}
