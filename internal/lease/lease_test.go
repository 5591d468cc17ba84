package lease

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maxthelion/octopoid/internal/store"
	"github.com/maxthelion/octopoid/internal/types"
)

func TestExpireLeasesRequeuesStaleClaim(t *testing.T) {
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	past := time.Now().Add(-1 * time.Minute)
	task := &types.Task{Queue: types.QueueClaimed, Priority: types.PriorityP1, ClaimedBy: "agent-1", LeaseExpiresAt: &past}
	require.NoError(t, s.CreateTask(task))

	c := New(s, time.Second)
	require.NoError(t, c.expireLeases())

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, types.QueueIncoming, got.Queue)
	require.Empty(t, got.ClaimedBy)
}

func TestExpireLeasesIgnoresFreshClaim(t *testing.T) {
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	future := time.Now().Add(time.Hour)
	task := &types.Task{Queue: types.QueueClaimed, Priority: types.PriorityP1, ClaimedBy: "agent-1", LeaseExpiresAt: &future}
	require.NoError(t, s.CreateTask(task))

	c := New(s, time.Second)
	require.NoError(t, c.expireLeases())

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, types.QueueClaimed, got.Queue)
}

func TestMarkOfflineOrchestratorsAfterTimeout(t *testing.T) {
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	o := &types.Orchestrator{ID: "cluster-a-host1", LastHeartbeatAt: time.Now().Add(-time.Hour), Status: types.OrchestratorActive}
	require.NoError(t, s.UpsertOrchestrator(o))

	c := New(s, time.Second)
	require.NoError(t, c.markOfflineOrchestrators())

	got, err := s.GetOrchestrator("cluster-a-host1")
	require.NoError(t, err)
	require.Equal(t, types.OrchestratorOffline, got.Status)
}
