package scheduler

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maxthelion/octopoid/internal/api"
	"github.com/maxthelion/octopoid/internal/config"
	"github.com/maxthelion/octopoid/internal/sdkclient"
	"github.com/maxthelion/octopoid/internal/spawn"
	"github.com/maxthelion/octopoid/internal/store"
	"github.com/maxthelion/octopoid/internal/types"
)

func TestGuardPoolCapacityBlocksAtMax(t *testing.T) {
	bp := config.BlueprintConfig{Name: "implement", MaxInstances: 2}
	ac := &agentContext{Blueprint: bp, PoolCount: 2}
	res := guardPoolCapacity(context.Background(), &Scheduler{}, ac)
	require.False(t, res.Pass)
}

func TestGuardPoolCapacityAllowsUnderMax(t *testing.T) {
	bp := config.BlueprintConfig{Name: "implement", MaxInstances: 2}
	ac := &agentContext{Blueprint: bp, PoolCount: 1}
	res := guardPoolCapacity(context.Background(), &Scheduler{}, ac)
	require.True(t, res.Pass)
}

func TestGuardIntervalBlocksTooSoon(t *testing.T) {
	bp := config.BlueprintConfig{Name: "implement", MinIntervalMS: 60_000}
	ac := &agentContext{Blueprint: bp, State: BlueprintState{LastSpawnAt: time.Now()}}
	res := guardInterval(context.Background(), &Scheduler{}, ac)
	require.False(t, res.Pass)
}

func TestGuardIntervalAllowsAfterElapsed(t *testing.T) {
	bp := config.BlueprintConfig{Name: "implement", MinIntervalMS: 100}
	ac := &agentContext{Blueprint: bp, State: BlueprintState{LastSpawnAt: time.Now().Add(-time.Hour)}}
	res := guardInterval(context.Background(), &Scheduler{}, ac)
	require.True(t, res.Pass)
}

func TestGuardEnabledBlocksPaused(t *testing.T) {
	bp := config.BlueprintConfig{Name: "implement", Paused: true}
	res := guardEnabled(context.Background(), &Scheduler{}, &agentContext{Blueprint: bp})
	require.False(t, res.Pass)
}

func TestClaimQueueDefaultsToIncoming(t *testing.T) {
	require.Equal(t, "incoming", claimQueue(config.BlueprintConfig{}))
	require.Equal(t, "provisional", claimQueue(config.BlueprintConfig{ClaimQueue: "provisional"}))
}

func TestGuardBackpressureBlocksWithoutClaimableWork(t *testing.T) {
	bp := config.BlueprintConfig{Name: "implement", Claimable: true, RoleFilter: "implement"}
	ac := &agentContext{Blueprint: bp, Poll: &sdkclient.PollResponse{QueueCounts: map[string]int{"incoming": 0}}}
	res := guardBackpressure(context.Background(), &Scheduler{}, ac)
	require.False(t, res.Pass)
}

func TestGuardBackpressureRespectsMaxClaimed(t *testing.T) {
	bp := config.BlueprintConfig{Name: "implement", Claimable: true}
	s := &Scheduler{cfg: config.OrchestratorConfig{MaxClaimed: 1}}
	ac := &agentContext{Blueprint: bp, Poll: &sdkclient.PollResponse{
		QueueCounts:  map[string]int{"incoming": 3},
		ClaimedTotal: 1,
	}}
	res := guardBackpressure(context.Background(), s, ac)
	require.False(t, res.Pass)
}

// newTestScheduler spins up a real API server over httptest, pointed to by
// an sdkclient.Client, and wraps it in a Scheduler — the same wiring
// cmd/octopoid uses at startup, just against a loopback server instead of a
// deployed one.
func newTestScheduler(t *testing.T, blueprints []config.BlueprintConfig) (*Scheduler, store.Store) {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	srv := httptest.NewServer(api.NewServer(s).Handler())
	t.Cleanup(srv.Close)

	client := sdkclient.New(srv.URL)
	cfg := config.OrchestratorConfig{
		Cluster:        "test",
		ServerURL:      srv.URL,
		DataDir:        t.TempDir(),
		PollInterval:   time.Second,
		HeartbeatEvery: time.Second,
		RepoPath:       t.TempDir(),
	}

	sched, err := New(client, cfg, blueprints, nil)
	require.NoError(t, err)
	return sched, s
}

func TestTickClaimsAndSpawnsLightweightBlueprint(t *testing.T) {
	bp := config.BlueprintConfig{
		Name:          "poller",
		SpawnStrategy: spawn.StrategyLightweight,
		Command:       []string{"sh", "-c", "exit 0"},
		Claimable:     true,
		MaxInstances:  1,
	}
	sched, s := newTestScheduler(t, []config.BlueprintConfig{bp})

	task := &types.Task{Title: "t1", Queue: types.QueueIncoming, Priority: types.PriorityP1, Role: "poll"}
	require.NoError(t, s.CreateTask(task))

	sched.Tick(context.Background())

	fresh, err := s.GetTask(task.ID)
	require.NoError(t, err)
	require.Equal(t, types.QueueClaimed, fresh.Queue)

	count, err := sched.trackers["poller"].Count()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}
