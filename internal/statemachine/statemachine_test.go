package statemachine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxthelion/octopoid/internal/store"
	"github.com/maxthelion/octopoid/internal/types"
)

func newTestMachine(t *testing.T) (*Machine, store.Store) {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func TestClaimSubmitAcceptHappyPath(t *testing.T) {
	m, s := newTestMachine(t)

	task := &types.Task{Title: "x", Queue: types.QueueIncoming, Priority: types.PriorityP1}
	require.NoError(t, s.CreateTask(task))

	claimed, err := m.Claim(task.ID, task.Version, "agent-1", "cluster-a-host1", 0)
	require.NoError(t, err)
	require.Equal(t, types.QueueClaimed, claimed.Queue)
	require.NotNil(t, claimed.LeaseExpiresAt)

	submitted, err := m.Submit(task.ID, claimed.Version, "agent-1", types.Result{Outcome: types.OutcomeDone, CommitsCount: 3})
	require.NoError(t, err)
	require.Equal(t, types.QueueProvisional, submitted.Queue)
	require.Equal(t, 3, submitted.CommitsCount)
	require.Empty(t, submitted.ClaimedBy)

	accepted, err := m.Accept(task.ID, submitted.Version, "reviewer-1")
	require.NoError(t, err)
	require.Equal(t, types.QueueDone, accepted.Queue)
	require.NotNil(t, accepted.CompletedAt)
}

func TestClaimBlockedTaskFails(t *testing.T) {
	m, s := newTestMachine(t)
	task := &types.Task{Queue: types.QueueIncoming, Priority: types.PriorityP1, BlockedBy: "other-task"}
	require.NoError(t, s.CreateTask(task))

	_, err := m.Claim(task.ID, task.Version, "agent-1", "cluster-a-host1", 0)
	require.Error(t, err)
}

func TestSubmitWithFailedOutcomeRoutesToFail(t *testing.T) {
	m, s := newTestMachine(t)
	task := &types.Task{Queue: types.QueueIncoming, Priority: types.PriorityP1}
	require.NoError(t, s.CreateTask(task))

	claimed, err := m.Claim(task.ID, task.Version, "agent-1", "cluster-a-host1", 0)
	require.NoError(t, err)

	failed, err := m.Submit(task.ID, claimed.Version, "agent-1", types.Result{Outcome: types.OutcomeFailed, Reason: "compile error"})
	require.NoError(t, err)
	require.Equal(t, types.QueueFailed, failed.Queue)
	require.Equal(t, "compile error", failed.FailReason)
}

func TestRejectEscalatesAfterMaxRejections(t *testing.T) {
	m, s := newTestMachine(t)
	task := &types.Task{Queue: types.QueueProvisional, Priority: types.PriorityP1, RejectionCount: 1}
	require.NoError(t, s.CreateTask(task))

	flow := &types.Flow{MaxRejections: 2, EscalateTo: types.Queue("escalated")}
	rejected, err := m.Reject(task.ID, task.Version, "reviewer-1", "missing tests", flow)
	require.NoError(t, err)
	require.Equal(t, types.Queue("escalated"), rejected.Queue)
	require.Equal(t, 2, rejected.RejectionCount)
}

func TestRejectBelowLimitGoesToIncoming(t *testing.T) {
	m, s := newTestMachine(t)
	task := &types.Task{Queue: types.QueueProvisional, Priority: types.PriorityP1}
	require.NoError(t, s.CreateTask(task))

	flow := &types.Flow{MaxRejections: 3, EscalateTo: types.Queue("escalated")}
	rejected, err := m.Reject(task.ID, task.Version, "reviewer-1", "needs work", flow)
	require.NoError(t, err)
	require.Equal(t, types.QueueIncoming, rejected.Queue)
}

func TestRequeueFromFailed(t *testing.T) {
	m, s := newTestMachine(t)
	task := &types.Task{Queue: types.QueueFailed, Priority: types.PriorityP1, FailReason: "timeout"}
	require.NoError(t, s.CreateTask(task))

	requeued, err := m.Requeue(task.ID, task.Version, "operator")
	require.NoError(t, err)
	require.Equal(t, types.QueueIncoming, requeued.Queue)
	require.Empty(t, requeued.FailReason)
}

func TestExpireLeaseReturnsToIncoming(t *testing.T) {
	m, s := newTestMachine(t)
	task := &types.Task{Queue: types.QueueClaimed, Priority: types.PriorityP1, ClaimedBy: "agent-1"}
	require.NoError(t, s.CreateTask(task))

	expired, err := m.ExpireLease(task.ID, task.Version)
	require.NoError(t, err)
	require.Equal(t, types.QueueIncoming, expired.Queue)
	require.Empty(t, expired.ClaimedBy)
}
