// Package statemachine implements the task lifecycle transitions: claim,
// submit, accept, reject, fail, requeue and lease-expire. Each transition is
// a single call into store.CompareAndSwapTask with a from-queue guard and a
// mutate closure; none of them touch bbolt directly.
package statemachine

import (
	"fmt"
	"time"

	"github.com/maxthelion/octopoid/internal/store"
	"github.com/maxthelion/octopoid/internal/types"
)

// DefaultLeaseDuration is how long a claim holds before the lease
// coordinator considers it expired, absent an orchestrator-supplied value.
const DefaultLeaseDuration = 10 * time.Minute

// Machine drives task transitions against a Store. It does not know about
// HTTP; handlers call it and translate errors via apierr.
type Machine struct {
	store store.Store
}

func New(s store.Store) *Machine {
	return &Machine{store: s}
}

// Claim moves a task from incoming to claimed, recording the claiming
// orchestrator/agent instance and a lease deadline.
func (m *Machine) Claim(id string, expectedVersion int64, claimedBy, orchestrator string, leaseDuration time.Duration) (*types.Task, error) {
	if leaseDuration <= 0 {
		leaseDuration = DefaultLeaseDuration
	}
	expires := time.Now().Add(leaseDuration)

	return m.store.CompareAndSwapTask(id, expectedVersion, types.QueueIncoming, func(t *types.Task) error {
		if t.Paused {
			return fmt.Errorf("task is paused")
		}
		if t.BlockedBy != "" {
			return fmt.Errorf("task is blocked by %s", t.BlockedBy)
		}
		t.Queue = types.QueueClaimed
		t.ClaimedBy = claimedBy
		t.Orchestrator = orchestrator
		t.LeaseExpiresAt = &expires
		t.AttemptCount++
		return nil
	}, &types.TaskHistoryEvent{Kind: "claim", Actor: claimedBy})
}

// Submit moves a claimed task to provisional, recording the agent's
// reported outcome counters. An agent that reports OutcomeFailed routes
// straight to Fail instead.
func (m *Machine) Submit(id string, expectedVersion int64, submittedBy string, result types.Result) (*types.Task, error) {
	if result.Outcome == types.OutcomeFailed {
		return m.Fail(id, expectedVersion, submittedBy, result.Reason)
	}

	now := time.Now()
	return m.store.CompareAndSwapTask(id, expectedVersion, types.QueueClaimed, func(t *types.Task) error {
		t.Queue = types.QueueProvisional
		t.CommitsCount = result.CommitsCount
		t.TurnsUsed = result.TurnsUsed
		t.ClaimedBy = ""
		t.Orchestrator = ""
		t.LeaseExpiresAt = nil
		t.SubmittedAt = &now
		return nil
	}, &types.TaskHistoryEvent{Kind: "submit", Actor: submittedBy, Details: result.Reason})
}

// Accept moves a provisional task to done and clears any dependents'
// blocked_by via the store's cascade-unblock logic.
func (m *Machine) Accept(id string, expectedVersion int64, acceptedBy string) (*types.Task, error) {
	now := time.Now()
	return m.store.CompareAndSwapTask(id, expectedVersion, types.QueueProvisional, func(t *types.Task) error {
		t.Queue = types.QueueDone
		t.AcceptedBy = acceptedBy
		t.CompletedAt = &now
		return nil
	}, &types.TaskHistoryEvent{Kind: "accept", Actor: acceptedBy})
}

// Reject moves a provisional task back to incoming for rework, unless the
// flow's max_rejections has been hit, in which case it escalates instead.
func (m *Machine) Reject(id string, expectedVersion int64, rejectedBy, reason string, flow *types.Flow) (*types.Task, error) {
	return m.store.CompareAndSwapTask(id, expectedVersion, types.QueueProvisional, func(t *types.Task) error {
		t.RejectionCount++
		t.RejectedBy = rejectedBy
		t.RejectReason = reason

		if flow != nil && flow.MaxRejections > 0 && t.RejectionCount >= flow.MaxRejections && flow.EscalateTo != "" {
			t.Queue = flow.EscalateTo
		} else {
			t.Queue = types.QueueIncoming
		}
		t.ClaimedBy = ""
		t.Orchestrator = ""
		t.LeaseExpiresAt = nil
		return nil
	}, &types.TaskHistoryEvent{Kind: "reject", Actor: rejectedBy, Details: reason})
}

// Fail moves a task to the failed queue. It accepts the task's current
// queue as fromQueue since a failure can be reported from claimed or
// provisional depending on when the agent gave up.
func (m *Machine) Fail(id string, expectedVersion int64, reportedBy, reason string) (*types.Task, error) {
	return m.store.CompareAndSwapTask(id, expectedVersion, "", func(t *types.Task) error {
		if t.Queue != types.QueueClaimed && t.Queue != types.QueueProvisional {
			return fmt.Errorf("task is not in a failable state: %s", t.Queue)
		}
		t.Queue = types.QueueFailed
		t.FailReason = reason
		t.ClaimedBy = ""
		t.Orchestrator = ""
		t.LeaseExpiresAt = nil
		return nil
	}, &types.TaskHistoryEvent{Kind: "fail", Actor: reportedBy, Details: reason})
}

// Requeue moves a failed task back to incoming, resetting lease fields and
// clearing the fail reason. Used both for manual operator retries and for
// the orchestrator's own retry-on-next-tick policy.
func (m *Machine) Requeue(id string, expectedVersion int64, requeuedBy string) (*types.Task, error) {
	return m.store.CompareAndSwapTask(id, expectedVersion, types.QueueFailed, func(t *types.Task) error {
		t.Queue = types.QueueIncoming
		t.FailReason = ""
		t.ClaimedBy = ""
		t.Orchestrator = ""
		t.LeaseExpiresAt = nil
		return nil
	}, &types.TaskHistoryEvent{Kind: "requeue", Actor: requeuedBy})
}

// ExpireLease is called by the lease coordinator, not by any HTTP handler.
// It moves a claimed task whose lease has passed back to incoming so
// another orchestrator can pick it up, without requiring the caller to know
// the task's current version (the coordinator discovers that itself).
func (m *Machine) ExpireLease(id string, expectedVersion int64) (*types.Task, error) {
	return m.store.CompareAndSwapTask(id, expectedVersion, types.QueueClaimed, func(t *types.Task) error {
		t.Queue = types.QueueIncoming
		t.ClaimedBy = ""
		t.Orchestrator = ""
		t.LeaseExpiresAt = nil
		return nil
	}, &types.TaskHistoryEvent{Kind: "lease_expired"})
}
