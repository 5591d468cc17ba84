package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maxthelion/octopoid/internal/config"
	"github.com/maxthelion/octopoid/internal/procguard"
	"github.com/maxthelion/octopoid/internal/sdkclient"
	"github.com/maxthelion/octopoid/internal/types"
)

// agentContext carries everything the guard chain and spawn phase need for
// one blueprint's evaluation this tick.
type agentContext struct {
	Blueprint    config.BlueprintConfig
	State        BlueprintState
	PoolCount    int
	Poll         *sdkclient.PollResponse
	ClaimedTask  *types.Task
	InstanceName string
}

// guardResult is one guard's verdict. A failing guard's Reason is recorded
// on the blueprint's persisted state for observability; it never aborts the
// tick, only this blueprint's evaluation.
type guardResult struct {
	Pass   bool
	Reason string
}

func pass() guardResult { return guardResult{Pass: true} }

func blocked(reason string) guardResult { return guardResult{Pass: false, Reason: reason} }

// guard is one link of the chain, evaluated in a fixed order: enabled,
// pool_capacity, interval, backpressure, pre_check, claim_task. The chain
// short-circuits at the first failing guard.
type guard func(ctx context.Context, s *Scheduler, ac *agentContext) guardResult

var guardChain = []guard{
	guardEnabled,
	guardPoolCapacity,
	guardInterval,
	guardBackpressure,
	guardPreCheck,
	guardClaimTask,
}

// runGuardChain evaluates ac against every guard in order, returning the
// first failure or a pass if every guard is satisfied.
func runGuardChain(ctx context.Context, s *Scheduler, ac *agentContext) guardResult {
	for _, g := range guardChain {
		if res := g(ctx, s, ac); !res.Pass {
			return res
		}
	}
	return pass()
}

func guardEnabled(ctx context.Context, s *Scheduler, ac *agentContext) guardResult {
	if ac.Blueprint.Paused {
		return blocked("enabled: blueprint paused")
	}
	return pass()
}

func guardPoolCapacity(ctx context.Context, s *Scheduler, ac *agentContext) guardResult {
	if ac.Blueprint.MaxInstances <= 0 {
		return pass()
	}
	if ac.PoolCount >= ac.Blueprint.MaxInstances {
		return blocked(fmt.Sprintf("pool_capacity: %d/%d instances running", ac.PoolCount, ac.Blueprint.MaxInstances))
	}
	return pass()
}

func guardInterval(ctx context.Context, s *Scheduler, ac *agentContext) guardResult {
	if ac.Blueprint.MinIntervalMS <= 0 || ac.State.LastSpawnAt.IsZero() {
		return pass()
	}
	min := time.Duration(ac.Blueprint.MinIntervalMS) * time.Millisecond
	since := time.Since(ac.State.LastSpawnAt)
	if since < min {
		return blocked(fmt.Sprintf("interval: spawned %s ago, need %s", since.Round(time.Second), min))
	}
	return pass()
}

// claimQueue returns the queue a claimable blueprint claims from, defaulting
// to incoming unless ClaimQueue overrides it for reviewer/gatekeeper
// blueprints that claim from provisional instead.
func claimQueue(bp config.BlueprintConfig) string {
	if bp.ClaimQueue != "" {
		return bp.ClaimQueue
	}
	return string(types.QueueIncoming)
}

func guardBackpressure(ctx context.Context, s *Scheduler, ac *agentContext) guardResult {
	if !ac.Blueprint.Claimable {
		return pass()
	}
	if ac.Poll == nil {
		return blocked("backpressure: no scheduler snapshot available")
	}
	queue := claimQueue(ac.Blueprint)
	if ac.Poll.QueueCounts[queue] <= 0 {
		return blocked(fmt.Sprintf("backpressure: no claimable work in %s", queue))
	}
	if s.cfg.MaxClaimed > 0 && ac.Poll.ClaimedTotal >= s.cfg.MaxClaimed {
		return blocked(fmt.Sprintf("backpressure: max_claimed (%d) reached", s.cfg.MaxClaimed))
	}
	return pass()
}

func guardPreCheck(ctx context.Context, s *Scheduler, ac *agentContext) guardResult {
	if len(ac.Blueprint.PreCheck) == 0 {
		return pass()
	}
	checker := procguard.Checker{Command: ac.Blueprint.PreCheck, Dir: s.cfg.RepoPath}
	res := checker.Run(ctx)
	if !res.Passed {
		return blocked("pre_check: " + strings.TrimSpace(res.Output))
	}
	return pass()
}

// guardClaimTask generates this run's instance identifier before claiming,
// so the server records it as claimed_by and Phase C's spawn reuses the
// same name for its pool entry — collection later matches a claim to its
// task by this identifier alone, no separate lookup table.
func guardClaimTask(ctx context.Context, s *Scheduler, ac *agentContext) guardResult {
	if !ac.Blueprint.Claimable {
		return pass()
	}
	instance := fmt.Sprintf("%s-%s", ac.Blueprint.Name, uuid.New().String()[:8])
	task, err := s.client.Claim(ctx, sdkclient.ClaimRequest{
		OrchestratorID: s.orchestratorID,
		AgentName:      instance,
		RoleFilter:     ac.Blueprint.RoleFilter,
		Queue:          claimQueue(ac.Blueprint),
	})
	if err != nil {
		return blocked("claim_task: " + err.Error())
	}
	if task == nil {
		return blocked("claim_task: no claimable task")
	}
	ac.ClaimedTask = task
	ac.InstanceName = instance
	return pass()
}
