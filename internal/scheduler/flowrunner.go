package scheduler

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/maxthelion/octopoid/internal/flow"
	"github.com/maxthelion/octopoid/internal/log"
	"github.com/maxthelion/octopoid/internal/types"
	"github.com/maxthelion/octopoid/internal/worktree"
)

// findTransition returns f's transition whose From matches the task's
// current queue, if any. A flow declares at most one outgoing edge per
// state in this model, so the first match is the only one that matters.
func findTransition(f *types.Flow, from types.Queue) (types.Transition, bool) {
	if f == nil {
		return types.Transition{}, false
	}
	for _, t := range f.Transitions {
		if t.From == from {
			return t, true
		}
	}
	return types.Transition{}, false
}

// processProvisional runs every provisional task carrying a flow through
// its matching transition: conditions gate the move, and on success its
// runs (push_branch, run_tests, create_pr, ...) fire in order. Dispatching
// a reviewer agent for an unmet `agent` condition is not a separate step
// here — it falls out of the reviewer blueprint's own claim_task guard
// pointed at the provisional queue.
func (s *Scheduler) processProvisional(ctx context.Context, tasks []*types.Task) {
	logger := log.WithComponent("scheduler")

	for _, task := range tasks {
		if task.FlowName == "" {
			continue
		}
		def := s.flows[task.FlowName]
		transition, ok := findTransition(def, task.Queue)
		if !ok {
			continue
		}

		wt := worktree.Path(s.cfg.DataDir, task.ID)
		eval, err := s.flowEngine.Evaluate(ctx, transition, task, wt)
		if err != nil {
			logger.Error().Err(err).Str("task_id", task.ID).Msg("flow evaluation failed")
			continue
		}

		switch eval.Outcome {
		case flow.Advance:
			if _, err := s.client.Accept(ctx, task.ID, task.Version, "flow-engine"); err != nil {
				logger.Error().Err(err).Str("task_id", task.ID).Msg("flow-driven accept failed")
			}
		case flow.Block:
			logger.Debug().Str("task_id", task.ID).Str("reason", eval.Reason).Msg("flow transition blocked")
		case flow.FailTo:
			s.applyFlowFailure(ctx, logger, task, eval)
		}
	}
}

func (s *Scheduler) applyFlowFailure(ctx context.Context, logger zerolog.Logger, task *types.Task, eval flow.Evaluation) {
	switch eval.FailToQueue {
	case types.QueueFailed:
		if _, err := s.client.Fail(ctx, task.ID, task.Version, "flow-engine", eval.Reason); err != nil {
			logger.Error().Err(err).Str("task_id", task.ID).Msg("flow-driven fail failed")
		}
	case types.QueueIncoming, "":
		if _, err := s.client.Reject(ctx, task.ID, task.Version, "flow-engine", eval.Reason); err != nil {
			logger.Error().Err(err).Str("task_id", task.ID).Msg("flow-driven reject failed")
		}
	default:
		logger.Warn().Str("task_id", task.ID).Str("fail_to", string(eval.FailToQueue)).
			Msg("flow requested a destination queue the scheduler doesn't know how to reach directly")
	}
}
