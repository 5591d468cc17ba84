package scheduler

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/maxthelion/octopoid/internal/config"
	"github.com/maxthelion/octopoid/internal/log"
	"github.com/maxthelion/octopoid/internal/metrics"
	"github.com/maxthelion/octopoid/internal/pool"
	"github.com/maxthelion/octopoid/internal/result"
	"github.com/maxthelion/octopoid/internal/types"
	"github.com/maxthelion/octopoid/internal/worktree"
)

// instanceWorkdir derives an instance's working directory from the spawn
// convention its blueprint used: the implementer strategy keys its
// worktree by task id, the worktree strategy shares one path per
// blueprint, and lightweight runs live in a per-instance run directory.
// Collection needs no separate lookup table because spawn and collection
// share this same convention.
func instanceWorkdir(dataDir string, bp config.BlueprintConfig, entry types.PoolEntry) string {
	switch bp.SpawnStrategy {
	case "implementer":
		if entry.TaskID != "" {
			return worktree.Path(dataDir, entry.TaskID)
		}
		return filepath.Join(dataDir, "runs", entry.Instance)
	case "worktree":
		return filepath.Join(dataDir, "worktrees", "shared-"+bp.Name)
	default: // lightweight
		return filepath.Join(dataDir, "runs", entry.Instance)
	}
}

// collectBlueprint reaps finished instances for one blueprint: every
// tracked entry whose pid has died gets its result read and applied, then
// its pool entry removed so it can never be double-collected.
func (s *Scheduler) collectBlueprint(ctx context.Context, bp config.BlueprintConfig, tracker *pool.Tracker) {
	logger := log.WithComponent("scheduler").With().Str("blueprint", bp.Name).Logger()

	dead, err := tracker.Finished()
	if err != nil {
		logger.Error().Err(err).Msg("list finished instances failed")
		return
	}

	for _, entry := range dead {
		workdir := instanceWorkdir(s.cfg.DataDir, bp, entry)
		res, err := result.Read(workdir)
		switch {
		case err == nil:
			// fall through: res is the agent's reported outcome
		case errors.Is(err, result.ErrMissing):
			res = &types.Result{Outcome: types.OutcomeFailed, Reason: "no result"}
		default:
			logger.Error().Err(err).Str("instance", entry.Instance).Msg("read result artifact failed")
			continue
		}

		s.applyResult(ctx, logger, entry, *res)

		if err := tracker.Remove(entry.Instance); err != nil {
			logger.Error().Err(err).Str("instance", entry.Instance).Msg("remove pool entry failed")
		}
	}
}

// applyResult transitions entry's task according to res.Outcome. A task
// that is no longer claimed — the lease expired mid-run and another
// orchestrator may already hold it — is discarded rather than transitioned,
// since the server has already moved on without this result.
func (s *Scheduler) applyResult(ctx context.Context, logger zerolog.Logger, entry types.PoolEntry, res types.Result) {
	if entry.TaskID == "" {
		return // lightweight instance: no claimed task to transition
	}

	task, err := s.client.GetTask(ctx, entry.TaskID)
	if err != nil {
		logger.Error().Err(err).Str("task_id", entry.TaskID).Msg("fetch task for result collection failed")
		return
	}
	if task.Queue != types.QueueClaimed || task.ClaimedBy != entry.Instance {
		logger.Warn().Str("task_id", entry.TaskID).Str("queue", string(task.Queue)).
			Msg("discarding stale result: task no longer held by this instance")
		metrics.ResultCollectionTotal.WithLabelValues("discarded").Inc()
		return
	}

	switch res.Outcome {
	case types.OutcomeDone:
		if _, err := s.client.Submit(ctx, task.ID, task.Version, entry.Instance, res); err != nil {
			logger.Error().Err(err).Str("task_id", task.ID).Msg("submit failed")
			metrics.ResultCollectionTotal.WithLabelValues("submit_error").Inc()
			return
		}
		metrics.ResultCollectionTotal.WithLabelValues("done").Inc()

	case types.OutcomeNeedsContinuation:
		s.requeueForContinuation(ctx, logger, task, entry, res)

	default: // failed, or any value the agent reported that we don't recognize
		reason := res.Reason
		if reason == "" {
			reason = "agent reported failure"
		}
		if _, err := s.client.Fail(ctx, task.ID, task.Version, entry.Instance, reason); err != nil {
			logger.Error().Err(err).Str("task_id", task.ID).Msg("fail transition failed")
			metrics.ResultCollectionTotal.WithLabelValues("fail_error").Inc()
			return
		}
		metrics.ResultCollectionTotal.WithLabelValues("failed").Inc()
	}
}

// requeueForContinuation moves a task reporting needs_continuation back to
// incoming with a note. The state machine exposes no direct claimed ->
// incoming edge; requeue only applies from failed, so this composes the
// two existing transitions rather than adding a new one: fail with the
// continuation note, then requeue. If the requeue step does not happen
// (an error or a crash between the two), the task stays in failed: a
// later tick discards the result for a task no longer in claimed and does
// not requeue it.
func (s *Scheduler) requeueForContinuation(ctx context.Context, logger zerolog.Logger, task *types.Task, entry types.PoolEntry, res types.Result) {
	note := res.Reason
	if note == "" {
		note = "needs continuation"
	}
	failed, err := s.client.Fail(ctx, task.ID, task.Version, entry.Instance, note)
	if err != nil {
		logger.Error().Err(err).Str("task_id", task.ID).Msg("fail-for-continuation failed")
		metrics.ResultCollectionTotal.WithLabelValues("continuation_error").Inc()
		return
	}
	if _, err := s.client.Requeue(ctx, failed.ID, failed.Version, entry.Instance); err != nil {
		logger.Error().Err(err).Str("task_id", task.ID).Msg("requeue-for-continuation failed")
		metrics.ResultCollectionTotal.WithLabelValues("continuation_error").Inc()
		return
	}
	metrics.ResultCollectionTotal.WithLabelValues("needs_continuation").Inc()
}
