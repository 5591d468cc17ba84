package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxthelion/octopoid/internal/store"
	"github.com/maxthelion/octopoid/internal/types"
)

func newTestEngine(t *testing.T) (*Engine, store.Store) {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func TestEvaluateScriptConditionPass(t *testing.T) {
	e, _ := newTestEngine(t)
	transition := types.Transition{
		Conditions: []types.Condition{{Type: types.ConditionScript, Command: []string{"true"}}},
	}
	eval, err := e.Evaluate(context.Background(), transition, &types.Task{ID: "t1"}, "")
	require.NoError(t, err)
	require.Equal(t, Advance, eval.Outcome)
}

func TestEvaluateScriptConditionFailRoutesOnFail(t *testing.T) {
	e, _ := newTestEngine(t)
	transition := types.Transition{
		Conditions: []types.Condition{{Type: types.ConditionScript, Command: []string{"false"}, OnFail: types.Queue("rejected")}},
	}
	eval, err := e.Evaluate(context.Background(), transition, &types.Task{ID: "t1"}, "")
	require.NoError(t, err)
	require.Equal(t, FailTo, eval.Outcome)
	require.Equal(t, types.Queue("rejected"), eval.FailToQueue)
}

func TestEvaluateScriptConditionFailWithoutOnFailBlocks(t *testing.T) {
	e, _ := newTestEngine(t)
	transition := types.Transition{
		Conditions: []types.Condition{{Type: types.ConditionScript, Command: []string{"false"}}},
	}
	eval, err := e.Evaluate(context.Background(), transition, &types.Task{ID: "t1"}, "")
	require.NoError(t, err)
	require.Equal(t, Block, eval.Outcome)
}

func TestEvaluateAgentConditionBlocksWithoutDecision(t *testing.T) {
	e, _ := newTestEngine(t)
	transition := types.Transition{
		Conditions: []types.Condition{{Type: types.ConditionAgent, Role: "reviewer"}},
	}
	eval, err := e.Evaluate(context.Background(), transition, &types.Task{ID: "t1"}, "")
	require.NoError(t, err)
	require.Equal(t, Block, eval.Outcome)
}

func TestEvaluateAgentConditionAdvancesOnApproval(t *testing.T) {
	e, s := newTestEngine(t)
	require.NoError(t, s.CreateMessage(&types.Message{
		TaskID: "t1", From: "reviewer", Type: MessageTypeReviewDecision, Content: string(types.DecisionApprove),
	}))
	transition := types.Transition{
		Conditions: []types.Condition{{Type: types.ConditionAgent, Role: "reviewer"}},
	}
	eval, err := e.Evaluate(context.Background(), transition, &types.Task{ID: "t1"}, "")
	require.NoError(t, err)
	require.Equal(t, Advance, eval.Outcome)
}

func TestEvaluateAgentConditionRejectionWithOnFail(t *testing.T) {
	e, s := newTestEngine(t)
	require.NoError(t, s.CreateMessage(&types.Message{
		TaskID: "t1", From: "reviewer", Type: MessageTypeReviewDecision, Content: string(types.DecisionReject),
	}))
	transition := types.Transition{
		Conditions: []types.Condition{{Type: types.ConditionAgent, Role: "reviewer", OnFail: types.QueueIncoming}},
	}
	eval, err := e.Evaluate(context.Background(), transition, &types.Task{ID: "t1"}, "")
	require.NoError(t, err)
	require.Equal(t, FailTo, eval.Outcome)
	require.Equal(t, types.QueueIncoming, eval.FailToQueue)
}

func TestEvaluateManualConditionRequiresApprovalRecord(t *testing.T) {
	e, s := newTestEngine(t)
	transition := types.Transition{Conditions: []types.Condition{{Type: types.ConditionManual}}}

	eval, err := e.Evaluate(context.Background(), transition, &types.Task{ID: "t1"}, "")
	require.NoError(t, err)
	require.Equal(t, Block, eval.Outcome)

	require.NoError(t, s.CreateMessage(&types.Message{TaskID: "t1", Type: MessageTypeManualApproval, Content: "approved"}))
	eval, err = e.Evaluate(context.Background(), transition, &types.Task{ID: "t1"}, "")
	require.NoError(t, err)
	require.Equal(t, Advance, eval.Outcome)
}

func TestEvaluateUnknownStepFails(t *testing.T) {
	e, _ := newTestEngine(t)
	transition := types.Transition{Runs: []string{"nonexistent_step"}}
	eval, err := e.Evaluate(context.Background(), transition, &types.Task{ID: "t1"}, "")
	require.NoError(t, err)
	require.Equal(t, FailTo, eval.Outcome)
	require.Equal(t, types.QueueFailed, eval.FailToQueue)
}

func TestRegisterStepOverridesDefault(t *testing.T) {
	e, _ := newTestEngine(t)
	called := false
	e.RegisterStep("push_branch", func(ctx context.Context, task *types.Task, worktreePath string) StepResult {
		called = true
		return StepResult{OK: true}
	})
	transition := types.Transition{Runs: []string{"push_branch"}}
	eval, err := e.Evaluate(context.Background(), transition, &types.Task{ID: "t1"}, "")
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, Advance, eval.Outcome)
}
