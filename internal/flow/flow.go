// Package flow evaluates declarative flow definitions: ordered conditions
// gate a transition, and on success its runs execute in order. Conditions
// and steps are both pluggable so adding one is purely additive (spec
// §4.3) — the engine itself carries no domain knowledge of what a step
// does.
package flow

import (
	"context"
	"fmt"

	"github.com/maxthelion/octopoid/internal/procguard"
	"github.com/maxthelion/octopoid/internal/store"
	"github.com/maxthelion/octopoid/internal/types"
)

// Outcome is the engine's verdict on one transition attempt.
type Outcome int

const (
	Advance Outcome = iota
	Block
	FailTo
)

// Evaluation is the result of Engine.Evaluate: Outcome plus, for FailTo,
// the destination queue.
type Evaluation struct {
	Outcome     Outcome
	FailToQueue types.Queue
	RunResults  []StepResult
	Reason      string
}

// Review decisions and manual approvals are recorded as messages against
// the task; these are the well-known message types the engine looks for.
const (
	MessageTypeReviewDecision = "review_decision"
	MessageTypeManualApproval = "manual_approval"
)

// Step is a named handler invoked when a transition's conditions all pass.
// It receives the task and the worktree path (blueprint-dependent; empty
// for lightweight spawns) and reports success/failure plus metadata to
// persist.
type Step func(ctx context.Context, task *types.Task, worktreePath string) StepResult

// StepResult is what a step reports back to the engine.
type StepResult struct {
	Name    string
	OK      bool
	Detail  string
	Err     error
}

// Engine evaluates transitions against a registered step table.
type Engine struct {
	store MessageReader
	regs  map[string]Step
}

// MessageReader is the narrow slice of Store the engine actually needs: it
// never writes, so callers on the orchestrator side (which only hold an
// HTTP sdkclient.Client, not a local Store) can satisfy it without pulling
// in the rest of the Store interface.
type MessageReader interface {
	ListMessages(taskID string) ([]*types.Message, error)
}

func New(s store.Store) *Engine {
	return &Engine{store: s, regs: defaultSteps()}
}

// NewWithReader builds an Engine against any MessageReader, used by the
// orchestrator scheduler (which talks to the server over HTTP, not a local
// Store) to run the same condition/step evaluation the server-side tests
// exercise against a BoltStore directly.
func NewWithReader(r MessageReader) *Engine {
	return &Engine{store: r, regs: defaultSteps()}
}

// RegisterStep adds or overrides a named step handler.
func (e *Engine) RegisterStep(name string, step Step) {
	e.regs[name] = step
}

// Evaluate runs transition.Conditions in order against task, then — if all
// are satisfied — transition.Runs in order.
func (e *Engine) Evaluate(ctx context.Context, transition types.Transition, task *types.Task, worktreePath string) (Evaluation, error) {
	for _, cond := range transition.Conditions {
		satisfied, err := e.evaluateCondition(ctx, cond, task, worktreePath)
		if err != nil {
			return Evaluation{}, fmt.Errorf("evaluate condition %s: %w", cond.Type, err)
		}
		if !satisfied {
			if cond.OnFail != "" {
				return Evaluation{Outcome: FailTo, FailToQueue: cond.OnFail, Reason: fmt.Sprintf("condition %s not satisfied", cond.Type)}, nil
			}
			return Evaluation{Outcome: Block, Reason: fmt.Sprintf("condition %s not satisfied", cond.Type)}, nil
		}
	}

	var results []StepResult
	for _, name := range transition.Runs {
		step, ok := e.regs[name]
		if !ok {
			return Evaluation{Outcome: FailTo, FailToQueue: types.QueueFailed, Reason: fmt.Sprintf("unknown step %q", name)}, nil
		}
		res := step(ctx, task, worktreePath)
		res.Name = name
		results = append(results, res)
		if !res.OK {
			return Evaluation{Outcome: FailTo, FailToQueue: types.QueueFailed, RunResults: results, Reason: fmt.Sprintf("step %s failed: %s", name, res.Detail)}, nil
		}
	}

	return Evaluation{Outcome: Advance, RunResults: results}, nil
}

func (e *Engine) evaluateCondition(ctx context.Context, cond types.Condition, task *types.Task, worktreePath string) (bool, error) {
	switch cond.Type {
	case types.ConditionScript:
		checker := procguard.Checker{Command: cond.Command, Dir: worktreePath, Timeout: cond.Timeout}
		result := checker.Run(ctx)
		return result.Passed, nil

	case types.ConditionAgent:
		decision, found, err := e.latestDecision(task.ID, cond.Role, MessageTypeReviewDecision)
		if err != nil {
			return false, err
		}
		if !found {
			return false, nil // no decision yet: caller treats unsatisfied + no on_fail as block
		}
		return decision == string(types.DecisionApprove), nil

	case types.ConditionManual:
		_, found, err := e.latestDecision(task.ID, "", MessageTypeManualApproval)
		if err != nil {
			return false, err
		}
		return found, nil

	default:
		return false, fmt.Errorf("unknown condition type %q", cond.Type)
	}
}

// latestDecision scans the task's messages for the most recent one matching
// msgType (and role, if non-empty, encoded as the message's From field).
func (e *Engine) latestDecision(taskID, role, msgType string) (content string, found bool, err error) {
	msgs, err := e.store.ListMessages(taskID)
	if err != nil {
		return "", false, err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Type != msgType {
			continue
		}
		if role != "" && m.From != role {
			continue
		}
		return m.Content, true, nil
	}
	return "", false, nil
}
