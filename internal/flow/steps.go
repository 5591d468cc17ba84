package flow

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/maxthelion/octopoid/internal/types"
)

// defaultSteps wires the minimum step registry a flow transition can name.
// Each shells out (git, gh) rather than linking a REST client, avoiding a
// dependency nothing else in this codebase needs for this concern.
func defaultSteps() map[string]Step {
	return map[string]Step{
		"push_branch":        pushBranch,
		"run_tests":          runTests,
		"create_pr":          createPR,
		"merge_pr":           mergePR,
		"post_review_comment": postReviewComment,
	}
}

func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func runGH(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func pushBranch(ctx context.Context, task *types.Task, worktreePath string) StepResult {
	if worktreePath == "" {
		return StepResult{OK: false, Detail: "no worktree to push"}
	}
	out, err := runGit(ctx, worktreePath, "push", "--force-with-lease", "origin", "HEAD:"+task.Branch)
	if err != nil {
		return StepResult{OK: false, Detail: strings.TrimSpace(out), Err: err}
	}
	return StepResult{OK: true, Detail: strings.TrimSpace(out)}
}

func runTests(ctx context.Context, task *types.Task, worktreePath string) StepResult {
	cmd := exec.CommandContext(ctx, "make", "test")
	cmd.Dir = worktreePath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return StepResult{OK: false, Detail: strings.TrimSpace(string(out)), Err: err}
	}
	return StepResult{OK: true, Detail: strings.TrimSpace(string(out))}
}

func createPR(ctx context.Context, task *types.Task, worktreePath string) StepResult {
	title := task.Title
	if title == "" {
		title = task.ID
	}
	out, err := runGH(ctx, worktreePath, "pr", "create",
		"--head", task.Branch,
		"--title", title,
		"--body", fmt.Sprintf("Automated submission for task %s.", task.ID),
	)
	if err != nil {
		if strings.Contains(out, "already exists") {
			return StepResult{OK: true, Detail: "pr already exists"}
		}
		return StepResult{OK: false, Detail: strings.TrimSpace(out), Err: err}
	}
	return StepResult{OK: true, Detail: strings.TrimSpace(out)}
}

func mergePR(ctx context.Context, task *types.Task, worktreePath string) StepResult {
	out, err := runGH(ctx, worktreePath, "pr", "merge", task.Branch, "--squash", "--delete-branch")
	if err != nil {
		return StepResult{OK: false, Detail: strings.TrimSpace(out), Err: err}
	}
	return StepResult{OK: true, Detail: strings.TrimSpace(out)}
}

func postReviewComment(ctx context.Context, task *types.Task, worktreePath string) StepResult {
	out, err := runGH(ctx, worktreePath, "pr", "comment", task.Branch, "--body", "Review complete.")
	if err != nil {
		return StepResult{OK: false, Detail: strings.TrimSpace(out), Err: err}
	}
	return StepResult{OK: true, Detail: strings.TrimSpace(out)}
}
