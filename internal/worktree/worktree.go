// Package worktree is a thin shell over `git worktree`, used by the
// implementer and worktree spawn strategies to give each running agent an
// isolated checkout.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Add creates a worktree at path, checked out at baseBranch with a new
// detached HEAD, so the agent's commits never collide with a branch
// another instance might also have checked out.
func Add(ctx context.Context, repoPath, path, baseBranch string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("worktree: create parent dir: %w", err)
	}

	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "--detach", path, baseBranch)
	cmd.Dir = repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("worktree: add %s: %w: %s", path, err, out)
	}
	return nil
}

// Remove tears down a worktree created by Add. force=true matches `git
// worktree remove --force`, used when the agent left uncommitted changes
// behind after a failure.
func Remove(ctx context.Context, repoPath, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("worktree: remove %s: %w: %s", path, err, out)
	}
	return nil
}

// Path builds the conventional worktree path for a task under the
// orchestrator's data dir.
func Path(dataDir, taskID string) string {
	return filepath.Join(dataDir, "worktrees", taskID)
}
