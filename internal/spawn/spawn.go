// Package spawn launches agent subprocesses under one of three strategies
// and hands the running instance to a pool.Tracker: a long-lived manager
// that starts an OS-level unit of work and tracks it by name.
package spawn

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/maxthelion/octopoid/internal/config"
	"github.com/maxthelion/octopoid/internal/log"
	"github.com/maxthelion/octopoid/internal/pool"
	"github.com/maxthelion/octopoid/internal/result"
	"github.com/maxthelion/octopoid/internal/types"
	"github.com/maxthelion/octopoid/internal/worktree"
)

// Strategy names, as configured per blueprint in agents.yaml.
const (
	StrategyImplementer = "implementer"
	StrategyLightweight = "lightweight"
	StrategyWorktree    = "worktree"
)

// Request carries everything a strategy needs to launch one instance.
type Request struct {
	Blueprint      config.BlueprintConfig
	Task           *types.Task
	RepoPath       string
	DataDir        string
	Instance       string // unique name, e.g. "<blueprint>-<n>"
	OrchestratorID string
	ServerURL      string
	ExtraEnv       map[string]string
}

// Spawn launches an instance per req.Blueprint.SpawnStrategy, records it in
// tracker, and returns its working directory (the agent's result artifact
// is expected at <workdir>/result.json).
func Spawn(ctx context.Context, req Request, tracker *pool.Tracker) (workdir string, pid int, err error) {
	switch req.Blueprint.SpawnStrategy {
	case StrategyImplementer:
		workdir, pid, err = spawnImplementer(ctx, req)
	case StrategyLightweight:
		workdir, pid, err = spawnLightweight(ctx, req)
	case StrategyWorktree:
		workdir, pid, err = spawnSharedWorktree(ctx, req)
	default:
		return "", 0, fmt.Errorf("spawn: unknown strategy %q", req.Blueprint.SpawnStrategy)
	}
	if err != nil {
		return "", 0, err
	}

	if err := tracker.Add(types.PoolEntry{
		Instance:  req.Instance,
		PID:       pid,
		TaskID:    taskID(req.Task),
		StartedAt: time.Now(),
	}); err != nil {
		return "", 0, fmt.Errorf("spawn: record pool entry: %w", err)
	}

	return workdir, pid, nil
}

func taskID(t *types.Task) string {
	if t == nil {
		return ""
	}
	return t.ID
}

// spawnImplementer gives a task-specific git worktree with a detached
// HEAD, so concurrent implementer instances never share a branch
// checkout.
func spawnImplementer(ctx context.Context, req Request) (string, int, error) {
	if req.Task == nil {
		return "", 0, fmt.Errorf("spawn: implementer strategy requires a claimed task")
	}
	wt := worktree.Path(req.DataDir, req.Task.ID)
	base := req.Task.Branch
	if base == "" {
		base = "main"
	}
	if err := worktree.Add(ctx, req.RepoPath, wt, base); err != nil {
		return "", 0, err
	}
	if err := prepareWorkdir(req, wt); err != nil {
		return "", 0, err
	}
	return launch(ctx, req, wt)
}

// spawnLightweight runs directly in the shared repo checkout, no worktree
// isolation — for blueprints (e.g. a poller or a triage agent) that don't
// touch the working tree.
func spawnLightweight(ctx context.Context, req Request) (string, int, error) {
	workdir := filepath.Join(req.DataDir, "runs", req.Instance)
	if err := os.MkdirAll(workdir, 0755); err != nil {
		return "", 0, fmt.Errorf("spawn: create rundir: %w", err)
	}
	if err := result.Clear(workdir); err != nil {
		return "", 0, err
	}
	// Lightweight instances run directly in the shared checkout with no
	// worktree of their own: no prompt is rendered, but env.sh, the log
	// and the result artifact still live in this per-instance run dir.
	if err := writeEnvFile(req, workdir); err != nil {
		return "", 0, err
	}
	return launch(ctx, req, workdir)
}

// spawnSharedWorktree reuses one worktree per blueprint (not per task),
// for general-purpose or reviewer agents that read across several tasks in
// one pass rather than isolating a single branch.
func spawnSharedWorktree(ctx context.Context, req Request) (string, int, error) {
	wt := filepath.Join(req.DataDir, "worktrees", "shared-"+req.Blueprint.Name)
	if _, err := os.Stat(wt); os.IsNotExist(err) {
		if err := worktree.Add(ctx, req.RepoPath, wt, "main"); err != nil {
			return "", 0, err
		}
	}
	if err := prepareWorkdir(req, wt); err != nil {
		return "", 0, err
	}
	return launch(ctx, req, wt)
}

// launch execs the blueprint's command detached from the orchestrator
// process group, so it survives a scheduler tick ending (or the
// orchestrator itself restarting) and is only ever observed again via its
// pid and result artifact.
func launch(ctx context.Context, req Request, workdir string) (string, int, error) {
	if len(req.Blueprint.Command) == 0 {
		return "", 0, fmt.Errorf("spawn: blueprint %s has no command", req.Blueprint.Name)
	}

	cmd := exec.Command(req.Blueprint.Command[0], req.Blueprint.Command[1:]...)
	cmd.Dir = workdir
	if req.Blueprint.SpawnStrategy == StrategyLightweight && req.RepoPath != "" {
		cmd.Dir = req.RepoPath
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Env = buildEnv(req, workdir)

	logPath := filepath.Join(workdir, "agent.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", 0, fmt.Errorf("spawn: open log file: %w", err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return "", 0, fmt.Errorf("spawn: start %s: %w", req.Blueprint.Command[0], err)
	}

	pid := cmd.Process.Pid
	go func() {
		defer logFile.Close()
		_ = cmd.Wait()
		log.WithBlueprint(req.Blueprint.Name).Debug().Int("pid", pid).Msg("spawned process exited")
	}()

	return workdir, pid, nil
}

// buildEnv assembles the environment handed to an agent subprocess: the
// fixed identity and connectivity variables every agent can rely on, plus
// the result-path convention spawn/collect share internally.
func buildEnv(req Request, workdir string) []string {
	env := os.Environ()
	env = append(env,
		"AGENT_NAME="+req.Instance,
		"ORCHESTRATOR_ID="+req.OrchestratorID,
		"SERVER_URL="+req.ServerURL,
		"WORKTREE="+workdir,
		"OCTOPOID_RESULT_PATH="+filepath.Join(workdir, "result.json"),
	)
	if req.Task != nil {
		env = append(env, "TASK_ID="+req.Task.ID, "AGENT_ROLE="+req.Task.Role)
	} else {
		env = append(env, "AGENT_ROLE="+req.Blueprint.Role)
	}
	for k, v := range req.Blueprint.Env {
		env = append(env, k+"="+v)
	}
	for k, v := range req.ExtraEnv {
		env = append(env, k+"="+v)
	}
	return env
}
