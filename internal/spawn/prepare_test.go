package spawn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/maxthelion/octopoid/internal/config"
	"github.com/maxthelion/octopoid/internal/types"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestRenderPromptSubstitutesTaskFields(t *testing.T) {
	agentDir := t.TempDir()
	writeFile(t, filepath.Join(agentDir, "prompt.md"), "Task {{.ID}}: {{.Title}}\n\n{{.Content}}\n\n{{.Instructions}}")
	writeFile(t, filepath.Join(agentDir, "instructions.md"), "follow house style")

	workdir := t.TempDir()
	task := &types.Task{ID: "T1", Title: "fix bug", Role: "implement", Branch: "main"}

	err := renderPrompt(agentDir, workdir, task, "do the thing")
	require.NoError(t, err)

	out, err := os.ReadFile(filepath.Join(workdir, "prompt.md"))
	require.NoError(t, err)
	require.Contains(t, string(out), "Task T1: fix bug")
	require.Contains(t, string(out), "do the thing")
	require.Contains(t, string(out), "follow house style")
}

func TestRenderPromptNoopWithoutAgentDir(t *testing.T) {
	workdir := t.TempDir()
	require.NoError(t, renderPrompt("", workdir, &types.Task{ID: "T1"}, ""))
	_, err := os.Stat(filepath.Join(workdir, "prompt.md"))
	require.True(t, os.IsNotExist(err))
}

func TestCopyScriptsPreservesExecutableBit(t *testing.T) {
	agentDir := t.TempDir()
	scriptPath := filepath.Join(agentDir, "scripts", "run-tests")
	writeFile(t, scriptPath, "#!/bin/sh\necho ok\n")
	require.NoError(t, os.Chmod(scriptPath, 0755))

	workdir := t.TempDir()
	require.NoError(t, copyScripts(agentDir, workdir))

	copied := filepath.Join(workdir, "scripts", "run-tests")
	info, err := os.Stat(copied)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestReadTaskContentMissingFileReturnsEmpty(t *testing.T) {
	require.Equal(t, "", readTaskContent(t.TempDir(), "T1"))
}

func TestReadTaskContentReadsMarkdownFile(t *testing.T) {
	repo := t.TempDir()
	writeFile(t, filepath.Join(repo, ".octopoid", "tasks", "T1.md"), "# fix the bug\n")
	require.Equal(t, "# fix the bug\n", readTaskContent(repo, "T1"))
}

func TestWriteEnvFileContainsSpecNamedVars(t *testing.T) {
	workdir := t.TempDir()
	req := Request{
		Blueprint:      config.BlueprintConfig{Name: "implement"},
		Task:           &types.Task{ID: "T1", Role: "implement"},
		Instance:       "implement-abc123",
		OrchestratorID: "cluster-machine1",
		ServerURL:      "http://localhost:8080",
	}

	require.NoError(t, writeEnvFile(req, workdir))

	out, err := os.ReadFile(filepath.Join(workdir, "env.sh"))
	require.NoError(t, err)
	content := string(out)
	require.Contains(t, content, "export TASK_ID='T1'")
	require.Contains(t, content, "export AGENT_NAME='implement-abc123'")
	require.Contains(t, content, "export AGENT_ROLE='implement'")
	require.Contains(t, content, "export ORCHESTRATOR_ID='cluster-machine1'")
	require.Contains(t, content, "export SERVER_URL='http://localhost:8080'")
	require.Contains(t, content, "export WORKTREE='"+workdir+"'")
}

func TestWriteTaskSnapshotWritesJSON(t *testing.T) {
	workdir := t.TempDir()
	require.NoError(t, writeTaskSnapshot(&types.Task{ID: "T1", Title: "fix it"}, workdir))

	out, err := os.ReadFile(filepath.Join(workdir, "task.json"))
	require.NoError(t, err)
	require.Contains(t, string(out), `"id": "T1"`)
}

func TestWriteTaskSnapshotNoopWithoutTask(t *testing.T) {
	workdir := t.TempDir()
	require.NoError(t, writeTaskSnapshot(nil, workdir))
	_, err := os.Stat(filepath.Join(workdir, "task.json"))
	require.True(t, os.IsNotExist(err))
}
