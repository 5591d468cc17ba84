package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadOrchestratorConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cluster: cluster-a\nserver_url: http://localhost:8080\n"), 0600))

	cfg, err := LoadOrchestratorConfig(path)
	require.NoError(t, err)
	require.Equal(t, "cluster-a", cfg.Cluster)
	require.NotZero(t, cfg.PollInterval)
	require.NotZero(t, cfg.HeartbeatEvery)
}

func TestLoadAgentsCatalog(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agents.yaml")
	doc := `
blueprints:
  - name: implementer
    role: implement
    spawn_strategy: implementer
    command: ["claude", "code"]
    max_instances: 2
    claimable: true
    role_filter: implement
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))

	cat, err := LoadAgentsCatalog(path)
	require.NoError(t, err)
	require.Len(t, cat.Blueprints, 1)
	require.Equal(t, "implementer", cat.Blueprints[0].Name)
	require.Equal(t, 2, cat.Blueprints[0].MaxInstances)
}

func TestLoadFlowsDirSkipsNonYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.yaml"), []byte("name: default\ncluster: cluster-a\nstates: [incoming, done]\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignore me"), 0600))

	flows, err := LoadFlowsDir(dir)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	require.Equal(t, "default", flows[0].Name)
}

func TestLoadFlowsDirMissingIsEmpty(t *testing.T) {
	flows, err := LoadFlowsDir(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	require.Empty(t, flows)
}
