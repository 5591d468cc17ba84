// Package config loads the YAML documents an orchestrator reads off disk:
// its own config.yaml, the agents.yaml blueprint catalog, per-blueprint
// agent.yaml overrides, and flows/*.yaml flow definitions. Loading is
// plain os.ReadFile followed by yaml.Unmarshal, with no schema validation
// library.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maxthelion/octopoid/internal/types"
)

// OrchestratorConfig is the top-level config.yaml for one orchestrator
// process.
type OrchestratorConfig struct {
	Cluster        string        `yaml:"cluster"`
	ServerURL      string        `yaml:"server_url"`
	DataDir        string        `yaml:"data_dir"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	HeartbeatEvery time.Duration `yaml:"heartbeat_every"`
	RepoURL        string        `yaml:"repo_url"`
	RepoPath       string        `yaml:"repo_path"`

	// MaxClaimed is the system-wide limit the backpressure guard enforces
	// across every claimable blueprint. MaxOpenPRs is parsed but no guard
	// checks it. Zero means unlimited.
	MaxClaimed int `yaml:"max_claimed,omitempty"`
	MaxOpenPRs int `yaml:"max_open_prs,omitempty"`
}

// BlueprintConfig describes one agent blueprint entry in agents.yaml.
type BlueprintConfig struct {
	Name          string            `yaml:"name"`
	Role          string            `yaml:"role"`
	SpawnStrategy string            `yaml:"spawn_strategy"` // implementer | lightweight | worktree
	Command       []string          `yaml:"command"`
	MaxInstances  int               `yaml:"max_instances"`
	MinIntervalMS int               `yaml:"min_interval_ms"`
	PreCheck      []string          `yaml:"pre_check,omitempty"`
	Env           map[string]string `yaml:"env,omitempty"`
	Claimable     bool              `yaml:"claimable"`
	RoleFilter    string            `yaml:"role_filter,omitempty"`
	// Paused gates the "enabled" guard: a paused blueprint is skipped every
	// tick without touching its other guards.
	Paused bool `yaml:"paused,omitempty"`
	// ClaimQueue is the queue claim_task claims from; defaults to
	// "incoming" for implementer-style blueprints. Reviewer/gatekeeper
	// blueprints set this to "provisional" to claim work the flow
	// engine's agent conditions are waiting on.
	ClaimQueue string `yaml:"claim_queue,omitempty"`
	// AgentDir points at this blueprint's template directory
	// (".octopoid/agents/<type>/"), holding prompt.md, instructions.md
	// and a scripts/ directory. Blueprints with no worktree (lightweight)
	// leave this empty.
	AgentDir string `yaml:"agent_dir,omitempty"`
}

// AgentsCatalog is the parsed agents.yaml.
type AgentsCatalog struct {
	Blueprints []BlueprintConfig `yaml:"blueprints"`
}

// LoadOrchestratorConfig reads and parses config.yaml.
func LoadOrchestratorConfig(path string) (*OrchestratorConfig, error) {
	var cfg OrchestratorConfig
	if err := readYAML(path, &cfg); err != nil {
		return nil, fmt.Errorf("load orchestrator config: %w", err)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.HeartbeatEvery == 0 {
		cfg.HeartbeatEvery = 15 * time.Second
	}
	return &cfg, nil
}

// LoadAgentsCatalog reads and parses agents.yaml.
func LoadAgentsCatalog(path string) (*AgentsCatalog, error) {
	var cat AgentsCatalog
	if err := readYAML(path, &cat); err != nil {
		return nil, fmt.Errorf("load agents catalog: %w", err)
	}
	return &cat, nil
}

// LoadFlow reads one flows/*.yaml document into a types.Flow.
func LoadFlow(path string) (*types.Flow, error) {
	var flow types.Flow
	if err := readYAML(path, &flow); err != nil {
		return nil, fmt.Errorf("load flow %s: %w", path, err)
	}
	return &flow, nil
}

// LoadFlowsDir loads every *.yaml file directly under dir.
func LoadFlowsDir(dir string) ([]*types.Flow, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read flows dir: %w", err)
	}

	var flows []*types.Flow
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		flow, err := LoadFlow(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		flows = append(flows, flow)
	}
	return flows, nil
}

func readYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
