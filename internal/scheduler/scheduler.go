// Package scheduler drives one orchestrator's tick: housekeeping, a guard
// chain per agent blueprint, and spawning. Each tick is a timer-driven
// reconciliation cycle guarded by a file lock, with every housekeeping job
// and blueprint evaluation independently fault-tolerant: a failure in one
// never blocks the rest.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/maxthelion/octopoid/internal/config"
	"github.com/maxthelion/octopoid/internal/flow"
	"github.com/maxthelion/octopoid/internal/lockfile"
	"github.com/maxthelion/octopoid/internal/log"
	"github.com/maxthelion/octopoid/internal/metrics"
	"github.com/maxthelion/octopoid/internal/pool"
	"github.com/maxthelion/octopoid/internal/sdkclient"
	"github.com/maxthelion/octopoid/internal/spawn"
	"github.com/maxthelion/octopoid/internal/types"
)

// Scheduler runs one orchestrator process's tick loop against a server
// reachable only over HTTP (internal/sdkclient), never touching a local
// Store directly — that boundary is what lets the same flow engine run
// here and in the server's own tests (internal/flow.MessageReader).
type Scheduler struct {
	client         *sdkclient.Client
	cfg            config.OrchestratorConfig
	blueprints     []config.BlueprintConfig
	flows          map[string]*types.Flow
	flowEngine     *flow.Engine
	orchestratorID string

	state    *stateStore
	trackers map[string]*pool.Tracker

	mu     sync.Mutex
	stopCh chan struct{}
}

// New builds a Scheduler from its loaded config documents. client and cfg
// are required; blueprints and flows may be empty for a server-only
// deployment that never spawns agents.
func New(client *sdkclient.Client, cfg config.OrchestratorConfig, blueprints []config.BlueprintConfig, flows []*types.Flow) (*Scheduler, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("scheduler: data_dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("scheduler: create data dir: %w", err)
	}

	st, err := newStateStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("scheduler: init state store: %w", err)
	}

	trackers := make(map[string]*pool.Tracker, len(blueprints))
	for _, bp := range blueprints {
		t, err := pool.NewTracker(cfg.DataDir, bp.Name)
		if err != nil {
			return nil, fmt.Errorf("scheduler: init pool tracker for %s: %w", bp.Name, err)
		}
		trackers[bp.Name] = t
	}

	flowsByName := make(map[string]*types.Flow, len(flows))
	for _, f := range flows {
		flowsByName[f.Name] = f
	}

	hostname, _ := os.Hostname()
	orchestratorID := cfg.Cluster + "-" + hostname

	return &Scheduler{
		client:         client,
		cfg:            cfg,
		blueprints:     blueprints,
		flows:          flowsByName,
		flowEngine:     flow.NewWithReader(client),
		orchestratorID: orchestratorID,
		state:          st,
		trackers:       trackers,
	}, nil
}

// lockPath is the well-known path serializing concurrent ticks on one
// machine. Acquisition is non-blocking: failure to acquire returns
// immediately rather than waiting.
func (s *Scheduler) lockPath() string {
	return filepath.Join(s.cfg.DataDir, "scheduler.lock")
}

// Start runs the tick loop on its own goroutine every cfg.PollInterval
// until Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.stopCh = make(chan struct{})
	stop := s.stopCh
	s.mu.Unlock()

	logger := log.WithComponent("scheduler")
	if err := s.register(ctx); err != nil {
		logger.Error().Err(err).Msg("initial orchestrator registration failed")
	}

	go func() {
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-stop:
				logger.Info().Msg("scheduler stopped")
				return
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		close(s.stopCh)
	}
}

func (s *Scheduler) register(ctx context.Context) error {
	hostname, _ := os.Hostname()
	return s.client.Register(ctx, types.Orchestrator{
		ID:        s.orchestratorID,
		Cluster:   s.cfg.Cluster,
		MachineID: hostname,
		RepoURL:   s.cfg.RepoURL,
	})
}

// Tick runs one full cycle: Phase A housekeeping, Phase B guard evaluation
// per blueprint, Phase C spawn. It never blocks on agent completion — every
// suspension point is network or filesystem I/O, and spawning a subprocess
// is fire-and-forget with pid capture.
func (s *Scheduler) Tick(ctx context.Context) {
	logger := log.WithComponent("scheduler")

	lock, err := lockfile.TryLock(s.lockPath())
	if err != nil {
		logger.Debug().Err(err).Msg("tick skipped: another tick holds the lock")
		return
	}
	defer lock.Unlock()

	timer := metrics.NewTimer(metrics.SchedulerTickDuration)
	defer timer.ObserveWithLabels(s.cfg.Cluster)

	poll := s.phaseA(ctx, logger)
	s.phaseBC(ctx, logger, poll)
}

// phaseA runs housekeeping as a fixed ordered list of independently
// fault-tolerant jobs: a failure in one never prevents the next. It
// returns the scheduler-poll snapshot Phase B's backpressure guard needs,
// or nil if the snapshot itself could not be fetched.
func (s *Scheduler) phaseA(ctx context.Context, logger zerolog.Logger) *sdkclient.PollResponse {
	if err := s.client.Heartbeat(ctx, s.orchestratorID); err != nil {
		logger.Warn().Err(err).Msg("heartbeat failed")
	}

	for _, bp := range s.blueprints {
		if tracker, ok := s.trackers[bp.Name]; ok {
			s.collectBlueprint(ctx, bp, tracker)
			if count, err := tracker.Count(); err == nil {
				metrics.PoolInstances.WithLabelValues(bp.Name).Set(float64(count))
			}
		}
	}

	poll, err := s.client.Poll(ctx, s.cfg.Cluster)
	if err != nil {
		logger.Warn().Err(err).Msg("scheduler poll snapshot failed")
		return nil
	}

	s.processProvisional(ctx, poll.Provisional)
	return poll
}

// phaseBC evaluates every blueprint's guard chain in declaration order and
// spawns the ones that pass. Dead PIDs were already reaped in Phase A, so
// a blueprint can free its own capacity within the same tick.
func (s *Scheduler) phaseBC(ctx context.Context, logger zerolog.Logger, poll *sdkclient.PollResponse) {
	for _, bp := range s.blueprints {
		bpLogger := logger.With().Str("blueprint", bp.Name).Logger()

		lock, err := lockfile.TryLock(filepath.Join(s.cfg.DataDir, "agents", bp.Name, "scheduler.lock"))
		if err != nil {
			bpLogger.Debug().Msg("blueprint evaluation skipped: locked by a concurrent tick")
			continue
		}

		s.evaluateBlueprint(ctx, bpLogger, bp, poll)
		lock.Unlock()
	}
}

func (s *Scheduler) evaluateBlueprint(ctx context.Context, logger zerolog.Logger, bp config.BlueprintConfig, poll *sdkclient.PollResponse) {
	tracker, ok := s.trackers[bp.Name]
	if !ok {
		logger.Error().Msg("no pool tracker registered for blueprint")
		return
	}
	count, err := tracker.Count()
	if err != nil {
		logger.Error().Err(err).Msg("read pool count failed")
		return
	}

	state, err := s.state.Load(bp.Name)
	if err != nil {
		logger.Error().Err(err).Msg("load blueprint state failed")
		return
	}

	ac := &agentContext{Blueprint: bp, State: state, PoolCount: count, Poll: poll}
	result := runGuardChain(ctx, s, ac)
	if !result.Pass {
		state.LastGuardFailure = result.Reason
		state.LastGuardFailureAt = time.Now()
		if err := s.state.Save(bp.Name, state); err != nil {
			logger.Error().Err(err).Msg("save blueprint state failed")
		}
		logger.Debug().Str("reason", result.Reason).Msg("guard chain blocked spawn")
		return
	}

	s.spawnBlueprint(ctx, logger, bp, ac, tracker, &state)
}

// spawnBlueprint runs Phase C: pick the configured strategy, launch it, and
// compensate a successful claim that couldn't be turned into a spawn by
// requeuing the task, so no task is lost to an orchestrator-side error.
func (s *Scheduler) spawnBlueprint(ctx context.Context, logger zerolog.Logger, bp config.BlueprintConfig, ac *agentContext, tracker *pool.Tracker, state *BlueprintState) {
	instance := ac.InstanceName
	if instance == "" {
		instance = fmt.Sprintf("%s-%d", bp.Name, time.Now().UnixNano())
	}

	req := spawn.Request{
		Blueprint:      bp,
		Task:           ac.ClaimedTask,
		RepoPath:       s.cfg.RepoPath,
		DataDir:        s.cfg.DataDir,
		Instance:       instance,
		OrchestratorID: s.orchestratorID,
		ServerURL:      s.cfg.ServerURL,
	}

	if _, _, err := spawn.Spawn(ctx, req, tracker); err != nil {
		logger.Error().Err(err).Msg("spawn failed")
		if ac.ClaimedTask != nil {
			s.compensateFailedSpawn(ctx, logger, ac.ClaimedTask, err)
		}
		return
	}

	state.LastSpawnAt = time.Now()
	state.LastGuardFailure = ""
	if err := s.state.Save(bp.Name, *state); err != nil {
		logger.Error().Err(err).Msg("save blueprint state failed")
	}
	logger.Info().Str("instance", instance).Msg("spawned agent instance")
}

// compensateFailedSpawn returns a successfully claimed task to incoming
// when the orchestrator itself fails to turn that claim into a running
// process, so the task isn't stranded in claimed. The state machine only
// exposes claimed->failed and failed->incoming edges, so this composes
// both rather than adding a direct one.
func (s *Scheduler) compensateFailedSpawn(ctx context.Context, logger zerolog.Logger, task *types.Task, spawnErr error) {
	failed, err := s.client.Fail(ctx, task.ID, task.Version, s.orchestratorID, "spawn failed: "+spawnErr.Error())
	if err != nil {
		logger.Error().Err(err).Str("task_id", task.ID).Msg("compensating fail after failed spawn also failed")
		return
	}
	if _, err := s.client.Requeue(ctx, failed.ID, failed.Version, s.orchestratorID); err != nil {
		logger.Error().Err(err).Str("task_id", task.ID).Msg("compensating requeue after failed spawn also failed")
	}
}
