// Package lease runs the server-side coordinator that expires stale task
// leases and marks orchestrators offline when their heartbeats go quiet.
// It is a ticking loop where each scan is independently fault-tolerant: a
// failure in one never blocks the other.
package lease

import (
	"sync"
	"time"

	"github.com/maxthelion/octopoid/internal/log"
	"github.com/maxthelion/octopoid/internal/metrics"
	"github.com/maxthelion/octopoid/internal/statemachine"
	"github.com/maxthelion/octopoid/internal/store"
	"github.com/maxthelion/octopoid/internal/types"
)

// HeartbeatTimeout is how long an orchestrator can go without a heartbeat
// before it is marked offline.
const HeartbeatTimeout = 45 * time.Second

// Coordinator periodically scans for expired leases and silent
// orchestrators.
type Coordinator struct {
	store    store.Store
	machine  *statemachine.Machine
	interval time.Duration

	mu     sync.Mutex
	stopCh chan struct{}
}

func New(s store.Store, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Coordinator{
		store:    s,
		machine:  statemachine.New(s),
		interval: interval,
	}
}

// Start runs the coordinator loop until Stop is called. Intended to be run
// in its own goroutine.
func (c *Coordinator) Start() {
	c.mu.Lock()
	c.stopCh = make(chan struct{})
	stop := c.stopCh
	c.mu.Unlock()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	logger := log.WithComponent("lease")
	logger.Info().Dur("interval", c.interval).Msg("lease coordinator started")

	for {
		select {
		case <-ticker.C:
			c.tick()
		case <-stop:
			logger.Info().Msg("lease coordinator stopped")
			return
		}
	}
}

func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopCh != nil {
		close(c.stopCh)
	}
}

func (c *Coordinator) tick() {
	if err := c.expireLeases(); err != nil {
		log.WithComponent("lease").Error().Err(err).Msg("expire leases scan failed")
	}
	if err := c.markOfflineOrchestrators(); err != nil {
		log.WithComponent("lease").Error().Err(err).Msg("orchestrator liveness scan failed")
	}
}

func (c *Coordinator) expireLeases() error {
	tasks, _, err := c.store.ListTasks(store.TaskFilter{Queue: []types.Queue{types.QueueClaimed}})
	if err != nil {
		return err
	}

	now := time.Now()
	for _, t := range tasks {
		if t.LeaseExpiresAt == nil || t.LeaseExpiresAt.After(now) {
			continue
		}
		_, err := c.machine.ExpireLease(t.ID, t.Version)
		if err != nil {
			metrics.LeaseExpiriesTotal.WithLabelValues("error").Inc()
			log.WithTask(t.ID).Warn().Err(err).Msg("failed to expire lease")
			continue
		}
		metrics.LeaseExpiriesTotal.WithLabelValues("expired").Inc()
		log.WithTask(t.ID).Info().Str("was_claimed_by", t.ClaimedBy).Msg("lease expired, task requeued")
	}
	return nil
}

func (c *Coordinator) markOfflineOrchestrators() error {
	orchestrators, err := c.store.ListOrchestrators()
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-HeartbeatTimeout)
	for _, o := range orchestrators {
		if o.Status == types.OrchestratorOffline {
			continue
		}
		if o.LastHeartbeatAt.After(cutoff) {
			continue
		}
		o.Status = types.OrchestratorOffline
		if err := c.store.UpsertOrchestrator(o); err != nil {
			log.WithOrchestrator(o.ID).Warn().Err(err).Msg("failed to mark orchestrator offline")
			continue
		}
		log.WithOrchestrator(o.ID).Warn().Time("last_heartbeat_at", o.LastHeartbeatAt).Msg("orchestrator marked offline")
	}
	return nil
}
