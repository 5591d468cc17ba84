// Package pool tracks live agent instances per blueprint in a small JSON
// file, probed by signal-0 PID checks to decide whether a tracked process
// is still running.
package pool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/maxthelion/octopoid/internal/types"
)

// Tracker manages one blueprint's pool file: instance name -> PoolEntry.
type Tracker struct {
	path string
	mu   sync.Mutex
}

// NewTracker opens the tracker for blueprint under dataDir
// (agents/<blueprint>/running_pids.json), creating the blueprint's
// directory if needed.
func NewTracker(dataDir, blueprint string) (*Tracker, error) {
	dir := filepath.Join(dataDir, "agents", blueprint)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("pool: create dir: %w", err)
	}
	return &Tracker{path: filepath.Join(dir, "running_pids.json")}, nil
}

func (t *Tracker) load() (map[string]types.PoolEntry, error) {
	data, err := os.ReadFile(t.path)
	if os.IsNotExist(err) {
		return map[string]types.PoolEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return map[string]types.PoolEntry{}, nil
	}
	var entries map[string]types.PoolEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (t *Tracker) save(entries map[string]types.PoolEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.path, data, 0644)
}

// Add records a newly spawned instance.
func (t *Tracker) Add(entry types.PoolEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, err := t.load()
	if err != nil {
		return err
	}
	entries[entry.Instance] = entry
	return t.save(entries)
}

// Remove deletes an instance's entry, used once its result has been
// collected: a removed entry can't be double-collected.
func (t *Tracker) Remove(instance string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, err := t.load()
	if err != nil {
		return err
	}
	delete(entries, instance)
	return t.save(entries)
}

// List returns every currently tracked entry.
func (t *Tracker) List() ([]types.PoolEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entries, err := t.load()
	if err != nil {
		return nil, err
	}
	out := make([]types.PoolEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	return out, nil
}

// Count returns the number of tracked live instances, used by the
// pool_capacity scheduler guard.
func (t *Tracker) Count() (int, error) {
	entries, err := t.List()
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Finished returns the entries whose process has exited (signal 0 fails),
// i.e. instances that are done or zombied and need housekeeping to collect
// their result.
func (t *Tracker) Finished() ([]types.PoolEntry, error) {
	all, err := t.List()
	if err != nil {
		return nil, err
	}
	var dead []types.PoolEntry
	for _, e := range all {
		if !isAlive(e.PID) {
			dead = append(dead, e)
		}
	}
	return dead, nil
}

func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
