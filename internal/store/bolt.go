package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/maxthelion/octopoid/internal/types"
)

var (
	bucketTasks         = []byte("tasks")
	bucketTaskHistory   = []byte("task_history")
	bucketOrchestrators = []byte("orchestrators")
	bucketProjects      = []byte("projects")
	bucketFlows         = []byte("flows")
	bucketRoles         = []byte("roles")
	bucketMessages      = []byte("messages")
)

// BoltStore implements Store on a single embedded bbolt file. It is the
// authoritative data store for one server process; there is no clustering
// or replication (see DESIGN.md for the reasoning behind that scope).
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the store file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "octopoid.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{
			bucketTasks, bucketTaskHistory, bucketOrchestrators,
			bucketProjects, bucketFlows, bucketRoles, bucketMessages,
		} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// --- Tasks ---

func (s *BoltStore) CreateTask(task *types.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	now := time.Now()
	task.CreatedAt = now
	task.UpdatedAt = now
	task.Version = 1

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		if b.Get([]byte(task.ID)) != nil {
			return fmt.Errorf("task already exists: %s", task.ID)
		}
		data, err := json.Marshal(task)
		if err != nil {
			return err
		}
		return b.Put([]byte(task.ID), data)
	})
}

func (s *BoltStore) GetTask(id string) (*types.Task, error) {
	var task types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketTasks).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &task)
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (s *BoltStore) ListTasks(filter TaskFilter) ([]*types.Task, int, error) {
	var all []*types.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).ForEach(func(k, v []byte) error {
			var task types.Task
			if err := json.Unmarshal(v, &task); err != nil {
				return err
			}
			if matchesFilter(&task, filter) {
				all = append(all, &task)
			}
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}

	total := len(all)
	if filter.Offset > 0 {
		if filter.Offset >= len(all) {
			all = nil
		} else {
			all = all[filter.Offset:]
		}
	}
	if filter.Limit > 0 && len(all) > filter.Limit {
		all = all[:filter.Limit]
	}
	return all, total, nil
}

func matchesFilter(task *types.Task, f TaskFilter) bool {
	if task.Paused {
		// Paused tasks are not filtered here: every listing, with or
		// without a queue filter, still sees them. The claim handler
		// drops paused candidates itself.
	}
	if len(f.Queue) > 0 && !containsQueue(f.Queue, task.Queue) {
		return false
	}
	if len(f.Priority) > 0 && !containsPriority(f.Priority, task.Priority) {
		return false
	}
	if len(f.Role) > 0 && !containsString(f.Role, task.Role) {
		return false
	}
	if f.ClaimedBy != "" && task.ClaimedBy != f.ClaimedBy {
		return false
	}
	if f.ProjectID != "" && task.ProjectID != f.ProjectID {
		return false
	}
	return true
}

func containsQueue(xs []types.Queue, x types.Queue) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsPriority(xs []types.Priority, x types.Priority) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsString(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// CompareAndSwapTask is the single primitive every state machine transition
// calls: one bolt.Update transaction reads the task, checks version and
// origin queue, mutates, bumps version, writes, appends history and, when
// the task lands in done, cascades the unblock in the same commit. bbolt
// transactions span buckets, so
// completion's cascading unblock scan runs as a second ForEach inside this
// same transaction rather than a follow-up statement.
func (s *BoltStore) CompareAndSwapTask(id string, expectedVersion int64, fromQueue types.Queue, mutate func(*types.Task) error, history *types.TaskHistoryEvent) (*types.Task, error) {
	var result types.Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}

		if expectedVersion != 0 && task.Version != expectedVersion {
			return ErrStaleVersion
		}
		if fromQueue != "" && task.Queue != fromQueue {
			return ErrWrongState
		}

		if err := mutate(&task); err != nil {
			return err
		}
		task.Version++
		task.UpdatedAt = time.Now()

		out, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(task.ID), out); err != nil {
			return err
		}

		if task.Queue == types.QueueDone {
			if err := cascadeUnblock(tx, task.ID); err != nil {
				return err
			}
		}

		if history != nil {
			history.TaskID = task.ID
			history.Timestamp = time.Now()
			if err := appendHistory(tx, history); err != nil {
				return err
			}
		}

		result = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// cascadeUnblock clears blocked_by on every task pointing at completedID.
// Idempotent: once the field is cleared no task matches completedID any
// more, so re-running it writes nothing.
func cascadeUnblock(tx *bolt.Tx, completedID string) error {
	b := tx.Bucket(bucketTasks)
	var toUpdate []types.Task
	err := b.ForEach(func(k, v []byte) error {
		var t types.Task
		if err := json.Unmarshal(v, &t); err != nil {
			return err
		}
		if t.BlockedBy == completedID {
			toUpdate = append(toUpdate, t)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, t := range toUpdate {
		t.BlockedBy = ""
		t.Version++
		t.UpdatedAt = time.Now()
		data, err := json.Marshal(&t)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(t.ID), data); err != nil {
			return err
		}
	}
	return nil
}

func (s *BoltStore) PatchTask(id string, mutate func(*types.Task) error) (*types.Task, error) {
	var result types.Task
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTasks)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		var task types.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return err
		}
		if err := mutate(&task); err != nil {
			return err
		}
		task.Version++
		task.UpdatedAt = time.Now()
		out, err := json.Marshal(&task)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(task.ID), out); err != nil {
			return err
		}
		result = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *BoltStore) DeleteTask(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTasks).Delete([]byte(id))
	})
}

func appendHistory(tx *bolt.Tx, ev *types.TaskHistoryEvent) error {
	b := tx.Bucket(bucketTaskHistory)
	key := []byte(fmt.Sprintf("%s/%020d", ev.TaskID, ev.Timestamp.UnixNano()))
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func (s *BoltStore) ListTaskHistory(taskID string) ([]*types.TaskHistoryEvent, error) {
	var events []*types.TaskHistoryEvent
	prefix := []byte(taskID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTaskHistory).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var ev types.TaskHistoryEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			events = append(events, &ev)
		}
		return nil
	})
	return events, err
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// --- Orchestrators ---

func (s *BoltStore) UpsertOrchestrator(o *types.Orchestrator) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOrchestrators)
		o.Version++
		data, err := json.Marshal(o)
		if err != nil {
			return err
		}
		return b.Put([]byte(o.ID), data)
	})
}

func (s *BoltStore) GetOrchestrator(id string) (*types.Orchestrator, error) {
	var o types.Orchestrator
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketOrchestrators).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &o)
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *BoltStore) ListOrchestrators() ([]*types.Orchestrator, error) {
	var out []*types.Orchestrator
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOrchestrators).ForEach(func(k, v []byte) error {
			var o types.Orchestrator
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			out = append(out, &o)
			return nil
		})
	})
	return out, err
}

// --- Projects ---

func (s *BoltStore) CreateProject(p *types.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.Version = 1
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketProjects).Put([]byte(p.ID), data)
	})
}

func (s *BoltStore) GetProject(id string) (*types.Project, error) {
	var p types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProjects).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) UpdateProject(p *types.Project) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		p.Version++
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketProjects).Put([]byte(p.ID), data)
	})
}

func (s *BoltStore) ListProjects() ([]*types.Project, error) {
	var out []*types.Project
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProjects).ForEach(func(k, v []byte) error {
			var p types.Project
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, &p)
			return nil
		})
	})
	return out, err
}

// --- Flows ---

func (s *BoltStore) PutFlow(f *types.Flow) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketFlows).Put([]byte(f.Name), data)
	})
}

func (s *BoltStore) GetFlow(name string) (*types.Flow, error) {
	var f types.Flow
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketFlows).Get([]byte(name))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &f)
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *BoltStore) ListFlows() ([]*types.Flow, error) {
	var out []*types.Flow
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketFlows).ForEach(func(k, v []byte) error {
			var f types.Flow
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			out = append(out, &f)
			return nil
		})
	})
	return out, err
}

// --- Roles ---

func (s *BoltStore) RegisterRole(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoles).Put([]byte(name), []byte("1"))
	})
}

func (s *BoltStore) ListRoles() ([]string, error) {
	var out []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRoles).ForEach(func(k, v []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}

// --- Messages ---

func (s *BoltStore) CreateMessage(m *types.Message) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		key := []byte(fmt.Sprintf("%s/%020d", m.TaskID, m.CreatedAt.UnixNano()))
		data, err := json.Marshal(m)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) ListMessages(taskID string) ([]*types.Message, error) {
	var out []*types.Message
	prefix := []byte(taskID + "/")
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketMessages).Cursor()
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var m types.Message
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, &m)
		}
		return nil
	})
	return out, err
}
