package store

import "github.com/maxthelion/octopoid/internal/types"

// TaskFilter narrows ListTasks. Empty slices mean "no filter on this field".
type TaskFilter struct {
	Queue     []types.Queue
	Priority  []types.Priority
	Role      []string
	ClaimedBy string
	ProjectID string
	Limit     int
	Offset    int
}

// Store is the durable backing for every table the core touches. All
// mutation methods beside the CAS primitives are plain upserts; the state
// machine is the only caller that needs conditional semantics, and it gets
// those from CompareAndSwapTask.
type Store interface {
	// Tasks
	CreateTask(task *types.Task) error
	GetTask(id string) (*types.Task, error)
	ListTasks(filter TaskFilter) ([]*types.Task, int, error)
	// CompareAndSwapTask loads the task, checks version and fromQueue (if
	// fromQueue is non-empty), lets mutate edit it in place, bumps Version
	// and UpdatedAt, persists it and appends a history event atomically;
	// when the new queue is done it also clears blocked_by on dependents
	// in the same transaction.
	// Returns ErrStaleVersion, ErrWrongState or ErrNotFound on guard
	// failure; mutate is never called in that case.
	CompareAndSwapTask(id string, expectedVersion int64, fromQueue types.Queue, mutate func(*types.Task) error, history *types.TaskHistoryEvent) (*types.Task, error)
	// PatchTask applies a non-queue metadata update without any CAS guard;
	// used by the plain PATCH endpoint. Still bumps Version.
	PatchTask(id string, mutate func(*types.Task) error) (*types.Task, error)
	DeleteTask(id string) error
	ListTaskHistory(taskID string) ([]*types.TaskHistoryEvent, error)

	// Orchestrators
	UpsertOrchestrator(o *types.Orchestrator) error
	GetOrchestrator(id string) (*types.Orchestrator, error)
	ListOrchestrators() ([]*types.Orchestrator, error)

	// Projects
	CreateProject(p *types.Project) error
	GetProject(id string) (*types.Project, error)
	UpdateProject(p *types.Project) error
	ListProjects() ([]*types.Project, error)

	// Flows
	PutFlow(f *types.Flow) error
	GetFlow(name string) (*types.Flow, error)
	ListFlows() ([]*types.Flow, error)

	// Roles (optional server-side role validation)
	RegisterRole(name string) error
	ListRoles() ([]string, error)

	// Messages
	CreateMessage(m *types.Message) error
	ListMessages(taskID string) ([]*types.Message, error)

	Close() error
}
