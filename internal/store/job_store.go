package store

import (
	"context"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/types"
)

// JobStore persists jobs and triggers and arbitrates which node fires a trigger.
type JobStore interface {
	// UpsertJob inserts a job or updates its definition.
	UpsertJob(ctx context.Context, job types.Job) error

	// UpsertTrigger inserts a trigger or replaces its schedule. The trigger's job must exist.
	UpsertTrigger(ctx context.Context, trigger types.Trigger) error

	// StoreJobAndTrigger upserts a job and one of its triggers atomically.
	StoreJobAndTrigger(ctx context.Context, job types.Job, trigger types.Trigger) error

	// GetJob returns a job or custom_errors.ErrJobNotFound.
	GetJob(ctx context.Context, key types.JobKey) (*types.Job, error)

	// GetTrigger returns a trigger or custom_errors.ErrTriggerNotFound.
	GetTrigger(ctx context.Context, key types.TriggerKey) (*types.Trigger, error)

	// ListTriggersForJob returns every trigger of a job.
	ListTriggersForJob(ctx context.Context, key types.JobKey) ([]types.Trigger, error)

	// DeleteJob removes a job together with its triggers.
	DeleteJob(ctx context.Context, key types.JobKey) (bool, error)

	// DeleteTrigger removes a trigger; a non-durable job left without triggers is removed too.
	DeleteTrigger(ctx context.Context, key types.TriggerKey) (bool, error)

	// FetchDueTriggers returns WAITING triggers due at now, earliest first.
	FetchDueTriggers(ctx context.Context, now time.Time, limit int) ([]types.Trigger, error)

	// AcquireTrigger moves a trigger from WAITING to ACQUIRED for nodeID if its
	// next fire time is still expectedNextFire. It returns nil when another node won.
	AcquireTrigger(ctx context.Context, key types.TriggerKey, expectedNextFire time.Time, nodeID string, now time.Time) (*types.FiredTrigger, error)

	// ReleaseTrigger ends one acquisition. Releasing the same acquisition twice is a no-op that returns false.
	ReleaseTrigger(ctx context.Context, release types.TriggerRelease) (bool, error)

	// PauseTrigger stops a trigger from being fetched.
	PauseTrigger(ctx context.Context, key types.TriggerKey) (bool, error)

	// ResumeTrigger makes a paused trigger eligible again.
	ResumeTrigger(ctx context.Context, key types.TriggerKey) (bool, error)

	// PauseTriggerGroup pauses a trigger group, including triggers added to it later.
	PauseTriggerGroup(ctx context.Context, group string) (int, error)

	// ResumeTriggerGroup resumes a paused trigger group.
	ResumeTriggerGroup(ctx context.Context, group string) (int, error)

	// PauseJobGroup pauses every trigger of the jobs in a group.
	PauseJobGroup(ctx context.Context, group string) (int, error)

	// ResumeJobGroup resumes every trigger of the jobs in a group.
	ResumeJobGroup(ctx context.Context, group string) (int, error)

	// ListTriggersDueWithin returns live triggers whose next fire time lies in [from, to]. A zero from has no lower bound.
	ListTriggersDueWithin(ctx context.Context, from, to time.Time) ([]types.Trigger, error)

	// ListFireHistory returns fire records of a trigger, newest first.
	ListFireHistory(ctx context.Context, key types.TriggerKey, page, pageSize int) (*types.PaginationResult[types.FireRecord], error)

	// Close closes the underlying connection.
	Close() error
}

// NodeStore keeps node liveness records and reclaims work of dead nodes.
type NodeStore interface {
	// CheckIn records a heartbeat of the node.
	CheckIn(ctx context.Context, node types.Node) error

	// ReapLocksForDeadNodes releases the triggers and locks of every node other than
	// self that missed multiplier check-ins as of now, and removes those nodes.
	ReapLocksForDeadNodes(ctx context.Context, now time.Time, multiplier int, self string) ([]types.ReapedNode, error)

	// RemoveNode force-releases everything a node holds and removes its record.
	RemoveNode(ctx context.Context, nodeID string) (types.ReapedNode, error)

	// ListNodes returns every node with its liveness as of now.
	ListNodes(ctx context.Context, now time.Time, multiplier int) ([]types.Node, error)

	// ListLocks returns every lock record.
	ListLocks(ctx context.Context) ([]types.LockRecord, error)
}

// Store is the full persistence surface used by a node.
type Store interface {
	JobStore
	NodeStore
}
