package lock

import "context"

// Well known advisory lock ids.
const (
	MigrationLock int64 = 7_245_001
)

// DistributedLockManager serializes cluster-wide one-off work such as schema migration.
type DistributedLockManager interface {
	Acquire(ctx context.Context, lockID int64) error
	Release(ctx context.Context, lockID int64) error
}

// NoopDistributedLockManager is used by stores that serialize writers themselves (SQLite).
type NoopDistributedLockManager struct{}

func (NoopDistributedLockManager) Acquire(context.Context, int64) error { return nil }
func (NoopDistributedLockManager) Release(context.Context, int64) error { return nil }
