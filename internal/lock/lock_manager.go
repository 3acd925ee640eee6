package lock

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/RezaEskandarii/gofire-cluster/types"
)

const locksTable = "gofire_locks"

// Querier is satisfied by *sql.DB and *sql.Tx. Lock operations run on the
// caller's transaction so they commit together with the trigger state change.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Manager grants exclusive ownership of named resources to nodes through lock
// records whose resource name is unique in the store.
type Manager interface {
	// TryAcquire inserts a lock record; false means another node holds it.
	TryAcquire(ctx context.Context, q Querier, resourceName, nodeID string, now time.Time) (bool, error)
	// Release deletes the lock record if nodeID owns it.
	Release(ctx context.Context, q Querier, resourceName, nodeID string) error
	// ForceRelease deletes the lock record whoever owns it.
	ForceRelease(ctx context.Context, q Querier, resourceName string) error
	// ReleaseAllForNode deletes every lock record owned by nodeID.
	ReleaseAllForNode(ctx context.Context, q Querier, nodeID string) ([]string, error)
	// ReclaimExpired deletes locks whose owner has not checked in within its
	// checkin interval times multiplier, or has no node record at all.
	ReclaimExpired(ctx context.Context, q Querier, now time.Time, multiplier int) ([]string, error)
	// List returns all lock records ordered by resource name.
	List(ctx context.Context, q Querier) ([]types.LockRecord, error)
}

type SQLLockManager struct {
	builder sq.StatementBuilderType
}

func NewSQLLockManager(placeholder sq.PlaceholderFormat) *SQLLockManager {
	return &SQLLockManager{builder: sq.StatementBuilder.PlaceholderFormat(placeholder)}
}

func (m *SQLLockManager) TryAcquire(ctx context.Context, q Querier, resourceName, nodeID string, now time.Time) (bool, error) {
	query, args, err := m.builder.
		Insert(locksTable).
		Columns("resource_name", "owning_node", "acquired_at").
		Values(resourceName, nodeID, now.UnixMilli()).
		Suffix("ON CONFLICT (resource_name) DO NOTHING").
		ToSql()
	if err != nil {
		return false, err
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", resourceName, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", resourceName, err)
	}
	return affected == 1, nil
}

func (m *SQLLockManager) Release(ctx context.Context, q Querier, resourceName, nodeID string) error {
	query, args, err := m.builder.
		Delete(locksTable).
		Where(sq.Eq{"resource_name": resourceName, "owning_node": nodeID}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err = q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("release lock %s: %w", resourceName, err)
	}
	return nil
}

func (m *SQLLockManager) ForceRelease(ctx context.Context, q Querier, resourceName string) error {
	query, args, err := m.builder.
		Delete(locksTable).
		Where(sq.Eq{"resource_name": resourceName}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err = q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("force release lock %s: %w", resourceName, err)
	}
	return nil
}

func (m *SQLLockManager) ReleaseAllForNode(ctx context.Context, q Querier, nodeID string) ([]string, error) {
	query, args, err := m.builder.
		Delete(locksTable).
		Where(sq.Eq{"owning_node": nodeID}).
		Suffix("RETURNING resource_name").
		ToSql()
	if err != nil {
		return nil, err
	}
	names, err := queryNames(ctx, q, query, args)
	if err != nil {
		return nil, fmt.Errorf("release locks of node %s: %w", nodeID, err)
	}
	return names, nil
}

func (m *SQLLockManager) ReclaimExpired(ctx context.Context, q Querier, now time.Time, multiplier int) ([]string, error) {
	query, args, err := m.builder.
		Delete(locksTable).
		Where("owning_node NOT IN (SELECT node_id FROM gofire_nodes WHERE last_checkin_time + checkin_interval * ? >= ?)",
			multiplier, now.UnixMilli()).
		Suffix("RETURNING resource_name").
		ToSql()
	if err != nil {
		return nil, err
	}
	names, err := queryNames(ctx, q, query, args)
	if err != nil {
		return nil, fmt.Errorf("reclaim expired locks: %w", err)
	}
	return names, nil
}

func (m *SQLLockManager) List(ctx context.Context, q Querier) ([]types.LockRecord, error) {
	query, args, err := m.builder.
		Select("resource_name", "owning_node", "acquired_at").
		From(locksTable).
		OrderBy("resource_name").
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list locks: %w", err)
	}
	defer rows.Close()

	var records []types.LockRecord
	for rows.Next() {
		var (
			rec        types.LockRecord
			acquiredAt int64
		)
		if err := rows.Scan(&rec.ResourceName, &rec.OwningNode, &acquiredAt); err != nil {
			return nil, err
		}
		rec.AcquiredAt = time.UnixMilli(acquiredAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

func queryNames(ctx context.Context, q Querier, query string, args []any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
