// Package sqlstore implements the job store on PostgreSQL and SQLite.
//
// Mutual exclusion between nodes rests on two store guarantees: an UPDATE whose
// WHERE clause checks the expected state affects zero rows for every node but
// one, and gofire_locks.resource_name is unique. Both happen in one transaction.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/RezaEskandarii/gofire-cluster/custom_errors"
	"github.com/RezaEskandarii/gofire-cluster/internal/db"
	"github.com/RezaEskandarii/gofire-cluster/internal/lock"
	"github.com/RezaEskandarii/gofire-cluster/internal/store"
)

const (
	jobsTable         = "gofire_jobs"
	triggersTable     = "gofire_triggers"
	nodesTable        = "gofire_nodes"
	pausedGroupsTable = "gofire_paused_groups"
	historyTable      = "gofire_fire_history"
)

var _ store.Store = (*Store)(nil)

// errLostRace rolls back an acquisition another node won.
var errLostRace = errors.New("trigger acquired by another node")

type Store struct {
	conn    *sql.DB
	dialect db.Dialect
	builder sq.StatementBuilderType
	locks   lock.Manager
	now     func() time.Time
}

type Option func(*Store)

// WithClock replaces the clock used for bookkeeping timestamps (created_at, paused_at).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(conn *sql.DB, dialect db.Dialect, locks lock.Manager, opts ...Option) *Store {
	s := &Store{
		conn:    conn,
		dialect: dialect,
		builder: dialect.Builder(),
		locks:   locks,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error {
	return s.conn.Close()
}

func (s *Store) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return wrapErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, q lock.Querier, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, err
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

// wrapErr prefixes err with the operation and marks connectivity and
// contention failures as transient.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if custom_errors.IsTransient(err) {
		return err
	}
	if isTransient(err) {
		return custom_errors.NewTransientError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
