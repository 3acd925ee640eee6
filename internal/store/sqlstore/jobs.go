package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/RezaEskandarii/gofire-cluster/custom_errors"
	"github.com/RezaEskandarii/gofire-cluster/internal/lock"
	"github.com/RezaEskandarii/gofire-cluster/internal/state"
	"github.com/RezaEskandarii/gofire-cluster/types"
)

func (s *Store) UpsertJob(ctx context.Context, job types.Job) error {
	return s.inTx(ctx, "upsert job", func(tx *sql.Tx) error {
		return s.upsertJob(ctx, tx, job)
	})
}

func (s *Store) upsertJob(ctx context.Context, q lock.Querier, job types.Job) error {
	data, err := encodeData(job.Data)
	if err != nil {
		return err
	}
	now := s.nowMillis()

	_, err = s.exec(ctx, q, s.builder.
		Insert(jobsTable).
		Columns(jobColumns...).
		Values(job.Key.Group, job.Key.Name, job.JobType, job.Description, job.Durable,
			job.DisallowConcurrent, job.Timeout.Milliseconds(), data, now, now).
		Suffix(`ON CONFLICT (job_group, job_name) DO UPDATE SET
			job_type = excluded.job_type,
			description = excluded.description,
			durable = excluded.durable,
			disallow_concurrent = excluded.disallow_concurrent,
			timeout_ms = excluded.timeout_ms,
			job_data = excluded.job_data,
			updated_at = excluded.updated_at`))
	return err
}

func (s *Store) GetJob(ctx context.Context, key types.JobKey) (*types.Job, error) {
	job, err := s.getJob(ctx, s.conn, key)
	if err != nil {
		return nil, wrapErr("get job", err)
	}
	return job, nil
}

func (s *Store) getJob(ctx context.Context, q lock.Querier, key types.JobKey) (*types.Job, error) {
	query, args, err := s.builder.
		Select(jobColumns...).
		From(jobsTable).
		Where(sq.Eq{"job_group": key.Group, "job_name": key.Name}).
		ToSql()
	if err != nil {
		return nil, err
	}

	job, err := scanJob(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, custom_errors.ErrJobNotFound
	}
	return job, err
}

func (s *Store) DeleteJob(ctx context.Context, key types.JobKey) (bool, error) {
	deleted := false
	err := s.inTx(ctx, "delete job", func(tx *sql.Tx) error {
		triggers, err := s.listTriggersForJob(ctx, tx, key)
		if err != nil {
			return err
		}
		for _, t := range triggers {
			if err := s.deleteTrigger(ctx, tx, t); err != nil {
				return err
			}
		}
		if err := s.locks.ForceRelease(ctx, tx, key.ResourceName()); err != nil {
			return err
		}
		n, err := s.exec(ctx, tx, s.builder.
			Delete(jobsTable).
			Where(sq.Eq{"job_group": key.Group, "job_name": key.Name}))
		deleted = n > 0
		return err
	})
	return deleted, err
}

// deleteJobIfOrphaned removes a non-durable job that has no live trigger left.
func (s *Store) deleteJobIfOrphaned(ctx context.Context, q lock.Querier, key types.JobKey) error {
	job, err := s.getJob(ctx, q, key)
	if errors.Is(err, custom_errors.ErrJobNotFound) {
		return nil
	}
	if err != nil || job.Durable {
		return err
	}

	query, args, err := s.builder.
		Select("COUNT(*)").
		From(triggersTable).
		Where(sq.Eq{"job_group": key.Group, "job_name": key.Name}).
		Where(sq.NotEq{"state": string(state.StateComplete)}).
		ToSql()
	if err != nil {
		return err
	}
	var live int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&live); err != nil {
		return err
	}
	if live > 0 {
		return nil
	}

	if _, err := s.exec(ctx, q, s.builder.
		Delete(triggersTable).
		Where(sq.Eq{"job_group": key.Group, "job_name": key.Name})); err != nil {
		return err
	}
	_, err = s.exec(ctx, q, s.builder.
		Delete(jobsTable).
		Where(sq.Eq{"job_group": key.Group, "job_name": key.Name}))
	return err
}
