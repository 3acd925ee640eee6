package sqlstore

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/RezaEskandarii/gofire-cluster/internal/lock"
	"github.com/RezaEskandarii/gofire-cluster/types"
)

func (s *Store) insertFireRecord(ctx context.Context, q lock.Querier, rec types.FireRecord) error {
	_, err := s.exec(ctx, q, s.builder.
		Insert(historyTable).
		Columns("trigger_group", "trigger_name", "job_group", "job_name", "node_id", "fire_instance_id",
			"scheduled_fire_time", "fired_at", "finished_at", "outcome", "error", "misfired").
		Values(rec.TriggerKey.Group, rec.TriggerKey.Name, rec.JobKey.Group, rec.JobKey.Name, rec.NodeID,
			rec.FireInstanceID, rec.ScheduledFireTime.UnixMilli(), rec.FiredAt.UnixMilli(),
			rec.FinishedAt.UnixMilli(), string(rec.Outcome), rec.Error, rec.Misfired))
	return err
}

func (s *Store) ListFireHistory(ctx context.Context, key types.TriggerKey, page, pageSize int) (*types.PaginationResult[types.FireRecord], error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	where := sq.Eq{"trigger_group": key.Group, "trigger_name": key.Name}

	countQuery, countArgs, err := s.builder.Select("COUNT(*)").From(historyTable).Where(where).ToSql()
	if err != nil {
		return nil, err
	}
	var total int
	if err := s.conn.QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, wrapErr("count fire history", err)
	}

	query, args, err := s.builder.
		Select("id", "trigger_group", "trigger_name", "job_group", "job_name", "node_id", "fire_instance_id",
			"scheduled_fire_time", "fired_at", "finished_at", "outcome", "error", "misfired").
		From(historyTable).
		Where(where).
		OrderBy("id DESC").
		Limit(uint64(pageSize)).
		Offset(uint64((page - 1) * pageSize)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list fire history", err)
	}
	defer rows.Close()

	items := make([]types.FireRecord, 0, pageSize)
	for rows.Next() {
		var (
			rec                        types.FireRecord
			scheduled, fired, finished int64
			outcome                    string
		)
		if err := rows.Scan(&rec.ID, &rec.TriggerKey.Group, &rec.TriggerKey.Name, &rec.JobKey.Group, &rec.JobKey.Name,
			&rec.NodeID, &rec.FireInstanceID, &scheduled, &fired, &finished, &outcome, &rec.Error, &rec.Misfired); err != nil {
			return nil, wrapErr("scan fire history", err)
		}
		rec.ScheduledFireTime = time.UnixMilli(scheduled)
		rec.FiredAt = time.UnixMilli(fired)
		rec.FinishedAt = time.UnixMilli(finished)
		rec.Outcome = types.Outcome(outcome)
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list fire history", err)
	}

	return types.NewPaginationResult(items, total, page, pageSize), nil
}
