package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/RezaEskandarii/gofire-cluster/custom_errors"
	"github.com/RezaEskandarii/gofire-cluster/internal/lock"
	"github.com/RezaEskandarii/gofire-cluster/internal/state"
	"github.com/RezaEskandarii/gofire-cluster/types"
)

// pausableStates are the states a pause request applies to.
var pausableStates = []string{
	string(state.StateWaiting),
	string(state.StateAcquired),
	string(state.StateBlocked),
	string(state.StateError),
}

// resumedState keeps a trigger that was paused while firing ACQUIRED until its release.
var resumedState = sq.Expr("CASE WHEN fire_instance_id IS NOT NULL THEN ? ELSE ? END",
	string(state.StateAcquired), string(state.StateWaiting))

func (s *Store) UpsertTrigger(ctx context.Context, trigger types.Trigger) error {
	return s.inTx(ctx, "upsert trigger", func(tx *sql.Tx) error {
		if _, err := s.getJob(ctx, tx, trigger.JobKey); err != nil {
			return err
		}
		return s.upsertTrigger(ctx, tx, trigger)
	})
}

func (s *Store) StoreJobAndTrigger(ctx context.Context, job types.Job, trigger types.Trigger) error {
	return s.inTx(ctx, "store job and trigger", func(tx *sql.Tx) error {
		if err := s.upsertJob(ctx, tx, job); err != nil {
			return err
		}
		return s.upsertTrigger(ctx, tx, trigger)
	})
}

// upsertTrigger writes a trigger. A new trigger in a paused group starts PAUSED.
// Replacing a trigger keeps it ACQUIRED, PAUSED or BLOCKED if it was.
func (s *Store) upsertTrigger(ctx context.Context, q lock.Querier, t types.Trigger) error {
	initial := t.State
	if initial == "" {
		initial = state.StateWaiting
	}
	paused, err := s.isGroupPaused(ctx, q, t.Key.Group)
	if err != nil {
		return err
	}
	if paused && initial == state.StateWaiting {
		initial = state.StatePaused
	}

	_, err = s.exec(ctx, q, s.builder.
		Insert(triggersTable).
		Columns("trigger_group", "trigger_name", "job_group", "job_name", "description", "schedule",
			"start_time", "end_time", "next_fire_time", "prev_fire_time", "misfire_policy", "state").
		Values(t.Key.Group, t.Key.Name, t.JobKey.Group, t.JobKey.Name, t.Description, t.Schedule,
			t.StartTime.UnixMilli(), millisOrNil(t.EndTime), millisOrNil(t.NextFireTime),
			millisOrNil(t.PrevFireTime), string(t.MisfirePolicy), string(initial)).
		Suffix(`ON CONFLICT (trigger_group, trigger_name) DO UPDATE SET
			job_group = excluded.job_group,
			job_name = excluded.job_name,
			description = excluded.description,
			schedule = excluded.schedule,
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			next_fire_time = excluded.next_fire_time,
			misfire_policy = excluded.misfire_policy,
			state = CASE WHEN gofire_triggers.state IN (?, ?, ?) THEN gofire_triggers.state ELSE excluded.state END`,
			string(state.StateAcquired), string(state.StatePaused), string(state.StateBlocked)))
	return err
}

func (s *Store) isGroupPaused(ctx context.Context, q lock.Querier, group string) (bool, error) {
	query, args, err := s.builder.
		Select("COUNT(*)").
		From(pausedGroupsTable).
		Where(sq.Eq{"trigger_group": group}).
		ToSql()
	if err != nil {
		return false, err
	}
	var n int
	if err := q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) GetTrigger(ctx context.Context, key types.TriggerKey) (*types.Trigger, error) {
	t, err := s.getTrigger(ctx, s.conn, key)
	if err != nil {
		return nil, wrapErr("get trigger", err)
	}
	return t, nil
}

func (s *Store) getTrigger(ctx context.Context, q lock.Querier, key types.TriggerKey) (*types.Trigger, error) {
	query, args, err := s.builder.
		Select(triggerColumns...).
		From(triggersTable).
		Where(sq.Eq{"trigger_group": key.Group, "trigger_name": key.Name}).
		ToSql()
	if err != nil {
		return nil, err
	}

	t, err := scanTrigger(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, custom_errors.ErrTriggerNotFound
	}
	return t, err
}

func (s *Store) ListTriggersForJob(ctx context.Context, key types.JobKey) ([]types.Trigger, error) {
	triggers, err := s.listTriggersForJob(ctx, s.conn, key)
	return triggers, wrapErr("list triggers for job", err)
}

func (s *Store) listTriggersForJob(ctx context.Context, q lock.Querier, key types.JobKey) ([]types.Trigger, error) {
	return s.queryTriggers(ctx, q, s.builder.
		Select(triggerColumns...).
		From(triggersTable).
		Where(sq.Eq{"job_group": key.Group, "job_name": key.Name}).
		OrderBy("trigger_group", "trigger_name"))
}

func (s *Store) queryTriggers(ctx context.Context, q lock.Querier, b sq.SelectBuilder) ([]types.Trigger, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanTriggers(rows)
}

func (s *Store) DeleteTrigger(ctx context.Context, key types.TriggerKey) (bool, error) {
	deleted := false
	err := s.inTx(ctx, "delete trigger", func(tx *sql.Tx) error {
		t, err := s.getTrigger(ctx, tx, key)
		if errors.Is(err, custom_errors.ErrTriggerNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.deleteTrigger(ctx, tx, *t); err != nil {
			return err
		}
		deleted = true
		return s.deleteJobIfOrphaned(ctx, tx, t.JobKey)
	})
	return deleted, err
}

// deleteTrigger removes a trigger and the locks of its in-flight firing, if any.
func (s *Store) deleteTrigger(ctx context.Context, q lock.Querier, t types.Trigger) error {
	if t.FireInstanceID != "" {
		if err := s.locks.ForceRelease(ctx, q, t.Key.ResourceName()); err != nil {
			return err
		}
		if err := s.locks.Release(ctx, q, t.JobKey.ResourceName(), t.OwningNode); err != nil {
			return err
		}
	}
	if _, err := s.exec(ctx, q, s.builder.
		Delete(triggersTable).
		Where(sq.Eq{"trigger_group": t.Key.Group, "trigger_name": t.Key.Name})); err != nil {
		return err
	}
	return s.unblockTriggers(ctx, q)
}

func (s *Store) FetchDueTriggers(ctx context.Context, now time.Time, limit int) ([]types.Trigger, error) {
	if limit <= 0 {
		return nil, nil
	}
	triggers, err := s.queryTriggers(ctx, s.conn, s.builder.
		Select(triggerColumns...).
		From(triggersTable).
		Where(sq.Eq{"state": string(state.StateWaiting)}).
		Where(sq.LtOrEq{"next_fire_time": now.UnixMilli()}).
		OrderBy("next_fire_time ASC", "trigger_group ASC", "trigger_name ASC").
		Limit(uint64(limit)))
	return triggers, wrapErr("fetch due triggers", err)
}

func (s *Store) ListTriggersDueWithin(ctx context.Context, from, to time.Time) ([]types.Trigger, error) {
	b := s.builder.
		Select(triggerColumns...).
		From(triggersTable).
		Where(sq.NotEq{"next_fire_time": nil}).
		Where(sq.LtOrEq{"next_fire_time": to.UnixMilli()}).
		Where(sq.NotEq{"state": []string{string(state.StateComplete), string(state.StateError)}}).
		OrderBy("next_fire_time ASC", "trigger_group ASC", "trigger_name ASC")
	if !from.IsZero() {
		b = b.Where(sq.GtOrEq{"next_fire_time": from.UnixMilli()})
	}
	triggers, err := s.queryTriggers(ctx, s.conn, b)
	return triggers, wrapErr("list triggers due within", err)
}

func (s *Store) PauseTrigger(ctx context.Context, key types.TriggerKey) (bool, error) {
	n, err := s.exec(ctx, s.conn, s.builder.
		Update(triggersTable).
		Set("state", string(state.StatePaused)).
		Where(sq.Eq{"trigger_group": key.Group, "trigger_name": key.Name, "state": pausableStates}))
	return n > 0, wrapErr("pause trigger", err)
}

func (s *Store) ResumeTrigger(ctx context.Context, key types.TriggerKey) (bool, error) {
	n, err := s.exec(ctx, s.conn, s.builder.
		Update(triggersTable).
		Set("state", resumedState).
		Where(sq.Eq{"trigger_group": key.Group, "trigger_name": key.Name, "state": string(state.StatePaused)}))
	return n > 0, wrapErr("resume trigger", err)
}

func (s *Store) PauseTriggerGroup(ctx context.Context, group string) (int, error) {
	var paused int64
	err := s.inTx(ctx, "pause trigger group", func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, s.builder.
			Insert(pausedGroupsTable).
			Columns("trigger_group", "paused_at").
			Values(group, s.nowMillis()).
			Suffix("ON CONFLICT (trigger_group) DO NOTHING")); err != nil {
			return err
		}
		n, err := s.exec(ctx, tx, s.builder.
			Update(triggersTable).
			Set("state", string(state.StatePaused)).
			Where(sq.Eq{"trigger_group": group, "state": pausableStates}))
		paused = n
		return err
	})
	return int(paused), err
}

func (s *Store) ResumeTriggerGroup(ctx context.Context, group string) (int, error) {
	var resumed int64
	err := s.inTx(ctx, "resume trigger group", func(tx *sql.Tx) error {
		if _, err := s.exec(ctx, tx, s.builder.
			Delete(pausedGroupsTable).
			Where(sq.Eq{"trigger_group": group})); err != nil {
			return err
		}
		n, err := s.exec(ctx, tx, s.builder.
			Update(triggersTable).
			Set("state", resumedState).
			Where(sq.Eq{"trigger_group": group, "state": string(state.StatePaused)}))
		resumed = n
		return err
	})
	return int(resumed), err
}

func (s *Store) PauseJobGroup(ctx context.Context, group string) (int, error) {
	n, err := s.exec(ctx, s.conn, s.builder.
		Update(triggersTable).
		Set("state", string(state.StatePaused)).
		Where(sq.Eq{"job_group": group, "state": pausableStates}))
	return int(n), wrapErr("pause job group", err)
}

func (s *Store) ResumeJobGroup(ctx context.Context, group string) (int, error) {
	n, err := s.exec(ctx, s.conn, s.builder.
		Update(triggersTable).
		Set("state", resumedState).
		Where(sq.Eq{"job_group": group, "state": string(state.StatePaused)}))
	return int(n), wrapErr("resume job group", err)
}

// unblockTriggers returns BLOCKED triggers to WAITING once no node holds their job lock.
func (s *Store) unblockTriggers(ctx context.Context, q lock.Querier) error {
	_, err := s.exec(ctx, q, s.builder.
		Update(triggersTable).
		Set("state", string(state.StateWaiting)).
		Where(sq.Eq{"state": string(state.StateBlocked)}).
		Where("NOT EXISTS (SELECT 1 FROM gofire_locks WHERE gofire_locks.resource_name = CAST(? AS TEXT) || gofire_triggers.job_group || '.' || gofire_triggers.job_name)",
			"job:"))
	return err
}
