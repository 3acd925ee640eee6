package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/RezaEskandarii/gofire-cluster/custom_errors"
	"github.com/RezaEskandarii/gofire-cluster/internal/state"
	"github.com/RezaEskandarii/gofire-cluster/types"
	"github.com/google/uuid"
)

// AcquireTrigger claims a due trigger for nodeID.
//
// In one transaction it compare-and-swaps the trigger from WAITING to ACQUIRED,
// guarded by the next fire time the caller fetched so a slot another node has
// already fired and advanced cannot be fired again, then inserts the trigger
// lock record. A job that disallows concurrent execution also needs its job
// lock; when another node holds it the trigger becomes BLOCKED instead.
func (s *Store) AcquireTrigger(ctx context.Context, key types.TriggerKey, expectedNextFire time.Time, nodeID string, now time.Time) (*types.FiredTrigger, error) {
	fireID := uuid.NewString()
	var fired *types.FiredTrigger

	err := s.inTx(ctx, "acquire trigger", func(tx *sql.Tx) error {
		n, err := s.exec(ctx, tx, s.builder.
			Update(triggersTable).
			Set("state", string(state.StateAcquired)).
			Set("owning_node", nodeID).
			Set("acquired_at", now.UnixMilli()).
			Set("fire_instance_id", fireID).
			Where(sq.Eq{
				"trigger_group":  key.Group,
				"trigger_name":   key.Name,
				"state":          string(state.StateWaiting),
				"next_fire_time": expectedNextFire.UnixMilli(),
			}))
		if err != nil {
			return err
		}
		if n == 0 {
			return errLostRace
		}

		ok, err := s.locks.TryAcquire(ctx, tx, key.ResourceName(), nodeID, now)
		if err != nil {
			return err
		}
		if !ok {
			return errLostRace
		}

		trigger, err := s.getTrigger(ctx, tx, key)
		if err != nil {
			return err
		}
		job, err := s.getJob(ctx, tx, trigger.JobKey)
		if err != nil {
			return err
		}

		if job.DisallowConcurrent {
			ok, err := s.locks.TryAcquire(ctx, tx, job.Key.ResourceName(), nodeID, now)
			if err != nil {
				return err
			}
			if !ok {
				return s.blockTrigger(ctx, tx, key, nodeID)
			}
		}

		fired = &types.FiredTrigger{
			Trigger:        *trigger,
			Job:            *job,
			FireInstanceID: fireID,
			NodeID:         nodeID,
			AcquiredAt:     now,
		}
		return nil
	})
	if errors.Is(err, errLostRace) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return fired, nil
}

// blockTrigger parks an acquired trigger whose job is running elsewhere. The
// job lock holder unblocks it on release.
func (s *Store) blockTrigger(ctx context.Context, q *sql.Tx, key types.TriggerKey, nodeID string) error {
	if _, err := s.exec(ctx, q, s.builder.
		Update(triggersTable).
		Set("state", string(state.StateBlocked)).
		Set("owning_node", nil).
		Set("acquired_at", nil).
		Set("fire_instance_id", nil).
		Where(sq.Eq{"trigger_group": key.Group, "trigger_name": key.Name})); err != nil {
		return err
	}
	return s.locks.Release(ctx, q, key.ResourceName(), nodeID)
}

// ReleaseTrigger writes the outcome of one acquisition back. Only the
// acquisition identified by FireInstanceID can be released, and only once.
func (s *Store) ReleaseTrigger(ctx context.Context, rel types.TriggerRelease) (bool, error) {
	released := false

	err := s.inTx(ctx, "release trigger", func(tx *sql.Tx) error {
		next, errored := rel.NextFireTime, rel.Errored
		if rel.Schedule != "" {
			cur, err := s.getTrigger(ctx, tx, rel.Key)
			if errors.Is(err, custom_errors.ErrTriggerNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if cur.FireInstanceID != rel.FireInstanceID {
				return nil
			}
			if replacedWhileFiring(cur, rel) {
				next, errored = cur.NextFireTime, false
			}
		}

		var nextState any
		switch {
		case errored:
			nextState = string(state.StateError)
		case next == nil:
			nextState = string(state.StateComplete)
		default:
			// a trigger paused while firing stays paused
			nextState = sq.Expr("CASE WHEN state = ? THEN ? ELSE ? END",
				string(state.StatePaused), string(state.StatePaused), string(state.StateWaiting))
		}

		n, err := s.exec(ctx, tx, s.builder.
			Update(triggersTable).
			Set("state", nextState).
			Set("next_fire_time", millisOrNil(next)).
			Set("prev_fire_time", millisOrNil(rel.PrevFireTime)).
			Set("owning_node", nil).
			Set("acquired_at", nil).
			Set("fire_instance_id", nil).
			Where(sq.Eq{
				"trigger_group":    rel.Key.Group,
				"trigger_name":     rel.Key.Name,
				"fire_instance_id": rel.FireInstanceID,
			}))
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		released = true

		if err := s.locks.Release(ctx, tx, rel.Key.ResourceName(), rel.NodeID); err != nil {
			return err
		}
		if rel.DisallowConcurrent {
			if err := s.locks.Release(ctx, tx, rel.JobKey.ResourceName(), rel.NodeID); err != nil {
				return err
			}
			if err := s.unblockTriggers(ctx, tx); err != nil {
				return err
			}
		}
		if rel.Record != nil {
			if err := s.insertFireRecord(ctx, tx, *rel.Record); err != nil {
				return err
			}
		}
		if next == nil && !errored {
			return s.deleteJobIfOrphaned(ctx, tx, rel.JobKey)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return released, nil
}

// replacedWhileFiring reports whether the trigger was re-registered after it
// was acquired.
func replacedWhileFiring(cur *types.Trigger, rel types.TriggerRelease) bool {
	if cur.Schedule != rel.Schedule {
		return true
	}
	if rel.AcquiredFireTime.IsZero() {
		return false
	}
	return cur.NextFireTime == nil || !cur.NextFireTime.Equal(rel.AcquiredFireTime)
}
