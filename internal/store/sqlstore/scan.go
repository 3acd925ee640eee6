package sqlstore

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/internal/state"
	"github.com/RezaEskandarii/gofire-cluster/types"
)

var jobColumns = []string{
	"job_group", "job_name", "job_type", "description", "durable",
	"disallow_concurrent", "timeout_ms", "job_data", "created_at", "updated_at",
}

var triggerColumns = []string{
	"trigger_group", "trigger_name", "job_group", "job_name", "description", "schedule",
	"start_time", "end_time", "next_fire_time", "prev_fire_time", "misfire_policy",
	"state", "owning_node", "acquired_at", "fire_instance_id",
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.Job, error) {
	var (
		job                  types.Job
		timeoutMs            int64
		data                 string
		createdAt, updatedAt int64
	)
	err := row.Scan(
		&job.Key.Group, &job.Key.Name, &job.JobType, &job.Description, &job.Durable,
		&job.DisallowConcurrent, &timeoutMs, &data, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Timeout = time.Duration(timeoutMs) * time.Millisecond
	job.CreatedAt = time.UnixMilli(createdAt)
	job.UpdatedAt = time.UnixMilli(updatedAt)
	if data != "" {
		if err := json.Unmarshal([]byte(data), &job.Data); err != nil {
			return nil, err
		}
	}
	return &job, nil
}

func scanTrigger(row rowScanner) (*types.Trigger, error) {
	var (
		t                                     types.Trigger
		startTime                             int64
		endTime, nextFire, prevFire, acquired sql.NullInt64
		owner, fireID                         sql.NullString
		policy, st                            string
	)
	err := row.Scan(
		&t.Key.Group, &t.Key.Name, &t.JobKey.Group, &t.JobKey.Name, &t.Description, &t.Schedule,
		&startTime, &endTime, &nextFire, &prevFire, &policy,
		&st, &owner, &acquired, &fireID,
	)
	if err != nil {
		return nil, err
	}
	t.StartTime = time.UnixMilli(startTime)
	t.EndTime = fromNullMillis(endTime)
	t.NextFireTime = fromNullMillis(nextFire)
	t.PrevFireTime = fromNullMillis(prevFire)
	t.AcquiredAt = fromNullMillis(acquired)
	t.MisfirePolicy = types.MisfirePolicy(policy)
	t.State = state.TriggerState(st)
	t.OwningNode = owner.String
	t.FireInstanceID = fireID.String
	return &t, nil
}

func scanTriggers(rows *sql.Rows) ([]types.Trigger, error) {
	defer rows.Close()

	var triggers []types.Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		triggers = append(triggers, *t)
	}
	return triggers, rows.Err()
}

func fromNullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

// millisOrNil converts an optional time to a nullable column value.
func millisOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func encodeData(data map[string]any) (string, error) {
	if len(data) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
