package types

import (
	"time"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomeTimeout Outcome = "TIMEOUT"
	OutcomeSkipped Outcome = "SKIPPED" // misfired with DO_NOTHING
	// OutcomeNotDispatched is only seen by listeners: no worker took the fire
	// and the trigger was put back for the next poll.
	OutcomeNotDispatched Outcome = "NOT_DISPATCHED"
)

func (o Outcome) String() string {
	return string(o)
}

type ExecutionResult struct {
	Outcome    Outcome
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

func (r ExecutionResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// FireContext is handed to a job for one firing.
type FireContext struct {
	TriggerKey        TriggerKey
	JobKey            JobKey
	JobType           string
	FireInstanceID    string
	NodeID            string
	ScheduledFireTime time.Time
	FireTime          time.Time
	PrevFireTime      *time.Time
	Misfired          bool
	Data              map[string]any
}

// FireRecord is one row of fire history.
type FireRecord struct {
	ID                int64      `json:"id"`
	TriggerKey        TriggerKey `json:"trigger_key"`
	JobKey            JobKey     `json:"job_key"`
	NodeID            string     `json:"node_id"`
	FireInstanceID    string     `json:"fire_instance_id"`
	ScheduledFireTime time.Time  `json:"scheduled_fire_time"`
	FiredAt           time.Time  `json:"fired_at"`
	FinishedAt        time.Time  `json:"finished_at"`
	Outcome           Outcome    `json:"outcome"`
	Error             string     `json:"error,omitempty"`
	Misfired          bool       `json:"misfired"`
}
