package types

import (
	"time"

	"github.com/RezaEskandarii/gofire-cluster/internal/state"
)

type MisfirePolicy string

const (
	MisfireFireNow   MisfirePolicy = "FIRE_NOW"
	MisfireIgnore    MisfirePolicy = "IGNORE"
	MisfireDoNothing MisfirePolicy = "DO_NOTHING"
)

func (p MisfirePolicy) String() string {
	return string(p)
}

func (p MisfirePolicy) IsValid() bool {
	switch p {
	case MisfireFireNow, MisfireIgnore, MisfireDoNothing:
		return true
	}
	return false
}

type Trigger struct {
	Key            TriggerKey         `json:"key"`
	JobKey         JobKey             `json:"job_key"`
	Description    string             `json:"description,omitempty"`
	Schedule       string             `json:"schedule"`
	StartTime      time.Time          `json:"start_time"`
	EndTime        *time.Time         `json:"end_time,omitempty"`
	NextFireTime   *time.Time         `json:"next_fire_time,omitempty"`
	PrevFireTime   *time.Time         `json:"prev_fire_time,omitempty"`
	MisfirePolicy  MisfirePolicy      `json:"misfire_policy"`
	State          state.TriggerState `json:"state"`
	OwningNode     string             `json:"owning_node,omitempty"`
	AcquiredAt     *time.Time         `json:"acquired_at,omitempty"`
	FireInstanceID string             `json:"fire_instance_id,omitempty"`
}

// FiredTrigger is the result of a successful acquisition: the trigger as it was
// acquired, its job, and the id of this particular firing.
type FiredTrigger struct {
	Trigger        Trigger
	Job            Job
	FireInstanceID string
	NodeID         string
	AcquiredAt     time.Time
}

// TriggerRelease describes how an acquired trigger goes back to the store.
type TriggerRelease struct {
	Key            TriggerKey
	JobKey         JobKey
	FireInstanceID string
	NodeID         string
	NextFireTime   *time.Time // nil completes the trigger
	PrevFireTime   *time.Time
	// Schedule and AcquiredFireTime are the trigger's schedule and next fire
	// time at acquisition. When the stored trigger no longer matches them it
	// was replaced mid-fire and keeps its own next fire time.
	Schedule           string
	AcquiredFireTime   time.Time
	Misfired           bool
	Errored            bool // the stored schedule could not be evaluated
	DisallowConcurrent bool
	Record             *FireRecord
}
