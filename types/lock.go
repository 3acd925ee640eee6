package types

import "time"

// LockRecord is an exclusive claim of one node on a named resource.
type LockRecord struct {
	ResourceName string    `json:"resource_name"`
	OwningNode   string    `json:"owning_node"`
	AcquiredAt   time.Time `json:"acquired_at"`
}
