package types

import (
	"time"

	"github.com/RezaEskandarii/gofire-cluster/internal/state"
)

type Node struct {
	ID              string          `json:"id"`
	State           state.NodeState `json:"state"`
	LastCheckin     time.Time       `json:"last_checkin"`
	CheckinInterval time.Duration   `json:"checkin_interval"`
	StartedAt       time.Time       `json:"started_at"`
	Alive           bool            `json:"alive"`
}

// IsDead reports whether the node missed more than multiplier check-ins as of now.
func (n Node) IsDead(now time.Time, multiplier int) bool {
	return n.LastCheckin.Add(n.CheckinInterval * time.Duration(multiplier)).Before(now)
}

// ReapedNode is what the failure detector reclaimed from one dead node.
type ReapedNode struct {
	NodeID           string    `json:"node_id"`
	LastCheckin      time.Time `json:"last_checkin"`
	Resources        []string  `json:"resources"`
	ReleasedTriggers int       `json:"released_triggers"`
}
