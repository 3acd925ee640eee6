package state

type TriggerState string

const (
	StateWaiting  TriggerState = "WAITING"
	StateAcquired TriggerState = "ACQUIRED"
	StatePaused   TriggerState = "PAUSED"
	StateComplete TriggerState = "COMPLETE"
	StateError    TriggerState = "ERROR"
	StateBlocked  TriggerState = "BLOCKED"
)

func (s TriggerState) String() string {
	return string(s)
}

var AllStates = []TriggerState{
	StateWaiting,
	StateAcquired,
	StatePaused,
	StateComplete,
	StateError,
	StateBlocked,
}

// IsValid reports whether s is one of the known trigger states.
func (s TriggerState) IsValid() bool {
	for _, st := range AllStates {
		if st == s {
			return true
		}
	}
	return false
}

type Transition struct {
	From TriggerState
	To   TriggerState
}

var ValidTransitions = []Transition{
	{From: StateWaiting, To: StateAcquired},
	{From: StateAcquired, To: StateWaiting},
	{From: StateAcquired, To: StateComplete},
	{From: StateAcquired, To: StateError},
	{From: StateWaiting, To: StatePaused},
	{From: StateAcquired, To: StatePaused},
	{From: StateBlocked, To: StatePaused},
	{From: StateError, To: StatePaused},
	{From: StatePaused, To: StateWaiting},
	{From: StatePaused, To: StateAcquired},
	{From: StateWaiting, To: StateBlocked},
	{From: StateBlocked, To: StateWaiting},
}

func IsValidTransition(from, to TriggerState) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}

// NodeState is the lifecycle of a scheduler node as seen by its own heartbeat.
type NodeState string

const (
	NodeStarting NodeState = "STARTING"
	NodeActive   NodeState = "ACTIVE"
	NodeStopping NodeState = "STOPPING"
	NodeRemoved  NodeState = "REMOVED"
)

func (s NodeState) String() string {
	return string(s)
}

var nodeTransitions = map[NodeState][]NodeState{
	NodeStarting: {NodeActive, NodeStopping},
	NodeActive:   {NodeStopping},
	NodeStopping: {NodeRemoved},
}

func IsValidNodeTransition(from, to NodeState) bool {
	for _, next := range nodeTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
