package types

import "strings"

// DefaultGroup is used when a job or trigger is registered without a group.
const DefaultGroup = "DEFAULT"

const (
	triggerResourcePrefix = "trigger:"
	jobResourcePrefix     = "job:"
)

type JobKey struct {
	Group string `json:"group"`
	Name  string `json:"name"`
}

func NewJobKey(group, name string) JobKey {
	return JobKey{Group: normalizeGroup(group), Name: strings.TrimSpace(name)}
}

func (k JobKey) String() string {
	return k.Group + "." + k.Name
}

// ResourceName is the lock record name that guards non-concurrent execution of the job.
func (k JobKey) ResourceName() string {
	return jobResourcePrefix + k.String()
}

type TriggerKey struct {
	Group string `json:"group"`
	Name  string `json:"name"`
}

func NewTriggerKey(group, name string) TriggerKey {
	return TriggerKey{Group: normalizeGroup(group), Name: strings.TrimSpace(name)}
}

func (k TriggerKey) String() string {
	return k.Group + "." + k.Name
}

// ResourceName is the lock record name held while the trigger is acquired.
func (k TriggerKey) ResourceName() string {
	return triggerResourcePrefix + k.String()
}

func normalizeGroup(group string) string {
	group = strings.TrimSpace(group)
	if group == "" {
		return DefaultGroup
	}
	return group
}
