// Package schedule turns trigger schedule specs into fire time sequences.
//
// Supported specs:
//
//	"*/5 * * * *"          standard five field cron (minute precision)
//	"0 */5 * * * *"        six field cron with a leading seconds field
//	"CRON_TZ=Europe/Paris 0 9 * * MON-FRI"
//	"@hourly", "@daily"    robfig descriptors
//	"@every 30s"           fixed interval, first fire at the trigger start time
//	"@once"                fires once at the trigger start time
//
// Cron specs without a time zone are evaluated in UTC so every node computes the
// same fire times.
package schedule

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
)

const (
	onceSpec  = "@once"
	everySpec = "@every"
)

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Schedule yields fire times. A zero time means there is no further fire.
type Schedule interface {
	// First returns the first fire time at or after start.
	First(start time.Time) time.Time
	// Next returns the slot that follows prev.
	Next(prev time.Time) time.Time
	// NextAfter returns the first slot following prev that is strictly after now.
	NextAfter(prev, now time.Time) time.Time
}

// Parse validates spec and returns its schedule.
func Parse(spec string) (Schedule, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, fmt.Errorf("schedule spec is empty")
	}
	if spec == onceSpec {
		return onceSchedule{}, nil
	}
	if !strings.HasPrefix(spec, everySpec) && !strings.HasPrefix(spec, "CRON_TZ=") && !strings.HasPrefix(spec, "TZ=") {
		spec = "CRON_TZ=UTC " + spec
	}

	parsed, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule spec %q: %w", spec, err)
	}

	switch s := parsed.(type) {
	case cron.ConstantDelaySchedule:
		// cron.Every rounds to whole seconds, so anything it would alter is refused.
		raw, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(spec, everySpec)))
		if err != nil {
			return nil, fmt.Errorf("invalid schedule spec %q: %w", spec, err)
		}
		if raw != s.Delay {
			return nil, fmt.Errorf("invalid schedule spec %q: interval must be a whole number of seconds and at least 1s", spec)
		}
		return intervalSchedule{every: s.Delay}, nil
	case *cron.SpecSchedule:
		return cronSchedule{spec: s}, nil
	default:
		return cronSchedule{spec: parsed}, nil
	}
}

// Validate reports whether spec can be parsed.
func Validate(spec string) error {
	_, err := Parse(spec)
	return err
}

type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) First(start time.Time) time.Time {
	return start
}

func (s intervalSchedule) Next(prev time.Time) time.Time {
	return prev.Add(s.every)
}

func (s intervalSchedule) NextAfter(prev, now time.Time) time.Time {
	if prev.After(now) {
		return prev.Add(s.every)
	}
	skipped := now.Sub(prev) / s.every
	return prev.Add((skipped + 1) * s.every)
}

type cronSchedule struct {
	spec cron.Schedule
}

func (s cronSchedule) First(start time.Time) time.Time {
	return s.spec.Next(start.Add(-time.Nanosecond))
}

func (s cronSchedule) Next(prev time.Time) time.Time {
	return s.spec.Next(prev)
}

func (s cronSchedule) NextAfter(prev, now time.Time) time.Time {
	if prev.After(now) {
		return s.spec.Next(prev)
	}
	return s.spec.Next(now)
}

type onceSchedule struct{}

func (onceSchedule) First(start time.Time) time.Time {
	return start
}

func (onceSchedule) Next(time.Time) time.Time {
	return time.Time{}
}

func (onceSchedule) NextAfter(time.Time, time.Time) time.Time {
	return time.Time{}
}
