// Package client is the administrative Go API of a gofire cluster. Any
// process with access to the store can use it, whether or not it runs a node.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/custom_errors"
	"github.com/RezaEskandarii/gofire-cluster/internal/logger"
	"github.com/RezaEskandarii/gofire-cluster/internal/notify"
	"github.com/RezaEskandarii/gofire-cluster/internal/schedule"
	"github.com/RezaEskandarii/gofire-cluster/internal/scheduler"
	"github.com/RezaEskandarii/gofire-cluster/internal/store"
	"github.com/RezaEskandarii/gofire-cluster/types"
	"github.com/RezaEskandarii/gofire-cluster/types/config"
	"go.uber.org/zap"
)

type SchedulerClient struct {
	store      store.Store
	registry   *config.JobRegistry
	notifier   notify.Notifier
	multiplier int
	logger     *zap.SugaredLogger
	now        func() time.Time
}

type Option func(*SchedulerClient)

// WithRegistry makes registration reject job types that are not registered locally.
func WithRegistry(r *config.JobRegistry) Option {
	return func(c *SchedulerClient) {
		c.registry = r
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(c *SchedulerClient) {
		c.notifier = n
	}
}

// WithDeadNodeMultiplier sets how many missed check-ins make Nodes report a node as dead.
func WithDeadNodeMultiplier(n int) Option {
	return func(c *SchedulerClient) {
		c.multiplier = n
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *SchedulerClient) {
		c.logger = logger.Component(l, "client")
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *SchedulerClient) {
		c.now = now
	}
}

func NewSchedulerClient(st store.Store, opts ...Option) *SchedulerClient {
	c := &SchedulerClient{
		store:      st,
		notifier:   notify.NopNotifier{},
		multiplier: config.DefaultDeadNodeMultiplier,
		logger:     logger.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddJob stores a job without a trigger. Such a job must be durable.
func (c *SchedulerClient) AddJob(ctx context.Context, job types.Job) error {
	job = normalizeJob(job)
	v := &custom_errors.ValidationError{}
	c.validateJob(v, job)
	if !job.Durable {
		v.Add(custom_errors.ErrNonDurableJob)
	}
	if err := v.Err(); err != nil {
		return err
	}
	return c.store.UpsertJob(ctx, job)
}

// ScheduleJob stores a job together with its trigger and returns the first fire time.
func (c *SchedulerClient) ScheduleJob(ctx context.Context, job types.Job, trigger types.Trigger) (time.Time, error) {
	job = normalizeJob(job)
	if trigger.JobKey.Name == "" {
		trigger.JobKey = job.Key
	}

	v := &custom_errors.ValidationError{}
	c.validateJob(v, job)
	if trigger.JobKey != job.Key {
		v.Addf("trigger %s references job %s instead of %s", trigger.Key, trigger.JobKey, job.Key)
	}
	trigger, first := c.prepareTrigger(v, trigger)
	if err := v.Err(); err != nil {
		return time.Time{}, err
	}

	if err := c.store.StoreJobAndTrigger(ctx, job, trigger); err != nil {
		return time.Time{}, err
	}
	c.signal(ctx)
	return first, nil
}

// ScheduleTrigger adds or replaces a trigger of an existing job and returns its first fire time.
func (c *SchedulerClient) ScheduleTrigger(ctx context.Context, trigger types.Trigger) (time.Time, error) {
	v := &custom_errors.ValidationError{}
	trigger, first := c.prepareTrigger(v, trigger)
	if trigger.JobKey.Name == "" {
		v.Addf("trigger %s has no job", trigger.Key)
	}
	if err := v.Err(); err != nil {
		return time.Time{}, err
	}

	if err := c.store.UpsertTrigger(ctx, trigger); err != nil {
		return time.Time{}, err
	}
	c.signal(ctx)
	return first, nil
}

// UnscheduleTrigger deletes a trigger. A non-durable job left without triggers is deleted as well.
func (c *SchedulerClient) UnscheduleTrigger(ctx context.Context, key types.TriggerKey) (bool, error) {
	return c.store.DeleteTrigger(ctx, key)
}

func (c *SchedulerClient) DeleteJob(ctx context.Context, key types.JobKey) (bool, error) {
	return c.store.DeleteJob(ctx, key)
}

func (c *SchedulerClient) PauseTrigger(ctx context.Context, key types.TriggerKey) (bool, error) {
	return c.store.PauseTrigger(ctx, key)
}

func (c *SchedulerClient) ResumeTrigger(ctx context.Context, key types.TriggerKey) (bool, error) {
	ok, err := c.store.ResumeTrigger(ctx, key)
	if ok {
		c.signal(ctx)
	}
	return ok, err
}

func (c *SchedulerClient) PauseTriggerGroup(ctx context.Context, group string) (int, error) {
	return c.store.PauseTriggerGroup(ctx, group)
}

func (c *SchedulerClient) ResumeTriggerGroup(ctx context.Context, group string) (int, error) {
	n, err := c.store.ResumeTriggerGroup(ctx, group)
	if n > 0 {
		c.signal(ctx)
	}
	return n, err
}

func (c *SchedulerClient) PauseJobGroup(ctx context.Context, group string) (int, error) {
	return c.store.PauseJobGroup(ctx, group)
}

func (c *SchedulerClient) ResumeJobGroup(ctx context.Context, group string) (int, error) {
	n, err := c.store.ResumeJobGroup(ctx, group)
	if n > 0 {
		c.signal(ctx)
	}
	return n, err
}

func (c *SchedulerClient) GetJob(ctx context.Context, key types.JobKey) (*types.Job, error) {
	return c.store.GetJob(ctx, key)
}

func (c *SchedulerClient) GetTrigger(ctx context.Context, key types.TriggerKey) (*types.Trigger, error) {
	return c.store.GetTrigger(ctx, key)
}

func (c *SchedulerClient) TriggersOfJob(ctx context.Context, key types.JobKey) ([]types.Trigger, error) {
	return c.store.ListTriggersForJob(ctx, key)
}

// DueTriggers lists live triggers due before now+window, overdue ones included.
func (c *SchedulerClient) DueTriggers(ctx context.Context, window time.Duration) ([]types.Trigger, error) {
	if window < 0 {
		return nil, fmt.Errorf("window must not be negative")
	}
	return c.store.ListTriggersDueWithin(ctx, time.Time{}, c.now().Add(window))
}

// Nodes lists every registered node with its liveness as of now.
func (c *SchedulerClient) Nodes(ctx context.Context) ([]types.Node, error) {
	return c.store.ListNodes(ctx, c.now(), c.multiplier)
}

func (c *SchedulerClient) Locks(ctx context.Context) ([]types.LockRecord, error) {
	return c.store.ListLocks(ctx)
}

func (c *SchedulerClient) FireHistory(ctx context.Context, key types.TriggerKey, page, pageSize int) (*types.PaginationResult[types.FireRecord], error) {
	return c.store.ListFireHistory(ctx, key, page, pageSize)
}

func (c *SchedulerClient) signal(ctx context.Context) {
	if err := c.notifier.Signal(ctx); err != nil {
		c.logger.Warnw("failed to announce schedule change", logger.FieldError, err)
	}
}

func normalizeJob(job types.Job) types.Job {
	job.Key = types.NewJobKey(job.Key.Group, job.Key.Name)
	job.JobType = strings.TrimSpace(job.JobType)
	return job
}

func (c *SchedulerClient) validateJob(v *custom_errors.ValidationError, job types.Job) {
	if job.Key.Name == "" {
		v.Addf("job name is required")
	}
	if job.JobType == "" {
		v.Addf("job %s has no job type", job.Key)
	} else if c.registry != nil && !c.registry.Exists(job.JobType) {
		v.Add(fmt.Errorf("%w: %s", custom_errors.ErrJobTypeNotFound, job.JobType))
	}
	if job.Timeout < 0 {
		v.Addf("job %s has a negative timeout", job.Key)
	}
}

// prepareTrigger validates a trigger and fills in its defaults and first fire time.
func (c *SchedulerClient) prepareTrigger(v *custom_errors.ValidationError, t types.Trigger) (types.Trigger, time.Time) {
	t.Key = types.NewTriggerKey(t.Key.Group, t.Key.Name)
	if t.JobKey.Name != "" {
		t.JobKey = types.NewJobKey(t.JobKey.Group, t.JobKey.Name)
	}
	if t.Key.Name == "" {
		v.Addf("trigger name is required")
	}
	if t.MisfirePolicy == "" {
		t.MisfirePolicy = types.MisfireFireNow
	}
	if !t.MisfirePolicy.IsValid() {
		v.Addf("trigger %s has unknown misfire policy %q", t.Key, t.MisfirePolicy)
	}
	if t.StartTime.IsZero() {
		t.StartTime = c.now()
	}
	if t.EndTime != nil && t.EndTime.Before(t.StartTime) {
		v.Addf("trigger %s ends before it starts", t.Key)
	}
	if err := schedule.Validate(t.Schedule); err != nil {
		v.Add(err)
		return t, time.Time{}
	}

	first, err := scheduler.FirstFireTime(t)
	if errors.Is(err, scheduler.ErrNeverFires) {
		v.Addf("trigger %s never fires before its end time", t.Key)
		return t, time.Time{}
	}
	if err != nil {
		v.Add(err)
		return t, time.Time{}
	}
	t.NextFireTime = &first
	t.PrevFireTime = nil
	t.State = ""
	return t, first
}
