// Package scheduler polls the store for due triggers, claims them for this
// node, and hands them to the executor.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/custom_errors"
	"github.com/RezaEskandarii/gofire-cluster/internal/logger"
	"github.com/RezaEskandarii/gofire-cluster/internal/metrics"
	"github.com/RezaEskandarii/gofire-cluster/internal/notify"
	"github.com/RezaEskandarii/gofire-cluster/internal/retry"
	"github.com/RezaEskandarii/gofire-cluster/internal/schedule"
	"github.com/RezaEskandarii/gofire-cluster/internal/store"
	"github.com/RezaEskandarii/gofire-cluster/types"
	"go.uber.org/zap"
)

// Listener observes fires on this node. Hooks run on the goroutine doing the
// fire and must not block for long. Every BeforeFire is followed by exactly one
// AfterFire; a fire no worker accepted ends with OutcomeNotDispatched.
type Listener interface {
	BeforeFire(ctx context.Context, fc *types.FireContext)
	AfterFire(ctx context.Context, fc *types.FireContext, res types.ExecutionResult)
}

// Runner is the part of the executor the scheduler depends on.
type Runner interface {
	Available() int
	Submit(ctx context.Context, job types.Job, fc *types.FireContext, done func(types.ExecutionResult)) error
}

// Reaper reclaims the work of dead nodes.
type Reaper interface {
	Reap(ctx context.Context, now time.Time) ([]types.ReapedNode, error)
}

// ErrNeverFires is returned by FirstFireTime for a trigger whose end time
// precedes its first fire.
var ErrNeverFires = errors.New("schedule never fires before the trigger end time")

type Scheduler struct {
	store            store.JobStore
	runner           Runner
	nodeID           string
	batchSize        int
	pollInterval     time.Duration
	misfireThreshold time.Duration

	notifier  notify.Notifier
	reaper    Reaper
	listeners []Listener
	logger    *zap.SugaredLogger
	metrics   *metrics.Metrics
	now       func() time.Time
	retryOpts []retry.Option
}

type Option func(*Scheduler)

func WithNotifier(n notify.Notifier) Option {
	return func(s *Scheduler) {
		s.notifier = n
	}
}

// WithReaper reclaims dead nodes' work at the start of every poll, so a
// trigger held by a dead node is fired at most one poll interval after the
// node is declared dead.
func WithReaper(r Reaper) Option {
	return func(s *Scheduler) {
		s.reaper = r
	}
}

func WithListeners(listeners ...Listener) Option {
	return func(s *Scheduler) {
		s.listeners = append(s.listeners, listeners...)
	}
}

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Scheduler) {
		s.logger = logger.Component(l, "scheduler")
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithReleaseRetry sets the backoff used when writing a fire's outcome back fails transiently.
func WithReleaseRetry(opts ...retry.Option) Option {
	return func(s *Scheduler) {
		s.retryOpts = opts
	}
}

func New(st store.JobStore, runner Runner, nodeID string, batchSize int, pollInterval, misfireThreshold time.Duration, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:            st,
		runner:           runner,
		nodeID:           nodeID,
		batchSize:        batchSize,
		pollInterval:     pollInterval,
		misfireThreshold: misfireThreshold,
		notifier:         notify.NopNotifier{},
		logger:           logger.Nop(),
		metrics:          metrics.New(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.FieldNode, nodeID)
	return s
}

// Start polls until ctx ends. A schedule change signal from the notifier
// triggers an immediate poll. Transient store failures back the loop off
// exponentially; the loop itself only returns when ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	wake, err := s.notifier.Subscribe(ctx)
	if err != nil {
		s.logger.Warnw("schedule change notifications unavailable, polling only", logger.FieldError, err)
		wake = nil
	}

	b := retry.NewBackOff(
		retry.WithInitialInterval(s.pollInterval),
		retry.WithMaxInterval(30*s.pollInterval),
		retry.WithMaxElapsedTime(0),
	)

	s.logger.Infow("scheduler started", "poll_interval", s.pollInterval, "batch_size", s.batchSize)
	for {
		_, err := s.RunOnce(ctx, s.now())
		if ctx.Err() != nil {
			s.logger.Info("scheduler stopped")
			return nil
		}

		wait := s.pollInterval
		switch {
		case err == nil:
			b.Reset()
		case custom_errors.IsTransient(err):
			s.metrics.ObserveTransient("scheduler")
			wait = b.NextBackOff()
			s.logger.Warnw("poll failed, backing off", logger.FieldError, err, "wait", wait)
		default:
			s.logger.Errorw("poll failed", logger.FieldError, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return nil
		case <-timer.C:
		case _, ok := <-wake:
			timer.Stop()
			if !ok {
				wake = nil
			}
		}
	}
}

// RunOnce reclaims the work of dead nodes, then fetches triggers due at now,
// up to the batch size and the free executor capacity, and fires every one
// this node manages to acquire. It returns how many triggers this node fired
// or skipped.
func (s *Scheduler) RunOnce(ctx context.Context, now time.Time) (int, error) {
	var lastErr error
	if s.reaper != nil {
		if _, err := s.reaper.Reap(ctx, now); err != nil {
			lastErr = err
			s.logger.Warnw("failed to reclaim dead nodes", logger.FieldError, err)
		}
	}

	limit := min(s.batchSize, s.runner.Available())
	if limit <= 0 {
		return 0, lastErr
	}

	due, err := s.store.FetchDueTriggers(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, t := range due {
		if ctx.Err() != nil {
			break
		}
		if t.NextFireTime == nil {
			continue
		}
		ft, err := s.store.AcquireTrigger(ctx, t.Key, *t.NextFireTime, s.nodeID, now)
		if err != nil {
			lastErr = err
			s.logger.Warnw("failed to acquire trigger", logger.FieldTrigger, t.Key.String(), logger.FieldError, err)
			continue
		}
		if ft == nil {
			s.metrics.AcquireConflicts.Inc()
			continue
		}
		s.fire(ctx, ft, now)
		fired++
	}
	return fired, lastErr
}

func (s *Scheduler) fire(ctx context.Context, ft *types.FiredTrigger, now time.Time) {
	t := ft.Trigger
	scheduled := *t.NextFireTime
	log := s.logger.With(logger.FieldTrigger, t.Key.String(), logger.FieldJob, ft.Job.Key.String(),
		logger.FieldFireID, ft.FireInstanceID)

	sched, err := schedule.Parse(t.Schedule)
	if err != nil {
		log.Errorw("trigger has an invalid schedule", logger.FieldError, err)
		s.release(ctx, types.TriggerRelease{
			Key:                t.Key,
			JobKey:             ft.Job.Key,
			FireInstanceID:     ft.FireInstanceID,
			NodeID:             s.nodeID,
			NextFireTime:       t.NextFireTime,
			PrevFireTime:       t.PrevFireTime,
			Schedule:           t.Schedule,
			AcquiredFireTime:   scheduled,
			Errored:            true,
			DisallowConcurrent: ft.Job.DisallowConcurrent,
		}, log)
		return
	}

	late := now.Sub(scheduled)
	misfired := late > s.misfireThreshold
	execute := true
	var next time.Time

	if !misfired {
		next = sched.Next(scheduled)
	} else {
		s.metrics.ObserveMisfire(t.MisfirePolicy)
		switch t.MisfirePolicy {
		case types.MisfireIgnore:
			next = sched.Next(scheduled)
			log.Debugw("misfire, catching up", logger.FieldLateMS, late.Milliseconds(), logger.FieldPolicy, t.MisfirePolicy)
		case types.MisfireDoNothing:
			next = sched.NextAfter(scheduled, now)
			execute = false
			log.Infow("misfire, skipping fire", logger.FieldLateMS, late.Milliseconds(), logger.FieldPolicy, t.MisfirePolicy)
		default:
			next = sched.NextAfter(scheduled, now)
			log.Infow("misfire, firing now", logger.FieldLateMS, late.Milliseconds(), logger.FieldPolicy, t.MisfirePolicy)
		}
	}
	nextFire := successor(next, t.EndTime)

	fc := &types.FireContext{
		TriggerKey:        t.Key,
		JobKey:            ft.Job.Key,
		JobType:           ft.Job.JobType,
		FireInstanceID:    ft.FireInstanceID,
		NodeID:            s.nodeID,
		ScheduledFireTime: scheduled,
		FireTime:          now,
		PrevFireTime:      t.PrevFireTime,
		Misfired:          misfired,
		Data:              ft.Job.Data,
	}

	if !execute {
		res := types.ExecutionResult{Outcome: types.OutcomeSkipped, StartedAt: now, FinishedAt: now}
		s.metrics.ObserveFire(ft.Job.JobType, res)
		rel := s.newRelease(ft, fc, res, nextFire)
		rel.PrevFireTime = t.PrevFireTime
		s.release(ctx, rel, log)
		return
	}

	for _, l := range s.listeners {
		l.BeforeFire(ctx, fc)
	}

	err = s.runner.Submit(ctx, ft.Job, fc, func(res types.ExecutionResult) {
		s.complete(ctx, ft, fc, nextFire, res, log)
	})
	if err != nil {
		// put the trigger back untouched; the next poll picks it up again
		log.Warnw("could not dispatch fire", logger.FieldError, err)
		res := types.ExecutionResult{Outcome: types.OutcomeNotDispatched, Err: err, StartedAt: now, FinishedAt: now}
		for _, l := range s.listeners {
			l.AfterFire(ctx, fc, res)
		}
		s.release(ctx, types.TriggerRelease{
			Key:                t.Key,
			JobKey:             ft.Job.Key,
			FireInstanceID:     ft.FireInstanceID,
			NodeID:             s.nodeID,
			NextFireTime:       t.NextFireTime,
			PrevFireTime:       t.PrevFireTime,
			Schedule:           t.Schedule,
			AcquiredFireTime:   scheduled,
			DisallowConcurrent: ft.Job.DisallowConcurrent,
		}, log)
	}
}

func (s *Scheduler) complete(ctx context.Context, ft *types.FiredTrigger, fc *types.FireContext, next *time.Time, res types.ExecutionResult, log *zap.SugaredLogger) {
	ctx = context.WithoutCancel(ctx)
	for _, l := range s.listeners {
		l.AfterFire(ctx, fc, res)
	}
	log.Debugw("fire finished", logger.FieldOutcome, res.Outcome, logger.FieldDurationMS, res.Duration().Milliseconds())
	s.release(ctx, s.newRelease(ft, fc, res, next), log)
}

func (s *Scheduler) newRelease(ft *types.FiredTrigger, fc *types.FireContext, res types.ExecutionResult, next *time.Time) types.TriggerRelease {
	scheduled := fc.ScheduledFireTime
	record := &types.FireRecord{
		TriggerKey:        fc.TriggerKey,
		JobKey:            fc.JobKey,
		NodeID:            s.nodeID,
		FireInstanceID:    fc.FireInstanceID,
		ScheduledFireTime: scheduled,
		FiredAt:           fc.FireTime,
		FinishedAt:        res.FinishedAt,
		Outcome:           res.Outcome,
		Misfired:          fc.Misfired,
	}
	if res.Err != nil {
		record.Error = res.Err.Error()
	}
	return types.TriggerRelease{
		Key:                fc.TriggerKey,
		JobKey:             fc.JobKey,
		FireInstanceID:     fc.FireInstanceID,
		NodeID:             s.nodeID,
		NextFireTime:       next,
		PrevFireTime:       &scheduled,
		Schedule:           ft.Trigger.Schedule,
		AcquiredFireTime:   scheduled,
		Misfired:           fc.Misfired,
		DisallowConcurrent: ft.Job.DisallowConcurrent,
		Record:             record,
	}
}

// release writes a fire's outcome back, retrying transient failures. If it
// still fails the trigger stays ACQUIRED until the failure detector reclaims
// it from this node.
func (s *Scheduler) release(ctx context.Context, rel types.TriggerRelease, log *zap.SugaredLogger) {
	ctx = context.WithoutCancel(ctx)
	var released bool
	err := retry.Do(ctx, func(ctx context.Context) error {
		ok, err := s.store.ReleaseTrigger(ctx, rel)
		released = ok
		return err
	}, func(err error, wait time.Duration) {
		s.metrics.ObserveTransient("release")
		log.Warnw("release failed, retrying", logger.FieldError, err, "wait", wait)
	}, s.retryOpts...)

	switch {
	case err != nil:
		log.Errorw("failed to release trigger", logger.FieldError, err)
	case !released:
		log.Warnw("release ignored, trigger no longer held by this acquisition")
	}
}

// successor returns nil when the schedule is exhausted or next lies past end.
func successor(next time.Time, end *time.Time) *time.Time {
	if next.IsZero() {
		return nil
	}
	if end != nil && next.After(*end) {
		return nil
	}
	return &next
}

// FirstFireTime is the fire time a new trigger starts with, or an error when
// the schedule never fires before the trigger's end time.
func FirstFireTime(t types.Trigger) (time.Time, error) {
	sched, err := schedule.Parse(t.Schedule)
	if err != nil {
		return time.Time{}, err
	}
	first := successor(sched.First(t.StartTime), t.EndTime)
	if first == nil {
		return time.Time{}, ErrNeverFires
	}
	return *first, nil
}
