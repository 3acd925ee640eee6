// Package executor runs fired jobs on a bounded pool of goroutines.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/custom_errors"
	"github.com/RezaEskandarii/gofire-cluster/internal/logger"
	"github.com/RezaEskandarii/gofire-cluster/internal/metrics"
	"github.com/RezaEskandarii/gofire-cluster/types"
	"github.com/RezaEskandarii/gofire-cluster/types/config"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ErrPoolFull is returned by Submit when every worker is busy.
var ErrPoolFull = errors.New("executor: no free worker")

type Executor struct {
	registry       *config.JobRegistry
	sem            *semaphore.Weighted
	size           int64
	busy           atomic.Int64
	wg             sync.WaitGroup
	defaultTimeout time.Duration
	logger         *zap.SugaredLogger
	metrics        *metrics.Metrics
	now            func() time.Time
}

type Option func(*Executor)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Executor) {
		e.logger = logger.Component(l, "executor")
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		e.now = now
	}
}

// New returns an executor running at most poolSize jobs at once. Jobs without
// their own timeout are bounded by defaultTimeout; 0 leaves them unbounded.
func New(registry *config.JobRegistry, poolSize int, defaultTimeout time.Duration, opts ...Option) *Executor {
	if poolSize < 1 {
		poolSize = 1
	}
	e := &Executor{
		registry:       registry,
		sem:            semaphore.NewWeighted(int64(poolSize)),
		size:           int64(poolSize),
		defaultTimeout: defaultTimeout,
		logger:         logger.Nop(),
		metrics:        metrics.New(),
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Available reports how many more jobs can be submitted right now.
func (e *Executor) Available() int {
	return int(e.size - e.busy.Load())
}

// Submit runs the job on a free worker and calls done with its result on that
// worker. The worker stays reserved until done returned and the job body
// itself exited, so a timed out job that ignores its context keeps holding
// its slot.
func (e *Executor) Submit(ctx context.Context, job types.Job, fc *types.FireContext, done func(types.ExecutionResult)) error {
	if !e.sem.TryAcquire(1) {
		return ErrPoolFull
	}
	e.busy.Add(1)
	untrack := e.metrics.TrackBusy()
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		defer func() {
			untrack()
			e.busy.Add(-1)
			e.sem.Release(1)
		}()

		res, exited := e.run(ctx, job, fc)
		if done != nil {
			done(res)
		}
		<-exited
	}()
	return nil
}

// Wait blocks until every submitted job and its completion callback returned,
// or ctx ends. It reports whether all work finished.
func (e *Executor) Wait(ctx context.Context) bool {
	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-ctx.Done():
		return false
	}
}

type runResult struct {
	err error
}

// Execute runs one job synchronously. The job context does not inherit ctx's
// cancellation, so stopping the scheduler does not interrupt running jobs.
// When the job outlives its timeout Execute returns TIMEOUT without waiting
// for it; the job's context is cancelled so cooperative jobs stop.
func (e *Executor) Execute(ctx context.Context, job types.Job, fc *types.FireContext) types.ExecutionResult {
	res, _ := e.run(ctx, job, fc)
	return res
}

// run returns the job's result and a channel closed once the job body has
// returned. On timeout the result comes back before the body exits.
func (e *Executor) run(ctx context.Context, job types.Job, fc *types.FireContext) (types.ExecutionResult, <-chan struct{}) {
	exited := make(chan struct{})
	start := e.now()
	log := e.logger.With(logger.FieldTrigger, fc.TriggerKey.String(), logger.FieldJob, job.Key.String(),
		logger.FieldFireID, fc.FireInstanceID)

	runnable, ok := e.registry.Get(job.JobType)
	if !ok {
		err := fmt.Errorf("%w: %s", custom_errors.ErrJobTypeNotFound, job.JobType)
		log.Errorw("cannot run job", logger.FieldError, err)
		close(exited)
		return e.finish(job, start, types.OutcomeFailure, err), exited
	}

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	resCh := make(chan runResult, 1)
	go func() {
		defer close(exited)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("job panicked", "panic", r, "stack", string(debug.Stack()))
				resCh <- runResult{err: fmt.Errorf("job panicked: %v", r)}
			}
		}()
		resCh <- runResult{err: runnable.Run(runCtx, fc)}
	}()

	select {
	case r := <-resCh:
		if r.err != nil {
			log.Warnw("job failed", logger.FieldError, r.err)
			return e.finish(job, start, types.OutcomeFailure, r.err), exited
		}
		return e.finish(job, start, types.OutcomeSuccess, nil), exited
	case <-deadline:
		cancel()
		err := fmt.Errorf("job exceeded timeout of %s", timeout)
		log.Warnw("job timed out", logger.FieldError, err)
		return e.finish(job, start, types.OutcomeTimeout, err), exited
	}
}

func (e *Executor) finish(job types.Job, start time.Time, outcome types.Outcome, err error) types.ExecutionResult {
	res := types.ExecutionResult{
		Outcome:    outcome,
		Err:        err,
		StartedAt:  start,
		FinishedAt: e.now(),
	}
	e.metrics.ObserveFire(job.JobType, res)
	return res
}
