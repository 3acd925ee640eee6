package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/custom_errors"
	"github.com/RezaEskandarii/gofire-cluster/internal/cluster"
	"github.com/RezaEskandarii/gofire-cluster/internal/db"
	"github.com/RezaEskandarii/gofire-cluster/internal/executor"
	"github.com/RezaEskandarii/gofire-cluster/internal/lock"
	"github.com/RezaEskandarii/gofire-cluster/internal/metrics"
	"github.com/RezaEskandarii/gofire-cluster/internal/notify"
	"github.com/RezaEskandarii/gofire-cluster/internal/retry"
	"github.com/RezaEskandarii/gofire-cluster/internal/state"
	"github.com/RezaEskandarii/gofire-cluster/internal/store"
	"github.com/RezaEskandarii/gofire-cluster/internal/store/sqlstore"
	"github.com/RezaEskandarii/gofire-cluster/internal/testutil"
	"github.com/RezaEskandarii/gofire-cluster/types"
	"github.com/RezaEskandarii/gofire-cluster/types/config"
	prom "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	threshold = 5 * time.Second
	poll      = time.Second
)

type execution struct {
	node      string
	scheduled int64
}

// recorder is a job that remembers every execution.
type recorder struct {
	mu   sync.Mutex
	runs []execution
}

func (r *recorder) Run(_ context.Context, fc *types.FireContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, execution{node: fc.NodeID, scheduled: fc.ScheduledFireTime.UnixMilli()})
	return nil
}

func (r *recorder) executions() []execution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]execution(nil), r.runs...)
}

type node struct {
	id        string
	executor  *executor.Executor
	scheduler *Scheduler
	metrics   *metrics.Metrics
}

func newSQLiteStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	return sqlstore.New(testutil.NewSQLiteDB(t), db.SQLiteDialect, lock.NewSQLLockManager(db.SQLiteDialect.Placeholder))
}

func newNode(t *testing.T, st store.JobStore, id string, rec *recorder, opts ...Option) *node {
	t.Helper()
	registry := config.NewJobRegistry()
	require.NoError(t, registry.Register("record", rec))
	m := metrics.New()
	exec := executor.New(registry, 10, time.Minute, executor.WithMetrics(m))
	opts = append([]Option{WithMetrics(m)}, opts...)
	return &node{
		id:        id,
		executor:  exec,
		scheduler: New(st, exec, id, 50, poll, threshold, opts...),
		metrics:   m,
	}
}

func (n *node) runOnce(t *testing.T, now int64) int {
	t.Helper()
	fired, err := n.scheduler.RunOnce(context.Background(), time.UnixMilli(now))
	require.NoError(t, err)
	require.True(t, n.executor.Wait(context.Background()))
	return fired
}

func addTrigger(t *testing.T, st store.JobStore, name, spec string, nextFire int64, policy types.MisfirePolicy) types.TriggerKey {
	t.Helper()
	job := types.Job{Key: types.NewJobKey("jobs", "recorded"), JobType: "record", Durable: true}
	next := time.UnixMilli(nextFire)
	tr := types.Trigger{
		Key:           types.NewTriggerKey("triggers", name),
		JobKey:        job.Key,
		Schedule:      spec,
		StartTime:     time.UnixMilli(0),
		NextFireTime:  &next,
		MisfirePolicy: policy,
	}
	require.NoError(t, st.StoreJobAndTrigger(context.Background(), job, tr))
	return tr.Key
}

func getTrigger(t *testing.T, st store.JobStore, key types.TriggerKey) *types.Trigger {
	t.Helper()
	tr, err := st.GetTrigger(context.Background(), key)
	require.NoError(t, err)
	return tr
}

func history(t *testing.T, st store.JobStore, key types.TriggerKey) []types.FireRecord {
	t.Helper()
	page, err := st.ListFireHistory(context.Background(), key, 1, 100)
	require.NoError(t, err)
	return page.Items
}

func TestRunOnce_MisfirePolicies(t *testing.T) {
	const now = int64(100_000)
	const missed = now - 10_000

	tests := []struct {
		name         string
		policy       types.MisfirePolicy
		nextFire     int64
		wantRuns     int
		wantNext     int64
		wantPrev     *int64
		wantOutcome  types.Outcome
		wantMisfired bool
	}{
		{
			name: "fire now runs once and skips to the next slot after now", policy: types.MisfireFireNow,
			nextFire: missed, wantRuns: 1, wantNext: 102_000, wantPrev: ptr(missed),
			wantOutcome: types.OutcomeSuccess, wantMisfired: true,
		},
		{
			name: "ignore runs and advances from the missed slot", policy: types.MisfireIgnore,
			nextFire: missed, wantRuns: 1, wantNext: 94_000, wantPrev: ptr(missed),
			wantOutcome: types.OutcomeSuccess, wantMisfired: true,
		},
		{
			name: "do nothing skips and moves to the next slot after now", policy: types.MisfireDoNothing,
			nextFire: missed, wantRuns: 0, wantNext: 102_000, wantPrev: nil,
			wantOutcome: types.OutcomeSkipped, wantMisfired: true,
		},
		{
			name: "late within threshold is not a misfire", policy: types.MisfireDoNothing,
			nextFire: now - 3_000, wantRuns: 1, wantNext: 101_000, wantPrev: ptr(now - 3_000),
			wantOutcome: types.OutcomeSuccess, wantMisfired: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newSQLiteStore(t)
			rec := &recorder{}
			n := newNode(t, st, "node-a", rec)
			key := addTrigger(t, st, "t", "@every 4s", tt.nextFire, tt.policy)

			assert.Equal(t, 1, n.runOnce(t, now))
			assert.Len(t, rec.executions(), tt.wantRuns)

			tr := getTrigger(t, st, key)
			assert.Equal(t, state.StateWaiting, tr.State)
			require.NotNil(t, tr.NextFireTime)
			assert.Equal(t, tt.wantNext, tr.NextFireTime.UnixMilli())
			if tt.wantPrev == nil {
				assert.Nil(t, tr.PrevFireTime)
			} else {
				require.NotNil(t, tr.PrevFireTime)
				assert.Equal(t, *tt.wantPrev, tr.PrevFireTime.UnixMilli())
			}

			records := history(t, st, key)
			require.Len(t, records, 1)
			assert.Equal(t, tt.wantOutcome, records[0].Outcome)
			assert.Equal(t, tt.wantMisfired, records[0].Misfired)
			assert.Equal(t, tt.nextFire, records[0].ScheduledFireTime.UnixMilli())

			if tt.wantMisfired {
				assert.Equal(t, 1.0, prom.ToFloat64(n.metrics.Misfires.WithLabelValues(string(tt.policy))))
			}
		})
	}
}

func ptr(v int64) *int64 { return &v }

func TestRunOnce_RoundTrip(t *testing.T) {
	st := newSQLiteStore(t)
	rec := &recorder{}
	n := newNode(t, st, "node-a", rec)

	first, err := FirstFireTime(types.Trigger{Schedule: "@every 30s", StartTime: time.UnixMilli(0)})
	require.NoError(t, err)
	key := addTrigger(t, st, "t", "@every 30s", first.UnixMilli(), types.MisfireFireNow)

	assert.Equal(t, 1, n.runOnce(t, 0))
	assert.Equal(t, int64(30_000), getTrigger(t, st, key).NextFireTime.UnixMilli())

	assert.Equal(t, 0, n.runOnce(t, 29_999))
	assert.Equal(t, 1, n.runOnce(t, 30_000))
	assert.Equal(t, int64(60_000), getTrigger(t, st, key).NextFireTime.UnixMilli())
	assert.Equal(t, []execution{{"node-a", 0}, {"node-a", 30_000}}, rec.executions())
}

func TestRunOnce_ExactlyOncePerSlotAcrossNodes(t *testing.T) {
	st := newSQLiteStore(t)
	rec := &recorder{}
	nodes := []*node{
		newNode(t, st, "node-a", rec),
		newNode(t, st, "node-b", rec),
		newNode(t, st, "node-c", rec),
	}
	key := addTrigger(t, st, "t", "@every 30s", 0, types.MisfireFireNow)

	for now := int64(0); now < 90_000; now += 1_000 {
		var wg sync.WaitGroup
		for _, n := range nodes {
			wg.Add(1)
			go func(n *node) {
				defer wg.Done()
				_, err := n.scheduler.RunOnce(context.Background(), time.UnixMilli(now))
				assert.NoError(t, err)
			}(n)
		}
		wg.Wait()
		for _, n := range nodes {
			require.True(t, n.executor.Wait(context.Background()))
		}
	}

	runs := rec.executions()
	require.Len(t, runs, 3)
	slots := map[int64]int{}
	for _, r := range runs {
		slots[r.scheduled]++
		assert.Contains(t, []string{"node-a", "node-b", "node-c"}, r.node)
	}
	assert.Equal(t, map[int64]int{0: 1, 30_000: 1, 60_000: 1}, slots)

	records := history(t, st, key)
	require.Len(t, records, 3)
	for _, r := range records {
		assert.NotEmpty(t, r.NodeID)
	}
}

func TestRunOnce_FailoverAfterNodeDeath(t *testing.T) {
	st := newSQLiteStore(t)
	ctx := context.Background()
	rec := &recorder{}
	clock := int64(0)
	now := func() time.Time { return time.UnixMilli(clock) }

	const interval = time.Second
	const multiplier = 3
	crashed := cluster.NewHeartbeat(st, "node-a", interval, multiplier, cluster.WithClock(now))
	survivor := cluster.NewHeartbeat(st, "node-b", interval, multiplier, cluster.WithClock(now))
	require.NoError(t, crashed.Register(ctx))
	require.NoError(t, survivor.Register(ctx))

	key := addTrigger(t, st, "t", "@every 30s", 0, types.MisfireFireNow)
	fired, err := st.AcquireTrigger(ctx, key, time.UnixMilli(0), "node-a", time.UnixMilli(0))
	require.NoError(t, err)
	require.NotNil(t, fired)

	// node-a dies holding the trigger. node-b checks in on the interval and
	// polls out of phase with it, so recovery must not wait for a check-in.
	b := newNode(t, st, "node-b", rec, WithReaper(survivor))
	const pollOffset = 900 * time.Millisecond
	firedAt := int64(-1)
	for clock = 100; clock <= 10_000 && firedAt < 0; clock += 100 {
		if clock%interval.Milliseconds() == 0 {
			_, err := survivor.Beat(ctx, now())
			require.NoError(t, err)
		}
		if clock%poll.Milliseconds() == pollOffset.Milliseconds() && b.runOnce(t, clock) > 0 {
			firedAt = clock
		}
	}

	require.GreaterOrEqual(t, firedAt, int64(0), "trigger was never recovered")
	bound := (interval*multiplier + poll).Milliseconds()
	assert.LessOrEqual(t, firedAt, bound)
	assert.Equal(t, []execution{{"node-b", 0}}, rec.executions())
	assert.Equal(t, int64(30_000), getTrigger(t, st, key).NextFireTime.UnixMilli())
}

func TestRunOnce_InvalidScheduleErrorsTrigger(t *testing.T) {
	st := newSQLiteStore(t)
	rec := &recorder{}
	n := newNode(t, st, "node-a", rec)
	key := addTrigger(t, st, "t", "not a schedule", 0, types.MisfireFireNow)

	assert.Equal(t, 1, n.runOnce(t, 0))
	assert.Empty(t, rec.executions())
	assert.Equal(t, state.StateError, getTrigger(t, st, key).State)
}

func TestRunOnce_EndTimeCompletesTrigger(t *testing.T) {
	st := newSQLiteStore(t)
	rec := &recorder{}
	n := newNode(t, st, "node-a", rec)

	job := types.Job{Key: types.NewJobKey("jobs", "recorded"), JobType: "record", Durable: true}
	start := time.UnixMilli(0)
	end := time.UnixMilli(20_000)
	tr := types.Trigger{
		Key: types.NewTriggerKey("triggers", "t"), JobKey: job.Key, Schedule: "@every 30s",
		StartTime: start, EndTime: &end, NextFireTime: &start, MisfirePolicy: types.MisfireFireNow,
	}
	require.NoError(t, st.StoreJobAndTrigger(context.Background(), job, tr))

	assert.Equal(t, 1, n.runOnce(t, 0))
	got := getTrigger(t, st, tr.Key)
	assert.Equal(t, state.StateComplete, got.State)
	assert.Nil(t, got.NextFireTime)
	assert.Len(t, rec.executions(), 1)
}

type recordingListener struct {
	mu     sync.Mutex
	before []string
	after  []types.Outcome
}

func (l *recordingListener) BeforeFire(_ context.Context, fc *types.FireContext) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.before = append(l.before, fc.TriggerKey.String())
}

func (l *recordingListener) AfterFire(_ context.Context, _ *types.FireContext, res types.ExecutionResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.after = append(l.after, res.Outcome)
}

func TestRunOnce_Listeners(t *testing.T) {
	st := newSQLiteStore(t)
	l := &recordingListener{}
	n := newNode(t, st, "node-a", &recorder{}, WithListeners(l))
	addTrigger(t, st, "t", "@every 30s", 0, types.MisfireFireNow)

	n.runOnce(t, 0)
	assert.Equal(t, []string{"triggers.t"}, l.before)
	assert.Equal(t, []types.Outcome{types.OutcomeSuccess}, l.after)
}

// fullRunner claims capacity but refuses every submission.
type fullRunner struct{}

func (fullRunner) Available() int { return 1 }

func (fullRunner) Submit(context.Context, types.Job, *types.FireContext, func(types.ExecutionResult)) error {
	return executor.ErrPoolFull
}

func TestRunOnce_UndispatchedFireIsPutBack(t *testing.T) {
	st := newSQLiteStore(t)
	s := New(st, fullRunner{}, "node-a", 10, poll, threshold)
	key := addTrigger(t, st, "t", "@every 30s", 0, types.MisfireFireNow)

	_, err := s.RunOnce(context.Background(), time.UnixMilli(0))
	require.NoError(t, err)

	tr := getTrigger(t, st, key)
	assert.Equal(t, state.StateWaiting, tr.State)
	assert.Equal(t, int64(0), tr.NextFireTime.UnixMilli())
	assert.Empty(t, history(t, st, key))
}

func TestRunOnce_UndispatchedFireBalancesListeners(t *testing.T) {
	st := newSQLiteStore(t)
	l := &recordingListener{}
	s := New(st, fullRunner{}, "node-a", 10, poll, threshold, WithListeners(l))
	addTrigger(t, st, "t", "@every 30s", 0, types.MisfireFireNow)

	_, err := s.RunOnce(context.Background(), time.UnixMilli(0))
	require.NoError(t, err)

	assert.Equal(t, []string{"triggers.t"}, l.before)
	assert.Equal(t, []types.Outcome{types.OutcomeNotDispatched}, l.after)
}

func TestStart_WakesOnScheduleChange(t *testing.T) {
	st := newSQLiteStore(t)
	rec := &recorder{}
	notifier := notify.NewLocalNotifier()
	n := newNode(t, st, "node-a", rec, WithNotifier(notifier))
	n.scheduler.pollInterval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.scheduler.Start(ctx) }()

	addTrigger(t, st, "t", "@every 1h", time.Now().UnixMilli(), types.MisfireFireNow)
	require.Eventually(t, func() bool {
		_ = notifier.Signal(ctx)
		return len(rec.executions()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

// flakyStore fails every fetch with a transient error.
type flakyStore struct {
	store.JobStore
	calls atomic.Int32
}

func (f *flakyStore) FetchDueTriggers(context.Context, time.Time, int) ([]types.Trigger, error) {
	f.calls.Add(1)
	return nil, custom_errors.NewTransientError("fetch due triggers", errors.New("connection refused"))
}

func TestStart_BacksOffOnTransientErrors(t *testing.T) {
	fs := &flakyStore{}
	m := metrics.New()
	registry := config.NewJobRegistry()
	s := New(fs, executor.New(registry, 1, 0), "node-a", 10, 5*time.Millisecond, threshold,
		WithMetrics(m), WithReleaseRetry(retry.WithAttempts(1)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return fs.calls.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
	assert.GreaterOrEqual(t, prom.ToFloat64(m.TransientErrors.WithLabelValues("scheduler")), 2.0)
}

func TestFirstFireTime(t *testing.T) {
	start := time.Date(2024, 1, 1, 10, 0, 30, 0, time.UTC)

	first, err := FirstFireTime(types.Trigger{Schedule: "*/5 * * * *", StartTime: start})
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC), first.UTC())

	end := start.Add(time.Minute)
	_, err = FirstFireTime(types.Trigger{Schedule: "0 12 * * *", StartTime: start, EndTime: &end})
	assert.ErrorIs(t, err, ErrNeverFires)

	_, err = FirstFireTime(types.Trigger{Schedule: "bogus", StartTime: start})
	assert.Error(t, err)
}
