package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/client"
	"github.com/RezaEskandarii/gofire-cluster/internal/cluster"
	"github.com/RezaEskandarii/gofire-cluster/internal/db"
	"github.com/RezaEskandarii/gofire-cluster/internal/executor"
	"github.com/RezaEskandarii/gofire-cluster/internal/lock"
	"github.com/RezaEskandarii/gofire-cluster/internal/logger"
	"github.com/RezaEskandarii/gofire-cluster/internal/message_broaker"
	"github.com/RezaEskandarii/gofire-cluster/internal/metrics"
	"github.com/RezaEskandarii/gofire-cluster/internal/notify"
	"github.com/RezaEskandarii/gofire-cluster/internal/scheduler"
	"github.com/RezaEskandarii/gofire-cluster/internal/store/sqlstore"
	"github.com/RezaEskandarii/gofire-cluster/types/config"
	"github.com/RezaEskandarii/gofire-cluster/web"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Container holds all node dependencies. It is the single source of truth
// for dependency injection and ensures connections and services are created once.
type Container struct {
	Config *config.GofireConfig
	Logger *zap.SugaredLogger

	// Storage connections (created once, shared by all components)
	DB      *sql.DB
	Dialect db.Dialect
	Redis   *redis.Client

	Store       *sqlstore.Store
	LockManager lock.Manager

	// Infrastructure
	Metrics       *metrics.Metrics
	Notifier      notify.Notifier
	MessageBroker message_broaker.MessageBroker

	// Node components
	Registry  *config.JobRegistry
	Executor  *executor.Executor
	Scheduler *scheduler.Scheduler
	Heartbeat *cluster.Heartbeat
	Client    *client.SchedulerClient
	Admin     *web.HttpRouteHandler

	ownsDB bool

	mu        sync.Mutex
	stopLoops context.CancelFunc
	loops     *errgroup.Group
	stopBeat  context.CancelFunc
	beat      *errgroup.Group
	stopped   bool
}

// NewContainer creates and wires all dependencies and brings the schema up to date.
// Call this once per node lifecycle. registry holds the job types this node can run.
// Pass optional WithDB, WithRedis, WithMessageBroker to inject connections for testing.
func NewContainer(ctx context.Context, cfg *config.GofireConfig, registry *config.JobRegistry, opts ...ContainerOption) (*Container, error) {
	opt := &containerConfig{now: time.Now}
	for _, o := range opts {
		o(opt)
	}
	if registry == nil {
		registry = config.NewJobRegistry()
	}

	log := opt.logger
	if log == nil {
		var err error
		if log, err = logger.New(cfg.LogLevel, cfg.LogDevelopment); err != nil {
			return nil, err
		}
	}
	log = log.With(logger.FieldNode, cfg.Instance)

	c := &Container{Config: cfg, Logger: log, Registry: registry, Metrics: metrics.New()}
	for _, step := range []func() error{
		func() error { return c.initStorage(ctx, opt) },
		func() error { return c.initNotifier(ctx, opt) },
		func() error { return c.initMessageBroker(opt) },
	} {
		if err := step(); err != nil {
			return nil, multierr.Append(err, c.close())
		}
	}

	c.Executor = executor.New(registry, cfg.WorkerPoolSize, cfg.DefaultJobTimeout,
		executor.WithLogger(log),
		executor.WithMetrics(c.Metrics),
		executor.WithClock(opt.now),
	)

	c.Heartbeat = cluster.NewHeartbeat(c.Store, cfg.Instance, cfg.CheckinInterval, cfg.DeadNodeMultiplier,
		cluster.WithLogger(log),
		cluster.WithMetrics(c.Metrics),
		cluster.WithClock(opt.now),
	)

	listeners := opt.listeners
	if c.MessageBroker != nil {
		listeners = append(listeners, message_broaker.NewFireEventPublisher(c.MessageBroker, log))
	}
	c.Scheduler = scheduler.New(c.Store, c.Executor, cfg.Instance, cfg.BatchSize, cfg.PollInterval, cfg.MisfireThreshold,
		scheduler.WithNotifier(c.Notifier),
		scheduler.WithReaper(c.Heartbeat),
		scheduler.WithListeners(listeners...),
		scheduler.WithLogger(log),
		scheduler.WithMetrics(c.Metrics),
		scheduler.WithClock(opt.now),
	)

	c.Client = client.NewSchedulerClient(c.Store,
		client.WithRegistry(registry),
		client.WithNotifier(c.Notifier),
		client.WithDeadNodeMultiplier(cfg.DeadNodeMultiplier),
		client.WithLogger(log),
		client.WithClock(opt.now),
	)

	if cfg.AdminEnabled {
		c.Admin = web.NewRouteHandler(c.Client, c.Metrics, logger.Component(log, "admin"),
			cfg.AdminUserName, cfg.AdminPasswordHash, cfg.AdminPort)
	}
	return c, nil
}

// initStorage opens (or adopts) the database and applies pending migrations
// under the dialect's migration lock.
func (c *Container) initStorage(ctx context.Context, opt *containerConfig) error {
	if opt.db != nil {
		dialect, err := db.DialectFor(c.Config.StorageDriver)
		if err != nil {
			return err
		}
		c.DB, c.Dialect = opt.db, dialect
	} else {
		conn, dialect, err := db.Open(c.Config)
		if err != nil {
			return fmt.Errorf("init storage: %w", err)
		}
		c.DB, c.Dialect, c.ownsDB = conn, dialect, true
	}

	if err := db.Migrate(ctx, c.DB, c.Dialect, c.Dialect.DistributedLockManager(c.DB), logger.Component(c.Logger, "migrate")); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	c.LockManager = lock.NewSQLLockManager(c.Dialect.Placeholder)
	c.Store = sqlstore.New(c.DB, c.Dialect, c.LockManager, sqlstore.WithClock(opt.now))
	return nil
}

// initNotifier uses Redis pub/sub when configured so schedule changes wake
// every node, and an in-process notifier otherwise.
func (c *Container) initNotifier(ctx context.Context, opt *containerConfig) error {
	if !c.Config.UseRedisNotifier && opt.redis == nil {
		c.Notifier = notify.NewLocalNotifier()
		return nil
	}

	c.Redis = opt.redis
	if c.Redis == nil {
		rc := c.Config.RedisConfig
		c.Redis = redis.NewClient(&redis.Options{Addr: rc.Address, Password: rc.Password, DB: rc.DB})
	}
	if err := c.Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("init redis: %w", err)
	}

	channel := c.Config.RedisConfig.Channel
	if channel == "" {
		channel = config.DefaultRedisChannel
	}
	c.Notifier = notify.NewRedisNotifier(c.Redis, channel, logger.Component(c.Logger, "notifier"))
	return nil
}

func (c *Container) initMessageBroker(opt *containerConfig) error {
	if opt.broker != nil {
		c.MessageBroker = opt.broker
		return nil
	}
	if !c.Config.PublishFireEvents {
		return nil
	}
	switch c.Config.MQDriver {
	case config.RabbitMQ:
		broker, err := message_broaker.NewRabbitMQ(*c.Config.RabbitMQConfig)
		if err != nil {
			return fmt.Errorf("init rabbitmq: %w", err)
		}
		c.MessageBroker = broker
		return nil
	}
	return fmt.Errorf("unsupported message queue driver: %v", c.Config.MQDriver)
}

// Start joins the cluster and runs the heartbeat, the scheduler loop and,
// when enabled, the admin API in the background. The scheduler and admin API
// stop when ctx ends; the heartbeat keeps the node alive until Stop, so jobs
// still running after a cancellation are not taken over by peers.
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loops != nil || c.stopped {
		return errors.New("node already started or stopped")
	}

	if err := c.Heartbeat.Register(ctx); err != nil {
		return err
	}

	beatCtx, stopBeat := context.WithCancel(context.WithoutCancel(ctx))
	beat := &errgroup.Group{}
	beat.Go(func() error { return c.Heartbeat.Run(beatCtx) })

	loopCtx, stopLoops := context.WithCancel(ctx)
	loops, gctx := errgroup.WithContext(loopCtx)
	loops.Go(func() error { return c.Scheduler.Start(gctx) })
	if c.Admin != nil {
		loops.Go(func() error { return c.Admin.Serve(gctx) })
	}

	c.stopLoops, c.loops = stopLoops, loops
	c.stopBeat, c.beat = stopBeat, beat
	c.Logger.Infow("node started",
		"storage", c.Dialect.Name,
		"worker_pool_size", c.Config.WorkerPoolSize,
		"job_types", c.Registry.List(),
	)
	return nil
}

// Wait blocks until the scheduler loop and the admin API return, which
// happens after Stop, after the Start context ends, or when the admin server
// fails.
func (c *Container) Wait() error {
	c.mu.Lock()
	loops := c.loops
	c.mu.Unlock()
	if loops == nil {
		return nil
	}
	return loops.Wait()
}

// Stop shuts the node down: no new triggers are acquired, in-flight jobs get
// the shutdown grace period to finish while the node keeps checking in, then
// the node leaves the cluster and every connection is closed. Triggers of
// jobs still running after the grace period are released when the node record
// is removed.
func (c *Container) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	stopLoops, loops := c.stopLoops, c.loops
	stopBeat, beat := c.stopBeat, c.beat
	c.mu.Unlock()

	var err error
	if stopLoops != nil {
		stopLoops()
		err = multierr.Append(err, loops.Wait())
	}

	graceCtx, graceCancel := context.WithTimeout(ctx, c.Config.ShutdownGracePeriod)
	if !c.Executor.Wait(graceCtx) {
		c.Logger.Warnw("shutdown grace period elapsed with jobs still running", "grace_period", c.Config.ShutdownGracePeriod)
	}
	graceCancel()

	if stopBeat != nil {
		stopBeat()
		err = multierr.Append(err, beat.Wait())
		err = multierr.Append(err, c.Heartbeat.Stop(ctx))
	}
	err = multierr.Append(err, c.close())
	c.Logger.Infow("node stopped")
	_ = c.Logger.Sync()
	return err
}

func (c *Container) close() error {
	var err error
	if c.MessageBroker != nil {
		err = multierr.Append(err, c.MessageBroker.Close())
	}
	if c.Notifier != nil {
		// the Redis notifier owns the Redis client
		err = multierr.Append(err, c.Notifier.Close())
	} else if c.Redis != nil {
		err = multierr.Append(err, c.Redis.Close())
	}
	if c.ownsDB && c.DB != nil {
		err = multierr.Append(err, c.DB.Close())
	}
	return err
}
