package app

import (
	"database/sql"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/internal/message_broaker"
	"github.com/RezaEskandarii/gofire-cluster/internal/scheduler"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ContainerOption configures Container creation. Used for testing and customization.
type ContainerOption func(*containerConfig)

type containerConfig struct {
	// Optional: inject connections instead of creating them from config
	db     *sql.DB
	redis  *redis.Client
	broker message_broaker.MessageBroker

	logger    *zap.SugaredLogger
	listeners []scheduler.Listener
	now       func() time.Time
}

// WithDB injects a database connection of the configured storage driver.
// The container does not close injected connections.
func WithDB(db *sql.DB) ContainerOption {
	return func(c *containerConfig) {
		c.db = db
	}
}

// WithRedis injects the Redis client used by the schedule change notifier.
func WithRedis(redis *redis.Client) ContainerOption {
	return func(c *containerConfig) {
		c.redis = redis
	}
}

// WithMessageBroker injects the broker fire events are published to.
func WithMessageBroker(broker message_broaker.MessageBroker) ContainerOption {
	return func(c *containerConfig) {
		c.broker = broker
	}
}

func WithLogger(logger *zap.SugaredLogger) ContainerOption {
	return func(c *containerConfig) {
		c.logger = logger
	}
}

// WithListeners adds listeners called around every fire of this node.
func WithListeners(listeners ...scheduler.Listener) ContainerOption {
	return func(c *containerConfig) {
		c.listeners = append(c.listeners, listeners...)
	}
}

func WithClock(now func() time.Time) ContainerOption {
	return func(c *containerConfig) {
		c.now = now
	}
}
