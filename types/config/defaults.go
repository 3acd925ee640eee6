package config

import "time"

const (
	DefaultStorageDriver       = Postgres
	DefaultCheckinInterval     = 7500 * time.Millisecond
	DefaultDeadNodeMultiplier  = 3
	DefaultMisfireThreshold    = 60 * time.Second
	DefaultPollInterval        = time.Second
	DefaultWorkerPoolSize      = 10
	DefaultBatchSize           = 50
	DefaultShutdownGracePeriod = 30 * time.Second
	DefaultRedisChannel        = "gofire:schedule-changed"
	DefaultRabbitContentType   = "application/json"
	DefaultAdminPort           = 8080
	DefaultLogLevel            = "info"
)
