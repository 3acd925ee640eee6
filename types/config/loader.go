package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const (
	configName = ".gofire"
	envPrefix  = "gofire"
)

// Load reads the node configuration from file (or from .gofire.yaml in the home
// or working directory when file is empty) and from GOFIRE_* environment variables.
// A missing default file is not an error; a missing explicit file is.
func Load(file string) (*GofireConfig, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(home)
		v.AddConfigPath(".")
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("instance", "")
	v.SetDefault("storage.driver", DefaultStorageDriver.String())
	v.SetDefault("storage.postgres_url", "")
	v.SetDefault("storage.sqlite_path", "")
	v.SetDefault("checkin_interval_ms", DefaultCheckinInterval.Milliseconds())
	v.SetDefault("dead_node_multiplier", DefaultDeadNodeMultiplier)
	v.SetDefault("misfire_threshold_ms", DefaultMisfireThreshold.Milliseconds())
	v.SetDefault("poll_interval_ms", DefaultPollInterval.Milliseconds())
	v.SetDefault("worker_pool_size", DefaultWorkerPoolSize)
	v.SetDefault("batch_size", DefaultBatchSize)
	v.SetDefault("default_job_timeout_ms", 0)
	v.SetDefault("shutdown_grace_period_ms", DefaultShutdownGracePeriod.Milliseconds())
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", DefaultRedisChannel)
	v.SetDefault("rabbitmq.enabled", false)
	v.SetDefault("rabbitmq.url", "")
	v.SetDefault("rabbitmq.exchange", "")
	v.SetDefault("rabbitmq.queue", "")
	v.SetDefault("rabbitmq.routing_key", "")
	v.SetDefault("rabbitmq.content_type", DefaultRabbitContentType)
	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.port", DefaultAdminPort)
	v.SetDefault("admin.username", "")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.development", false)
}

func fromViper(v *viper.Viper) (*GofireConfig, error) {
	ms := func(key string) time.Duration {
		return time.Duration(v.GetInt64(key)) * time.Millisecond
	}

	opts := []ConfigOption{
		WithCheckinInterval(ms("checkin_interval_ms")),
		WithDeadNodeMultiplier(v.GetInt("dead_node_multiplier")),
		WithMisfireThreshold(ms("misfire_threshold_ms")),
		WithPollInterval(ms("poll_interval_ms")),
		WithWorkerPoolSize(v.GetInt("worker_pool_size")),
		WithBatchSize(v.GetInt("batch_size")),
		WithDefaultJobTimeout(ms("default_job_timeout_ms")),
		WithShutdownGracePeriod(ms("shutdown_grace_period_ms")),
		WithLogLevel(v.GetString("log.level"), v.GetBool("log.development")),
	}

	driver, err := ParseStorageDriver(v.GetString("storage.driver"))
	if err != nil {
		return nil, err
	}
	switch driver {
	case Postgres:
		opts = append(opts, WithPostgresConfig(PostgresConfig{ConnectionUrl: v.GetString("storage.postgres_url")}))
	case SQLite:
		opts = append(opts, WithSQLiteConfig(SQLiteConfig{Path: v.GetString("storage.sqlite_path")}))
	}

	if v.GetBool("redis.enabled") {
		opts = append(opts, WithRedisConfig(RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			Channel:  v.GetString("redis.channel"),
		}))
	}
	if v.GetBool("rabbitmq.enabled") {
		opts = append(opts, WithRabbitMQConfig(RabbitMQConfig{
			URL:         v.GetString("rabbitmq.url"),
			Exchange:    v.GetString("rabbitmq.exchange"),
			Queue:       v.GetString("rabbitmq.queue"),
			RoutingKey:  v.GetString("rabbitmq.routing_key"),
			ContentType: v.GetString("rabbitmq.content_type"),
		}))
	}
	if v.GetBool("admin.enabled") {
		opts = append(opts, WithAdminConfig(v.GetUint("admin.port"), v.GetString("admin.username"), v.GetString("admin.password_hash")))
	}

	return NewGofireConfig(v.GetString("instance"), opts...)
}
