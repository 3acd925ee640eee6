package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/client"
	"github.com/RezaEskandarii/gofire-cluster/internal/db"
	"github.com/RezaEskandarii/gofire-cluster/internal/lock"
	"github.com/RezaEskandarii/gofire-cluster/internal/logger"
	"github.com/RezaEskandarii/gofire-cluster/internal/store/sqlstore"
	"github.com/RezaEskandarii/gofire-cluster/types"
	"github.com/RezaEskandarii/gofire-cluster/types/config"
	"go.uber.org/zap"
)

// ConfigFile is set by the root --config flag.
var ConfigFile string

func loadConfig() (*config.GofireConfig, *zap.SugaredLogger, error) {
	cfg, err := config.Load(ConfigFile)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// openClient connects to the configured store without joining the cluster.
func openClient() (*client.SchedulerClient, func(), error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	conn, dialect, err := db.Open(cfg)
	if err != nil {
		return nil, nil, err
	}

	st := sqlstore.New(conn, dialect, lock.NewSQLLockManager(dialect.Placeholder))
	c := client.NewSchedulerClient(st,
		client.WithRegistry(builtinJobs(log)),
		client.WithDeadNodeMultiplier(cfg.DeadNodeMultiplier),
		client.WithLogger(log),
	)
	return c, func() {
		_ = conn.Close()
		_ = log.Sync()
	}, nil
}

// builtinJobs returns the job types every gofire binary can run.
func builtinJobs(log *zap.SugaredLogger) *config.JobRegistry {
	registry := config.NewJobRegistry()
	_ = registry.RegisterFunc("log", func(_ context.Context, fc *types.FireContext) error {
		log.Infow("fired",
			logger.FieldTrigger, fc.TriggerKey.String(),
			logger.FieldJob, fc.JobKey.String(),
			logger.FieldFireID, fc.FireInstanceID,
			"scheduled_fire_time", fc.ScheduledFireTime,
			"misfired", fc.Misfired,
			"data", fc.Data,
		)
		return nil
	})
	_ = registry.RegisterFunc("sleep", func(ctx context.Context, fc *types.FireContext) error {
		d, err := time.ParseDuration(fmt.Sprint(fc.Data["duration"]))
		if err != nil {
			return fmt.Errorf("sleep: invalid duration: %w", err)
		}
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return registry
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
