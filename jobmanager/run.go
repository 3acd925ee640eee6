package jobmanager

import (
	"context"
	"runtime"

	"github.com/RezaEskandarii/gofire-cluster/app"
	"github.com/RezaEskandarii/gofire-cluster/types/config"
	"go.uber.org/multierr"
)

// Start brings up one scheduler node of a cluster using the provided GofireConfig.
//
// The function performs the following steps:
//  1. Connects to the configured storage backend and applies pending migrations
//     (protected by a distributed lock on PostgreSQL).
//  2. Wires the lock manager, executor, scheduler, heartbeat and the optional
//     Redis notifier, RabbitMQ fire event publisher and admin API.
//  3. Joins the cluster, releasing work left behind by an earlier process with
//     the same instance id.
//  4. Starts the heartbeat and scheduler loops in the background.
//
// registry must hold every job type the cluster schedules; a job type missing
// from it fails on this node with ErrJobTypeNotFound.
//
// The returned container exposes the scheduler client for registering jobs and
// triggers. Call Stop on it for a graceful shutdown.
func Start(ctx context.Context, cfg *config.GofireConfig, registry *config.JobRegistry, opts ...app.ContainerOption) (*app.Container, error) {
	c, err := app.NewContainer(ctx, cfg, registry, opts...)
	if err != nil {
		return nil, err
	}
	c.Logger.Debugw("runtime", "gomaxprocs", runtime.GOMAXPROCS(0))

	if err := c.Start(ctx); err != nil {
		return nil, multierr.Append(err, c.Stop(context.WithoutCancel(ctx)))
	}
	return c, nil
}
