package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/RezaEskandarii/gofire-cluster/app"
	"github.com/RezaEskandarii/gofire-cluster/jobmanager"
	"github.com/spf13/cobra"
)

// ServeCmd runs a scheduler node until SIGINT or SIGTERM.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a scheduler node",
	Long: `Run a scheduler node.

The node migrates the schema, joins the cluster and fires due triggers until
it receives SIGINT or SIGTERM. On shutdown it stops acquiring triggers, waits
up to shutdown_grace_period_ms for running jobs and leaves the cluster.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := jobmanager.Start(ctx, cfg, builtinJobs(log), app.WithLogger(log))
	if err != nil {
		return err
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- node.Wait() }()

	select {
	case <-ctx.Done():
		log.Infow("shutdown requested")
	case err = <-waitErr:
		if err != nil {
			log.Errorw("node failed", "error", err)
		}
	}

	if stopErr := node.Stop(context.Background()); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}
