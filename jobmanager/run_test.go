package jobmanager

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/app"
	"github.com/RezaEskandarii/gofire-cluster/internal/logger"
	"github.com/RezaEskandarii/gofire-cluster/internal/state"
	"github.com/RezaEskandarii/gofire-cluster/types"
	"github.com/RezaEskandarii/gofire-cluster/types/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_TwoNodesShareOneStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gofire.db")
	ctx := context.Background()

	var runs atomic.Int32
	registry := config.NewJobRegistry()
	require.NoError(t, registry.RegisterFunc("count", func(context.Context, *types.FireContext) error {
		runs.Add(1)
		return nil
	}))

	start := func(instance string) *app.Container {
		cfg, err := config.NewGofireConfig(instance,
			config.WithSQLiteConfig(config.SQLiteConfig{Path: path}),
			config.WithPollInterval(10*time.Millisecond),
			config.WithCheckinInterval(50*time.Millisecond),
			config.WithShutdownGracePeriod(time.Second),
		)
		require.NoError(t, err)
		c, err := Start(ctx, cfg, registry, app.WithLogger(logger.Nop()))
		require.NoError(t, err)
		return c
	}
	a, b := start("node-a"), start("node-b")

	// a one-shot trigger fires exactly once no matter how many nodes poll
	_, err := a.Client.ScheduleJob(ctx,
		types.Job{Key: types.NewJobKey("", "once"), JobType: "count", Durable: true},
		types.Trigger{Key: types.NewTriggerKey("", "once"), Schedule: "@once"},
	)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tr, err := b.Client.GetTrigger(ctx, types.NewTriggerKey("", "once"))
		return err == nil && tr.State == state.StateComplete
	}, 5*time.Second, 10*time.Millisecond)

	nodes, err := b.Client.Nodes(ctx)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)

	require.NoError(t, a.Stop(ctx))
	require.NoError(t, b.Stop(ctx))
	assert.Equal(t, int32(1), runs.Load())
}
