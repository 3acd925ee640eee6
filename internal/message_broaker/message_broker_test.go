package message_broaker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/internal/logger"
	"github.com/RezaEskandarii/gofire-cluster/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockBroker records published messages.
type mockBroker struct {
	publishErr error
	published  [][]byte
}

func (m *mockBroker) Publish(_ context.Context, message []byte) error {
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, message)
	return nil
}

func (m *mockBroker) Consume(ctx context.Context) (<-chan []byte, error) {
	ch := make(chan []byte, len(m.published))
	for _, msg := range m.published {
		ch <- msg
	}
	close(ch)
	return ch, nil
}

func (m *mockBroker) Close() error { return nil }

func TestMessageBrokerInterface(t *testing.T) {
	var _ MessageBroker = (*mockBroker)(nil)
	var _ MessageBroker = (*RabbitMQ)(nil)
}

func fireContext() *types.FireContext {
	return &types.FireContext{
		TriggerKey:        types.NewTriggerKey("reports", "nightly"),
		JobKey:            types.NewJobKey("reports", "export"),
		JobType:           "export",
		FireInstanceID:    "fire-1",
		NodeID:            "node-a",
		ScheduledFireTime: time.UnixMilli(1_000).UTC(),
		FireTime:          time.UnixMilli(1_050).UTC(),
		Misfired:          true,
	}
}

func TestFireEventPublisher_PublishesAfterFire(t *testing.T) {
	broker := &mockBroker{}
	p := NewFireEventPublisher(broker, logger.Nop())
	fc := fireContext()

	p.BeforeFire(context.Background(), fc)
	assert.Empty(t, broker.published)

	start := time.UnixMilli(1_050)
	p.AfterFire(context.Background(), fc, types.ExecutionResult{
		Outcome:    types.OutcomeFailure,
		Err:        errors.New("export failed"),
		StartedAt:  start,
		FinishedAt: start.Add(250 * time.Millisecond),
	})
	require.Len(t, broker.published, 1)

	msgs, err := broker.Consume(context.Background())
	require.NoError(t, err)
	var ev FireEvent
	require.NoError(t, json.Unmarshal(<-msgs, &ev))
	assert.Equal(t, "reports.nightly", ev.Trigger)
	assert.Equal(t, "reports.export", ev.Job)
	assert.Equal(t, types.OutcomeFailure, ev.Outcome)
	assert.Equal(t, "export failed", ev.Error)
	assert.Equal(t, int64(250), ev.DurationMs)
	assert.True(t, ev.Misfired)
}

func TestFireEventPublisher_PublishErrorIsSwallowed(t *testing.T) {
	broker := &mockBroker{publishErr: assert.AnError}
	p := NewFireEventPublisher(broker, logger.Nop())

	assert.NotPanics(t, func() {
		p.AfterFire(context.Background(), fireContext(), types.ExecutionResult{Outcome: types.OutcomeSuccess})
	})
}

func TestFireEventPublisher_IgnoresUndispatchedFire(t *testing.T) {
	broker := &mockBroker{}
	p := NewFireEventPublisher(broker, logger.Nop())

	p.AfterFire(context.Background(), fireContext(), types.ExecutionResult{Outcome: types.OutcomeNotDispatched})
	assert.Empty(t, broker.published)
}
