package message_broaker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/types"
	"go.uber.org/zap"
)

// FireEvent is the message published for every finished fire.
type FireEvent struct {
	Trigger           string        `json:"trigger"`
	Job               string        `json:"job"`
	JobType           string        `json:"job_type"`
	FireInstanceID    string        `json:"fire_instance_id"`
	NodeID            string        `json:"node_id"`
	ScheduledFireTime time.Time     `json:"scheduled_fire_time"`
	FireTime          time.Time     `json:"fire_time"`
	Misfired          bool          `json:"misfired"`
	Outcome           types.Outcome `json:"outcome"`
	Error             string        `json:"error,omitempty"`
	DurationMs        int64         `json:"duration_ms"`
}

func NewFireEvent(fc *types.FireContext, res types.ExecutionResult) FireEvent {
	ev := FireEvent{
		Trigger:           fc.TriggerKey.String(),
		Job:               fc.JobKey.String(),
		JobType:           fc.JobType,
		FireInstanceID:    fc.FireInstanceID,
		NodeID:            fc.NodeID,
		ScheduledFireTime: fc.ScheduledFireTime,
		FireTime:          fc.FireTime,
		Misfired:          fc.Misfired,
		Outcome:           res.Outcome,
		DurationMs:        res.Duration().Milliseconds(),
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	return ev
}

// FireEventPublisher publishes a FireEvent after each fire. Publish failures
// are logged and never affect the trigger.
type FireEventPublisher struct {
	broker MessageBroker
	logger *zap.SugaredLogger
}

func NewFireEventPublisher(broker MessageBroker, logger *zap.SugaredLogger) *FireEventPublisher {
	return &FireEventPublisher{broker: broker, logger: logger}
}

func (p *FireEventPublisher) BeforeFire(context.Context, *types.FireContext) {}

func (p *FireEventPublisher) AfterFire(ctx context.Context, fc *types.FireContext, res types.ExecutionResult) {
	if res.Outcome == types.OutcomeNotDispatched {
		return
	}
	body, err := json.Marshal(NewFireEvent(fc, res))
	if err != nil {
		p.logger.Errorw("failed to encode fire event", "trigger", fc.TriggerKey.String(), "error", err)
		return
	}
	if err := p.broker.Publish(ctx, body); err != nil {
		p.logger.Warnw("failed to publish fire event", "trigger", fc.TriggerKey.String(), "error", err)
	}
}
