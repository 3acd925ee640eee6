package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const signalPayload = "changed"

// RedisNotifier broadcasts signals to every node through a Redis pub/sub channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	logger  *zap.SugaredLogger
}

func NewRedisNotifier(client *redis.Client, channel string, logger *zap.SugaredLogger) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel, logger: logger}
}

func (n *RedisNotifier) Signal(ctx context.Context) error {
	if err := n.client.Publish(ctx, n.channel, signalPayload).Err(); err != nil {
		return fmt.Errorf("publish schedule change: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	pubSub := n.client.Subscribe(ctx, n.channel)
	// wait for the subscription confirmation so signals sent after Subscribe returns are seen
	if _, err := pubSub.Receive(ctx); err != nil {
		_ = pubSub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", n.channel, err)
	}

	out := make(chan struct{}, 1)
	msgs := pubSub.Channel()
	go func() {
		defer close(out)
		defer func() {
			if err := pubSub.Close(); err != nil {
				n.logger.Warnw("failed to close redis subscription", "channel", n.channel, "error", err)
			}
		}()
		for {
			select {
			case _, ok := <-msgs:
				if !ok {
					return
				}
				wake(out)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
