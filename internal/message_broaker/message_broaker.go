package message_broaker

import "context"

// MessageBroker moves fire events off the node. Publishing goes to the
// configured exchange and routing key; Consume reads the bound queue.
type MessageBroker interface {
	Publish(ctx context.Context, message []byte) error
	Consume(ctx context.Context) (<-chan []byte, error)
	Close() error
}
