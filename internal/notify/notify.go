// Package notify wakes schedulers when triggers change, so a new or
// rescheduled trigger does not wait for the next poll.
package notify

import (
	"context"
	"sync"
)

// Notifier carries "schedule changed" signals. Signals are hints: a lost
// signal only delays a fire until the next poll.
type Notifier interface {
	Signal(ctx context.Context) error
	// Subscribe returns a channel that receives a value after one or more
	// signals. It is closed when ctx ends.
	Subscribe(ctx context.Context) (<-chan struct{}, error)
	Close() error
}

// NopNotifier drops signals; schedulers rely on polling alone.
type NopNotifier struct{}

func (NopNotifier) Signal(context.Context) error { return nil }

func (NopNotifier) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{})
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (NopNotifier) Close() error { return nil }

// LocalNotifier delivers signals to subscribers in the same process.
type LocalNotifier struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

func NewLocalNotifier() *LocalNotifier {
	return &LocalNotifier{subs: make(map[chan struct{}]struct{})}
}

func (n *LocalNotifier) Signal(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for ch := range n.subs {
		wake(ch)
	}
	return nil
}

func (n *LocalNotifier) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.subs[ch] = struct{}{}
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		delete(n.subs, ch)
		close(ch)
		n.mu.Unlock()
	}()
	return ch, nil
}

func (n *LocalNotifier) Close() error {
	return nil
}

// wake coalesces signals into the one-slot buffer.
func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
