// Package retry re-runs store operations that failed with a transient error.
package retry

import (
	"context"
	"time"

	"github.com/RezaEskandarii/gofire-cluster/custom_errors"
	"github.com/cenkalti/backoff/v4"
)

const (
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
	defaultMaxElapsedTime  = time.Minute
)

type retryOption struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	maxElapsedTime  time.Duration
	attempts        int
}

type Option func(*retryOption)

func WithInitialInterval(d time.Duration) Option {
	return func(o *retryOption) {
		o.initialInterval = d
	}
}

func WithMaxInterval(d time.Duration) Option {
	return func(o *retryOption) {
		o.maxInterval = d
	}
}

// WithMaxElapsedTime bounds the total time spent retrying; 0 retries until the context ends.
func WithMaxElapsedTime(d time.Duration) Option {
	return func(o *retryOption) {
		o.maxElapsedTime = d
	}
}

// WithAttempts caps the number of retries after the first call.
func WithAttempts(n int) Option {
	return func(o *retryOption) {
		o.attempts = n
	}
}

// NewBackOff returns an exponential backoff with jitter.
func NewBackOff(opts ...Option) backoff.BackOff {
	o := &retryOption{
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		maxElapsedTime:  defaultMaxElapsedTime,
	}
	for _, opt := range opts {
		opt(o)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.initialInterval
	b.MaxInterval = o.maxInterval
	b.MaxElapsedTime = o.maxElapsedTime
	b.Reset()
	if o.attempts > 0 {
		return backoff.WithMaxRetries(b, uint64(o.attempts))
	}
	return b
}

// Permanent stops retrying and returns err from Do unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &backoff.PermanentError{Err: err}
}

// Do calls op until it succeeds or fails with an error that is not a
// custom_errors.TransientError. notify, if set, sees every failure that is retried.
func Do(ctx context.Context, op func(ctx context.Context) error, notify func(err error, wait time.Duration), opts ...Option) error {
	b := backoff.WithContext(NewBackOff(opts...), ctx)
	return backoff.RetryNotify(func() error {
		err := op(ctx)
		if err != nil && !custom_errors.IsTransient(err) {
			return Permanent(err)
		}
		return err
	}, b, notify)
}
