package custom_errors

import (
	"errors"
	"fmt"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrTriggerNotFound   = errors.New("trigger not found")
	ErrJobAlreadyExists  = errors.New("job already exists")
	ErrNonDurableJob     = errors.New("jobs stored without a trigger must be durable")
	ErrJobTypeNotFound   = errors.New("no runnable registered for job type")
	ErrNodeNotRegistered = errors.New("node is not registered")
)

// TransientError marks a store failure that is expected to go away on retry,
// such as a dropped connection or a serialization conflict.
type TransientError struct {
	Op  string
	Err error
}

func NewTransientError(op string, err error) *TransientError {
	return &TransientError{Op: op, Err: err}
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store error in %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err or anything it wraps is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
