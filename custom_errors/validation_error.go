package custom_errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ValidationError collects every reason a registration or configuration was rejected.
type ValidationError struct {
	Errors []error `json:"errors"`
}

func (c *ValidationError) Add(err error) {
	if err == nil {
		return
	}
	c.Errors = append(c.Errors, err)
}

func (c *ValidationError) Addf(format string, args ...any) {
	c.Errors = append(c.Errors, fmt.Errorf(format, args...))
}

func (c *ValidationError) HasError() bool {
	return len(c.Errors) > 0
}

// Err returns c when it holds at least one reason, nil otherwise.
func (c *ValidationError) Err() error {
	if c.HasError() {
		return c
	}
	return nil
}

// Reasons returns the messages of the collected errors.
func (c *ValidationError) Reasons() []string {
	reasons := make([]string, 0, len(c.Errors))
	for _, err := range c.Errors {
		reasons = append(reasons, err.Error())
	}
	return reasons
}

func (c *ValidationError) Error() string {
	if len(c.Errors) == 0 {
		return ""
	}
	return fmt.Sprintf("%v", errors.Join(c.Errors...))
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (c *ValidationError) Unwrap() []error {
	return c.Errors
}

func (c *ValidationError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Errors []string `json:"errors"`
	}{Errors: c.Reasons()})
}
