package types

import (
	"context"
	"time"
)

// Job is the unit of work a trigger fires. JobType names the implementation
// registered on every node through config.JobRegistry.
type Job struct {
	Key                JobKey         `json:"key"`
	JobType            string         `json:"job_type"`
	Description        string         `json:"description,omitempty"`
	Durable            bool           `json:"durable"`             // keep the job when no trigger references it
	DisallowConcurrent bool           `json:"disallow_concurrent"` // at most one execution at a time across the cluster
	Timeout            time.Duration  `json:"timeout"`             // 0 means the executor default
	Data               map[string]any `json:"data,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// Runnable is implemented by user code registered under a job type.
type Runnable interface {
	Run(ctx context.Context, fc *FireContext) error
}

// RunnableFunc adapts a plain function to Runnable.
type RunnableFunc func(ctx context.Context, fc *FireContext) error

func (f RunnableFunc) Run(ctx context.Context, fc *FireContext) error {
	return f(ctx, fc)
}
