package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/RezaEskandarii/gofire-cluster/types"
)

// JobRegistry resolves the job type stored with a job to the code that runs it.
// Every node of a cluster is expected to register the same job types.
type JobRegistry struct {
	runnables map[string]types.Runnable
	mutex     sync.RWMutex
}

func NewJobRegistry() *JobRegistry {
	return &JobRegistry{
		runnables: make(map[string]types.Runnable),
	}
}

// Register adds a runnable under a job type name.
func (r *JobRegistry) Register(jobType string, runnable types.Runnable) error {
	if jobType == "" || runnable == nil {
		return fmt.Errorf("job type and runnable are required")
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.runnables[jobType]; exists {
		return fmt.Errorf("job type '%s' already registered", jobType)
	}
	r.runnables[jobType] = runnable
	return nil
}

// RegisterFunc is Register for plain functions.
func (r *JobRegistry) RegisterFunc(jobType string, fn func(ctx context.Context, fc *types.FireContext) error) error {
	if fn == nil {
		return fmt.Errorf("job type and runnable are required")
	}
	return r.Register(jobType, types.RunnableFunc(fn))
}

func (r *JobRegistry) Exists(jobType string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, exists := r.runnables[jobType]
	return exists
}

func (r *JobRegistry) Get(jobType string) (types.Runnable, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	runnable, exists := r.runnables[jobType]
	return runnable, exists
}

func (r *JobRegistry) List() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.runnables))
	for name := range r.runnables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
