package service

import (
	"context"
	"sync"
)

type registration struct {
	cancel context.CancelFunc
}

// CancelRegistry maps running jobs to the cancel function of their context,
// so a user cancel aborts in-flight provider and storage calls.
type CancelRegistry struct {
	mu   sync.Mutex
	jobs map[string]*registration
}

func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{jobs: make(map[string]*registration)}
}

// Register derives a cancellable context for jobID. The returned release
// function must be called when the worker lets go of the job.
func (r *CancelRegistry) Register(ctx context.Context, jobID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	reg := &registration{cancel: cancel}
	r.mu.Lock()
	r.jobs[jobID] = reg
	r.mu.Unlock()

	return ctx, func() {
		r.mu.Lock()
		// A retry may already be running on another worker.
		if r.jobs[jobID] == reg {
			delete(r.jobs, jobID)
		}
		r.mu.Unlock()
		cancel()
	}
}

// Cancel aborts the running job, reporting whether one was registered.
func (r *CancelRegistry) Cancel(jobID string) bool {
	r.mu.Lock()
	reg, ok := r.jobs[jobID]
	r.mu.Unlock()
	if ok {
		reg.cancel()
	}
	return ok
}

// Running returns the number of registered jobs.
func (r *CancelRegistry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}
