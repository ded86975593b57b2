package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bookvision/visualization/internal/model"
)

// MemoryJobRepository keeps jobs in process. Records are stored encoded so
// callers never share a *VisualizationJob with the store.
type MemoryJobRepository struct {
	mu     sync.RWMutex
	jobs   map[string][]byte
	events map[string][]model.Event
}

// NewMemoryJobRepository creates an empty repository.
func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{
		jobs:   make(map[string][]byte),
		events: make(map[string][]model.Event),
	}
}

func (r *MemoryJobRepository) Add(ctx context.Context, job *model.VisualizationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.ID]; ok {
		return fmt.Errorf("%w: job %s already exists", model.ErrConflict, job.ID)
	}
	return r.write(job)
}

func (r *MemoryJobRepository) Update(ctx context.Context, job *model.VisualizationJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, ok := r.jobs[job.ID]
	if !ok {
		return fmt.Errorf("%w: job %s", model.ErrNotFound, job.ID)
	}
	var stored model.VisualizationJob
	if err := json.Unmarshal(data, &stored); err != nil {
		return err
	}
	if stored.Version != job.Version {
		return fmt.Errorf("%w: job %s is at version %d, have %d", model.ErrConflict, job.ID, stored.Version, job.Version)
	}
	return r.write(job)
}

func (r *MemoryJobRepository) write(job *model.VisualizationJob) error {
	next := *job
	next.Version++
	data, err := json.Marshal(&next)
	if err != nil {
		return err
	}
	r.jobs[job.ID] = data
	r.events[job.ID] = append(r.events[job.ID], job.PendingEvents()...)
	job.Version = next.Version
	return nil
}

func (r *MemoryJobRepository) Get(ctx context.Context, jobID string) (*model.VisualizationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, ok := r.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: job %s", model.ErrNotFound, jobID)
	}
	var job model.VisualizationJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *MemoryJobRepository) ListByBook(ctx context.Context, bookID string, limit int) ([]*model.VisualizationJob, error) {
	jobs, err := r.filter(func(j *model.VisualizationJob) bool { return j.BookID == bookID })
	if err != nil {
		return nil, err
	}
	return newestFirst(jobs, limit), nil
}

func (r *MemoryJobRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*model.VisualizationJob, error) {
	jobs, err := r.filter(func(j *model.VisualizationJob) bool { return j.UserID == userID })
	if err != nil {
		return nil, err
	}
	return newestFirst(jobs, limit), nil
}

func (r *MemoryJobRepository) ListByStatus(ctx context.Context, statuses ...model.JobStatus) ([]*model.VisualizationJob, error) {
	want := make(map[model.JobStatus]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	jobs, err := r.filter(func(j *model.VisualizationJob) bool { return want[j.Status] })
	if err != nil {
		return nil, err
	}
	return oldestFirst(jobs), nil
}

func (r *MemoryJobRepository) Events(ctx context.Context, jobID string) ([]model.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Event, len(r.events[jobID]))
	copy(out, r.events[jobID])
	return out, nil
}

func (r *MemoryJobRepository) filter(keep func(*model.VisualizationJob) bool) ([]*model.VisualizationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]*model.VisualizationJob, 0)
	for _, data := range r.jobs {
		var job model.VisualizationJob
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, err
		}
		if keep(&job) {
			jobs = append(jobs, &job)
		}
	}
	return jobs, nil
}

func (r *MemoryJobRepository) Ping(ctx context.Context) error {
	return nil
}
