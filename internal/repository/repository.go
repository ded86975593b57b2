package repository

import (
	"context"
	"sort"

	"github.com/bookvision/visualization/internal/model"
)

// JobRepository persists visualization jobs together with the events they
// recorded. Add and Update write the job and append its pending events in one
// atomic step; both fail with model.ErrConflict when the stored version moved.
type JobRepository interface {
	Add(ctx context.Context, job *model.VisualizationJob) error
	Update(ctx context.Context, job *model.VisualizationJob) error
	Get(ctx context.Context, jobID string) (*model.VisualizationJob, error)
	ListByBook(ctx context.Context, bookID string, limit int) ([]*model.VisualizationJob, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*model.VisualizationJob, error)
	ListByStatus(ctx context.Context, statuses ...model.JobStatus) ([]*model.VisualizationJob, error)
	Events(ctx context.Context, jobID string) ([]model.Event, error)
	Ping(ctx context.Context) error
}

// newestFirst sorts jobs by CreatedAt descending and applies limit.
func newestFirst(jobs []*model.VisualizationJob, limit int) []*model.VisualizationJob {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs
}

// oldestFirst sorts jobs by CreatedAt ascending.
func oldestFirst(jobs []*model.VisualizationJob) []*model.VisualizationJob {
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs
}
