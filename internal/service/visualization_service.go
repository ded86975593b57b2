package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"golang.org/x/text/unicode/norm"

	"github.com/bookvision/visualization/internal/model"
	"github.com/bookvision/visualization/internal/queue"
	"github.com/bookvision/visualization/internal/repository"
)

// maxConflictRetries bounds the read-modify-write loop of user actions.
const maxConflictRetries = 5

// Dependencies wires a VisualizationService.
type Dependencies struct {
	Repo    repository.JobRepository
	Queue   *queue.PriorityQueue
	Catalog CatalogLookup
	Events  EventSink
	Images  ImageStore
	Tasks   TaskEnqueuer
	Cancels *CancelRegistry

	PurgeDelay time.Duration
	Log        zerolog.Logger
}

// VisualizationService handles job creation and the user actions on a job.
// The worker drives processing through Commit and Requeue.
type VisualizationService struct {
	repo       repository.JobRepository
	queue      *queue.PriorityQueue
	catalog    CatalogLookup
	events     EventSink
	images     ImageStore
	tasks      TaskEnqueuer
	cancels    *CancelRegistry
	purgeDelay time.Duration
	now        func() time.Time
	log        zerolog.Logger

	// admitting holds jobs between Enqueue and the commit of their Queued state.
	admitting sync.Map
}

func NewVisualizationService(deps Dependencies) *VisualizationService {
	cancels := deps.Cancels
	if cancels == nil {
		cancels = NewCancelRegistry()
	}
	events := deps.Events
	if events == nil {
		events = NewEventPublisher(deps.Log)
	}
	return &VisualizationService{
		repo:       deps.Repo,
		queue:      deps.Queue,
		catalog:    deps.Catalog,
		events:     events,
		images:     deps.Images,
		tasks:      deps.Tasks,
		cancels:    cancels,
		purgeDelay: deps.PurgeDelay,
		now:        func() time.Time { return time.Now().UTC() },
		log:        deps.Log.With().Str("component", "visualization").Logger(),
	}
}

// Cancels exposes the registry the worker registers running jobs with.
func (s *VisualizationService) Cancels() *CancelRegistry {
	return s.cancels
}

// CreateJob validates the request, stores a Pending job and enqueues it.
func (s *VisualizationService) CreateJob(ctx context.Context, userID string, req *model.CreateVisualizationRequest) (*model.CreateVisualizationResponse, error) {
	if s.catalog != nil {
		enabled, err := s.catalog.IsVisualizationEnabled(ctx, req.BookID)
		if err != nil {
			if errors.Is(err, model.ErrNotFound) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: catalog unavailable: %v", model.ErrProvider, err)
		}
		if !enabled {
			return nil, fmt.Errorf("%w: visualization is disabled for book %s", model.ErrValidation, req.BookID)
		}
	}

	params := model.NewJobParams{
		BookID:       req.BookID,
		PageID:       req.PageID,
		ChapterID:    req.ChapterID,
		UserID:       userID,
		Trigger:      req.Trigger,
		Priority:     req.Priority,
		Provider:     req.Provider,
		Style:        req.Style,
		OriginalText: norm.NFC.String(req.Text),
	}
	if req.Parameters != nil {
		params.Parameters = *req.Parameters
	}

	job, err := model.NewVisualizationJob(params, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Add(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}
	s.flush(ctx, job)

	admitted := make(chan struct{})
	s.admitting.Store(job.ID, admitted)
	defer func() {
		s.admitting.Delete(job.ID)
		close(admitted)
	}()

	position, wait := s.queue.Enqueue(queue.Item{
		JobID:     job.ID,
		Priority:  job.Priority,
		CreatedAt: job.CreatedAt,
	})
	if err := job.MarkQueued(position, wait, s.now()); err != nil {
		s.queue.Remove(job.ID)
		return nil, err
	}
	if err := s.Commit(ctx, job); err != nil {
		s.queue.Remove(job.ID)
		if errors.Is(err, model.ErrConflict) {
			if stored, getErr := s.repo.Get(ctx, job.ID); getErr == nil && stored.Status == model.JobStatusCancelled {
				s.log.Info().Str("job_id", job.ID).Msg("job cancelled before it was queued")
				return &model.CreateVisualizationResponse{
					JobID:     stored.ID,
					Status:    stored.Status,
					CreatedAt: stored.CreatedAt,
				}, nil
			}
		}
		// The job stays Pending and is picked up again on recovery.
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	s.log.Info().
		Str("job_id", job.ID).
		Str("book_id", job.BookID).
		Int("priority", job.Priority).
		Int("position", position).
		Msg("job queued")

	return &model.CreateVisualizationResponse{
		JobID:                job.ID,
		Status:               job.Status,
		QueuePosition:        position,
		EstimatedWaitSeconds: int(wait.Seconds()),
		CreatedAt:            job.CreatedAt,
	}, nil
}

// WaitAdmitted blocks while CreateJob is still committing jobID.
func (s *VisualizationService) WaitAdmitted(ctx context.Context, jobID string) error {
	v, ok := s.admitting.Load(jobID)
	if !ok {
		return nil
	}
	select {
	case <-v.(chan struct{}):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelJob cancels the job on behalf of actorID and aborts any in-flight work.
func (s *VisualizationService) CancelJob(ctx context.Context, jobID, actorID string) (*model.CancelVisualizationResponse, error) {
	job, err := s.mutate(ctx, jobID, func(job *model.VisualizationJob) error {
		return job.Cancel(actorID, s.now())
	})
	if err != nil {
		return nil, err
	}

	s.queue.Remove(jobID)
	running := s.cancels.Cancel(jobID)
	s.log.Info().Str("job_id", jobID).Bool("was_running", running).Msg("job cancelled")

	return &model.CancelVisualizationResponse{
		Success: true,
		JobID:   job.ID,
		Status:  job.Status,
	}, nil
}

// GetQueuePosition reports where the job stands in the queue. Position is 0
// once the job has left the queue.
func (s *VisualizationService) GetQueuePosition(ctx context.Context, jobID string) (*model.QueuePositionResponse, error) {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}

	position := s.queue.PositionOf(jobID)
	return &model.QueuePositionResponse{
		JobID:                jobID,
		Status:               job.Status,
		QueuePosition:        position,
		QueueLength:          s.queue.Length(),
		EstimatedWaitSeconds: int(s.queue.EstimateWait(position).Seconds()),
	}, nil
}

// GetJob returns the job with its live queue position.
func (s *VisualizationService) GetJob(ctx context.Context, jobID string) (*model.JobStatusResponse, error) {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == model.JobStatusQueued {
		position := s.queue.PositionOf(jobID)
		job.UpdateQueuePosition(position, s.queue.EstimateWait(position))
	}
	return model.NewJobStatusResponse(job), nil
}

// ListByBook returns the newest jobs of a book.
func (s *VisualizationService) ListByBook(ctx context.Context, bookID string, limit int) (*model.JobListResponse, error) {
	jobs, err := s.repo.ListByBook(ctx, bookID, limit)
	if err != nil {
		return nil, err
	}
	return jobList(jobs), nil
}

// ListByUser returns the newest jobs requested by a user.
func (s *VisualizationService) ListByUser(ctx context.Context, userID string, limit int) (*model.JobListResponse, error) {
	jobs, err := s.repo.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	return jobList(jobs), nil
}

func jobList(jobs []*model.VisualizationJob) *model.JobListResponse {
	resp := &model.JobListResponse{Jobs: make([]*model.JobStatusResponse, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, model.NewJobStatusResponse(job))
	}
	resp.Total = len(resp.Jobs)
	return resp
}

// Events returns the recorded history of a job.
func (s *VisualizationService) Events(ctx context.Context, jobID string) ([]model.Event, error) {
	if _, err := s.repo.Get(ctx, jobID); err != nil {
		return nil, err
	}
	return s.repo.Events(ctx, jobID)
}

// SelectImage makes imageID the chosen image of a completed job.
func (s *VisualizationService) SelectImage(ctx context.Context, jobID, imageID, actorID string) (*model.JobStatusResponse, error) {
	job, err := s.mutate(ctx, jobID, func(job *model.VisualizationJob) error {
		if err := checkImageAction(job, actorID); err != nil {
			return err
		}
		return job.SelectImage(imageID, s.now())
	})
	if err != nil {
		return nil, err
	}
	return model.NewJobStatusResponse(job), nil
}

// DeleteImage soft-deletes an image and schedules removal of its files.
func (s *VisualizationService) DeleteImage(ctx context.Context, jobID, imageID, actorID string) (*model.JobStatusResponse, error) {
	var deleted *model.GeneratedImage
	job, err := s.mutate(ctx, jobID, func(job *model.VisualizationJob) error {
		if err := checkImageAction(job, actorID); err != nil {
			return err
		}
		img, err := job.DeleteImage(imageID, s.now())
		deleted = img
		return err
	})
	if err != nil {
		return nil, err
	}

	s.schedulePurge(ctx, *deleted)
	return model.NewJobStatusResponse(job), nil
}

func checkImageAction(job *model.VisualizationJob, actorID string) error {
	if actorID != job.UserID {
		return fmt.Errorf("%w: only the requesting user can change this job's images", model.ErrForbidden)
	}
	if job.Status != model.JobStatusCompleted {
		return fmt.Errorf("%w: images can only be changed on completed jobs", model.ErrValidation)
	}
	return nil
}

func (s *VisualizationService) schedulePurge(ctx context.Context, img model.GeneratedImage) {
	log := s.log.With().Str("job_id", img.JobID).Str("image_id", img.ID).Logger()
	if s.tasks == nil {
		if s.images == nil {
			return
		}
		if err := s.images.PurgeImage(ctx, img); err != nil {
			log.Warn().Err(err).Msg("failed to purge image")
		}
		return
	}

	task, err := newImagePurgeTask(img)
	if err != nil {
		log.Error().Err(err).Msg("failed to build purge task")
		return
	}
	_, err = s.tasks.EnqueueContext(ctx, task,
		asynq.Queue("maintenance"),
		asynq.ProcessIn(s.purgeDelay),
		asynq.MaxRetry(5),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to enqueue purge task")
	}
}

// mutate applies fn to the latest stored job, retrying on concurrent writes.
func (s *VisualizationService) mutate(ctx context.Context, jobID string, fn func(*model.VisualizationJob) error) (*model.VisualizationJob, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		job, err := s.repo.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if err := fn(job); err != nil {
			return nil, err
		}

		err = s.Commit(ctx, job)
		if errors.Is(err, model.ErrConflict) {
			s.log.Debug().Str("job_id", jobID).Int("attempt", attempt+1).Msg("write conflict, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return job, nil
	}
	return nil, fmt.Errorf("%w: job %s is being updated", model.ErrConflict, jobID)
}

// Load returns the stored job.
func (s *VisualizationService) Load(ctx context.Context, jobID string) (*model.VisualizationJob, error) {
	return s.repo.Get(ctx, jobID)
}

// Commit persists job with its recorded events and publishes them.
func (s *VisualizationService) Commit(ctx context.Context, job *model.VisualizationJob) error {
	if err := s.repo.Update(ctx, job); err != nil {
		return err
	}
	s.flush(ctx, job)
	return nil
}

func (s *VisualizationService) flush(ctx context.Context, job *model.VisualizationJob) {
	events := job.PendingEvents()
	job.ClearEvents()
	_ = s.events.Publish(ctx, events...)
}

// Requeue puts a job that was committed as Queued into the queue again. A
// cancel that landed between that commit and the enqueue found nothing to
// remove, so the stored status is checked once the entry is in place.
func (s *VisualizationService) Requeue(ctx context.Context, job *model.VisualizationJob, retried bool) (int, time.Duration) {
	position, wait := s.enqueue(job, retried)
	stored, err := s.repo.Get(ctx, job.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to recheck requeued job")
		return position, wait
	}
	if stored.Status != model.JobStatusQueued {
		s.queue.Remove(job.ID)
		return 0, 0
	}
	return position, wait
}

func (s *VisualizationService) enqueue(job *model.VisualizationJob, retried bool) (int, time.Duration) {
	return s.queue.Enqueue(queue.Item{
		JobID:     job.ID,
		Priority:  job.Priority,
		CreatedAt: job.CreatedAt,
		Retried:   retried,
	})
}

// QueueLength reports the number of jobs waiting for a worker.
func (s *VisualizationService) QueueLength() int {
	return s.queue.Length()
}

// RunningJobs reports the number of jobs currently owned by a worker.
func (s *VisualizationService) RunningJobs() int {
	return s.cancels.Running()
}

// Ping checks the job store.
func (s *VisualizationService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

// Dequeue hands the next job ID to a worker.
func (s *VisualizationService) Dequeue() (string, bool) {
	item, ok := s.queue.Dequeue()
	return item.JobID, ok
}

// Ready signals that the queue may have work.
func (s *VisualizationService) Ready() <-chan struct{} {
	return s.queue.Ready()
}

// Unfinished returns the jobs that have not reached a terminal state, oldest first.
func (s *VisualizationService) Unfinished(ctx context.Context) ([]*model.VisualizationJob, error) {
	return s.repo.ListByStatus(ctx,
		model.JobStatusPending,
		model.JobStatusQueued,
		model.JobStatusPromptGenerating,
		model.JobStatusAIProcessing,
		model.JobStatusImageUploading,
	)
}

// Admit queues a recovered Pending job.
func (s *VisualizationService) Admit(ctx context.Context, job *model.VisualizationJob) error {
	position, wait := s.enqueue(job, false)
	if err := job.MarkQueued(position, wait, s.now()); err != nil {
		s.queue.Remove(job.ID)
		return err
	}
	if err := s.Commit(ctx, job); err != nil {
		s.queue.Remove(job.ID)
		return err
	}
	return nil
}
