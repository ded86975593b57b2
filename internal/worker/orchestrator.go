package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bookvision/visualization/internal/client"
	"github.com/bookvision/visualization/internal/model"
	"github.com/bookvision/visualization/internal/retry"
	"github.com/bookvision/visualization/internal/service"
)

// ErrWorkerRestarted is recorded on jobs found mid-flight at startup.
var ErrWorkerRestarted = errors.New("worker restarted")

// DurationRecorder receives the processing time of completed jobs.
type DurationRecorder interface {
	Record(ctx context.Context, d time.Duration) error
}

// Config sizes the worker pool.
type Config struct {
	Workers      int
	PollInterval time.Duration
	Policy       retry.Policy
}

// Orchestrator runs a pool of workers that take jobs off the queue and drive
// them through prompt generation, image generation and upload. A worker owns
// a job from dequeue until it is terminal or sent back to the queue.
type Orchestrator struct {
	jobs      *service.VisualizationService
	prompts   service.PromptGenerator
	images    service.ImageGenerator
	store     service.ImageStore
	durations DurationRecorder
	cfg       Config
	now       func() time.Time
	log       zerolog.Logger
}

// NewOrchestrator creates the worker pool. durations may be nil.
func NewOrchestrator(
	jobs *service.VisualizationService,
	prompts service.PromptGenerator,
	images service.ImageGenerator,
	store service.ImageStore,
	durations DurationRecorder,
	cfg Config,
	log zerolog.Logger,
) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	defaults := retry.DefaultPolicy()
	if cfg.Policy.PromptTimeout <= 0 {
		cfg.Policy.PromptTimeout = defaults.PromptTimeout
	}
	if cfg.Policy.ImageGenerationTimeout <= 0 {
		cfg.Policy.ImageGenerationTimeout = defaults.ImageGenerationTimeout
	}
	if cfg.Policy.StorageTimeout <= 0 {
		cfg.Policy.StorageTimeout = defaults.StorageTimeout
	}
	return &Orchestrator{
		jobs:      jobs,
		prompts:   prompts,
		images:    images,
		store:     store,
		durations: durations,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		log:       log.With().Str("component", "orchestrator").Logger(),
	}
}

// maxRecoveryBackoff caps the delay between recovery attempts.
const maxRecoveryBackoff = time.Minute

// Run recovers unfinished jobs and processes the queue until ctx is done.
// Workers start even when the store is unreachable; recovery keeps retrying
// in the background until it succeeds.
func (o *Orchestrator) Run(ctx context.Context) error {
	cutoff := o.now()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		o.recoverUntilDone(ctx, cutoff)
		return nil
	})
	for i := 0; i < o.cfg.Workers; i++ {
		id := i + 1
		g.Go(func() error {
			o.loop(ctx, id)
			return nil
		})
	}
	o.log.Info().Int("workers", o.cfg.Workers).Msg("orchestrator started")
	return g.Wait()
}

func (o *Orchestrator) loop(ctx context.Context, id int) {
	log := o.log.With().Int("worker", id).Logger()
	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for {
			if ctx.Err() != nil {
				return
			}
			jobID, ok := o.jobs.Dequeue()
			if !ok {
				break
			}
			o.process(ctx, jobID, log)
		}

		select {
		case <-ctx.Done():
			return
		case <-o.jobs.Ready():
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) recoverUntilDone(ctx context.Context, cutoff time.Time) {
	delay := o.cfg.PollInterval
	for {
		err := o.recoverBefore(ctx, cutoff)
		if err == nil || ctx.Err() != nil {
			return
		}
		o.log.Error().Err(err).Dur("retry_in", delay).Msg("recovery failed")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxRecoveryBackoff {
			delay = maxRecoveryBackoff
		}
	}
}

// Recover puts jobs left behind by a previous process back on track. Pending
// and Queued jobs are queued again; jobs caught mid-processing go through the
// retry policy.
func (o *Orchestrator) Recover(ctx context.Context) error {
	return o.recoverBefore(ctx, o.now())
}

// recoverBefore only touches jobs created up to cutoff, so jobs this process
// accepted while recovery was retrying stay with the running workers.
func (o *Orchestrator) recoverBefore(ctx context.Context, cutoff time.Time) error {
	jobs, err := o.jobs.Unfinished(ctx)
	if err != nil {
		return err
	}

	recovered := 0
	for _, job := range jobs {
		if job.CreatedAt.After(cutoff) {
			continue
		}
		recovered++
		log := o.log.With().Str("job_id", job.ID).Str("status", string(job.Status)).Logger()
		switch {
		case job.Status == model.JobStatusPending:
			if err := o.jobs.Admit(ctx, job); err != nil {
				log.Error().Err(err).Msg("failed to admit recovered job")
			}
		case job.Status == model.JobStatusQueued:
			o.jobs.Requeue(ctx, job, job.RetryCount > 0)
		case job.Status.IsProcessing():
			o.handleFailure(ctx, job, ErrWorkerRestarted, log)
		}
	}
	if recovered > 0 {
		o.log.Info().Int("jobs", recovered).Msg("recovered unfinished jobs")
	}
	return nil
}

// errAborted stops the pipeline of a job that is no longer ours to drive.
var errAborted = errors.New("job aborted")

// process drives one dequeued job.
func (o *Orchestrator) process(ctx context.Context, jobID string, log zerolog.Logger) {
	log = log.With().Str("job_id", jobID).Logger()

	if err := o.jobs.WaitAdmitted(ctx, jobID); err != nil {
		return
	}
	job, err := o.jobs.Load(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Msg("failed to load dequeued job")
		return
	}
	if job.Status != model.JobStatusQueued {
		log.Debug().Str("status", string(job.Status)).Msg("skipping job that is no longer queued")
		return
	}

	jobCtx, release := o.jobs.Cancels().Register(ctx, jobID)
	defer release()

	err = o.run(jobCtx, job, log)
	switch {
	case err == nil:
		log.Info().Dur("elapsed", job.ProcessingTime()).Int("images", len(job.Images)).Msg("job completed")
		if o.durations != nil {
			if err := o.durations.Record(ctx, job.ProcessingTime()); err != nil {
				log.Warn().Err(err).Msg("failed to record job duration")
			}
		}
	case errors.Is(err, errAborted):
		log.Info().Msg("job aborted")
	case ctx.Err() != nil:
		// Shutting down; the job is recovered on the next start.
		log.Warn().Err(err).Msg("job interrupted by shutdown")
	default:
		o.handleFailure(ctx, job, err, log)
	}
}

func (o *Orchestrator) run(ctx context.Context, job *model.VisualizationJob, log zerolog.Logger) error {
	if err := o.transition(ctx, job, func() error { return job.StartPromptGeneration(o.now()) }); err != nil {
		return err
	}

	// Prompt
	promptCtx, cancel := context.WithTimeout(ctx, o.cfg.Policy.PromptTimeout)
	prompt, err := o.prompts.GeneratePrompt(promptCtx, client.PromptRequest{
		BookID:     job.BookID,
		PageID:     job.PageID,
		ChapterID:  job.ChapterID,
		Text:       job.OriginalText,
		Provider:   job.PreferredProvider,
		Style:      job.Style,
		Parameters: job.Parameters,
	})
	cancel()
	if err != nil {
		return o.stepError(ctx, job, "prompt generation", err)
	}
	log.Debug().Str("prompt", prompt.EnhancedPrompt).Msg("prompt generated")

	err = o.transition(ctx, job, func() error {
		return job.SetPrompt(model.PromptData{
			EnhancedPrompt: prompt.EnhancedPrompt,
			NegativePrompt: prompt.NegativePrompt,
			Style:          prompt.Style,
			Provider:       job.PreferredProvider,
		}, o.now())
	})
	if err != nil {
		return err
	}

	// Images
	genCtx, cancel := context.WithTimeout(ctx, o.cfg.Policy.ImageGenerationTimeout)
	result, err := o.images.GenerateImages(genCtx, client.ImageRequest{
		Prompt:         job.Prompt.EnhancedPrompt,
		NegativePrompt: job.Prompt.NegativePrompt,
		Provider:       job.PreferredProvider,
		Parameters:     job.Parameters,
	})
	cancel()
	if err != nil {
		return o.stepError(ctx, job, "image generation", err)
	}

	err = o.transition(ctx, job, func() error {
		return job.BeginImageUpload(result.ExternalJobID, len(result.Images), o.now())
	})
	if err != nil {
		return err
	}

	// Upload
	storeCtx, cancel := context.WithTimeout(ctx, o.cfg.Policy.StorageTimeout)
	images, err := o.store.StoreImages(storeCtx, job, result.Images)
	cancel()
	if err != nil {
		return o.stepError(ctx, job, "image upload", err)
	}

	err = o.transition(ctx, job, func() error {
		for _, img := range images {
			if err := job.AddImage(img); err != nil {
				return err
			}
		}
		return job.Complete(o.now())
	})
	if err != nil {
		o.discard(job, images, log)
	}
	return err
}

// transition re-reads the job before applying step, so a cancel that landed
// since the last write stops the pipeline before the next external call.
func (o *Orchestrator) transition(ctx context.Context, job *model.VisualizationJob, step func() error) error {
	if ctx.Err() != nil {
		return o.abortIfCancelled(job, ctx.Err())
	}
	if err := o.refresh(ctx, job); err != nil {
		return err
	}
	if err := step(); err != nil {
		return err
	}

	err := o.jobs.Commit(ctx, job)
	if errors.Is(err, model.ErrConflict) {
		// Only a user cancel writes a job while a worker owns it.
		return o.abortIfCancelled(job, err)
	}
	return err
}

// refresh adopts the stored version of job, or aborts if it was cancelled.
func (o *Orchestrator) refresh(ctx context.Context, job *model.VisualizationJob) error {
	stored, err := o.jobs.Load(ctx, job.ID)
	if err != nil {
		return err
	}
	if stored.Status == model.JobStatusCancelled {
		return errAborted
	}
	if stored.Version != job.Version {
		return fmt.Errorf("%w: job %s changed while owned by a worker", model.ErrConflict, job.ID)
	}
	return nil
}

func (o *Orchestrator) abortIfCancelled(job *model.VisualizationJob, cause error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stored, err := o.jobs.Load(ctx, job.ID)
	if err == nil && stored.Status == model.JobStatusCancelled {
		return errAborted
	}
	return cause
}

// stepError discards the result of a call that raced a cancel and tags the
// failing step otherwise.
func (o *Orchestrator) stepError(ctx context.Context, job *model.VisualizationJob, step string, err error) error {
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		if aborted := o.abortIfCancelled(job, err); errors.Is(aborted, errAborted) {
			return aborted
		}
	}
	return fmt.Errorf("%s: %w", step, err)
}

// discard removes uploads that could not be attached to the job.
func (o *Orchestrator) discard(job *model.VisualizationJob, images []model.GeneratedImage, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.Policy.StorageTimeout)
	defer cancel()
	for _, img := range images {
		if err := o.store.PurgeImage(ctx, img); err != nil {
			log.Warn().Err(err).Str("image_id", img.ID).Msg("failed to discard image")
		}
	}
}

// handleFailure applies the retry policy to the latest stored job.
func (o *Orchestrator) handleFailure(ctx context.Context, job *model.VisualizationJob, cause error, log zerolog.Logger) {
	for attempt := 0; attempt < 3; attempt++ {
		current, err := o.jobs.Load(ctx, job.ID)
		if err != nil {
			log.Error().Err(err).AnErr("cause", cause).Msg("failed to reload failed job")
			return
		}
		if !current.Status.IsProcessing() {
			return
		}

		decision, err := o.cfg.Policy.Apply(current, cause, false, o.now())
		if err != nil {
			log.Error().Err(err).Msg("failed to apply retry policy")
			return
		}
		if decision == retry.Abort {
			return
		}

		err = o.jobs.Commit(ctx, current)
		if errors.Is(err, model.ErrConflict) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Msg("failed to persist failure")
			return
		}

		event := log.Warn().Err(cause).Str("decision", decision.String()).Int("retry_count", current.RetryCount)
		if decision == retry.Retry {
			position, _ := o.jobs.Requeue(ctx, current, true)
			event.Int("position", position)
		}
		event.Msg("job step failed")
		return
	}
	log.Error().AnErr("cause", cause).Msg("gave up recording failure after repeated conflicts")
}
