package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// VisualizationJob tracks one visualization request from creation to a
// terminal state. Mutations go through the transition methods below; each
// successful transition records exactly one Event.
type VisualizationJob struct {
	ID                string               `json:"id"`
	BookID            string               `json:"bookId"`
	PageID            *string              `json:"pageId,omitempty"`
	ChapterID         *string              `json:"chapterId,omitempty"`
	UserID            string               `json:"userId"`
	Trigger           Trigger              `json:"trigger"`
	Status            JobStatus            `json:"status"`
	Priority          int                  `json:"priority"`
	PreferredProvider Provider             `json:"preferredProvider"`
	Style             Style                `json:"style,omitempty"`
	OriginalText      string               `json:"originalText"`
	Parameters        GenerationParameters `json:"parameters"`
	Prompt            *PromptData          `json:"prompt,omitempty"`
	ExternalJobID     string               `json:"externalJobId,omitempty"`
	Images            []GeneratedImage     `json:"images"`
	SelectedImageID   *string              `json:"selectedImageId,omitempty"`
	RetryCount        int                  `json:"retryCount"`
	LastError         string               `json:"lastError,omitempty"`
	QueuePosition     int                  `json:"queuePosition,omitempty"`
	EstimatedWait     time.Duration        `json:"estimatedWait,omitempty"`
	CreatedAt         time.Time            `json:"createdAt"`
	QueuedAt          *time.Time           `json:"queuedAt,omitempty"`
	StartedAt         *time.Time           `json:"startedAt,omitempty"`
	CompletedAt       *time.Time           `json:"completedAt,omitempty"`

	// Version is bumped by the repository on every successful write.
	Version int64 `json:"version"`

	events []Event
}

// PromptData is the output of the prompt generation step.
type PromptData struct {
	EnhancedPrompt string    `json:"enhancedPrompt"`
	NegativePrompt string    `json:"negativePrompt,omitempty"`
	Style          Style     `json:"style,omitempty"`
	Provider       Provider  `json:"provider"`
	GeneratedAt    time.Time `json:"generatedAt"`
}

// NewJobParams holds the validated input of a create request.
type NewJobParams struct {
	BookID       string
	PageID       *string
	ChapterID    *string
	UserID       string
	Trigger      Trigger
	Priority     *int
	Provider     Provider
	Style        Style
	OriginalText string
	Parameters   GenerationParameters
}

// NewVisualizationJob creates a Pending job and records the created event.
func NewVisualizationJob(p NewJobParams, now time.Time) (*VisualizationJob, error) {
	if p.BookID == "" {
		return nil, fmt.Errorf("%w: book id is required", ErrValidation)
	}
	if p.UserID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if !p.Trigger.Valid() {
		return nil, fmt.Errorf("%w: unknown trigger %q", ErrValidation, p.Trigger)
	}
	if strings.TrimSpace(p.OriginalText) == "" {
		return nil, fmt.Errorf("%w: text is required", ErrValidation)
	}

	provider := p.Provider
	if provider == "" {
		provider = DefaultProvider
	}
	if !provider.Valid() {
		return nil, fmt.Errorf("%w: unknown provider %q", ErrValidation, provider)
	}

	priority := p.Trigger.DefaultPriority()
	if p.Priority != nil {
		if *p.Priority < 0 || *p.Priority > PriorityMax {
			return nil, fmt.Errorf("%w: priority must be between 0 and %d", ErrValidation, PriorityMax)
		}
		priority = *p.Priority
	}

	job := &VisualizationJob{
		ID:                uuid.New().String(),
		BookID:            p.BookID,
		PageID:            p.PageID,
		ChapterID:         p.ChapterID,
		UserID:            p.UserID,
		Trigger:           p.Trigger,
		Status:            JobStatusPending,
		Priority:          priority,
		PreferredProvider: provider,
		Style:             p.Style,
		OriginalText:      p.OriginalText,
		Parameters:        p.Parameters.WithDefaults(),
		Images:            []GeneratedImage{},
		CreatedAt:         now,
	}
	job.record(EventJobCreated, now, nil)
	return job, nil
}

// CanCancel reports whether the job may still be cancelled.
func (j *VisualizationJob) CanCancel() bool {
	return !j.Status.IsTerminal()
}

// ProcessingTime is CompletedAt - StartedAt, zero until both are set.
func (j *VisualizationJob) ProcessingTime() time.Duration {
	if j.StartedAt == nil || j.CompletedAt == nil {
		return 0
	}
	return j.CompletedAt.Sub(*j.StartedAt)
}

// transitions lists every allowed edge of the job state machine.
var transitions = map[JobStatus][]JobStatus{
	JobStatusPending:          {JobStatusQueued, JobStatusCancelled},
	JobStatusQueued:           {JobStatusPromptGenerating, JobStatusCancelled},
	JobStatusPromptGenerating: {JobStatusAIProcessing, JobStatusQueued, JobStatusFailed, JobStatusCancelled},
	JobStatusAIProcessing:     {JobStatusImageUploading, JobStatusQueued, JobStatusFailed, JobStatusCancelled},
	JobStatusImageUploading:   {JobStatusCompleted, JobStatusQueued, JobStatusFailed, JobStatusCancelled},
	JobStatusCompleted:        nil,
	JobStatusFailed:           nil,
	JobStatusCancelled:        nil,
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func (j *VisualizationJob) checkTransition(to JobStatus) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	return nil
}

// MarkQueued moves a Pending job into the queue. Position and wait come from
// the queue manager.
func (j *VisualizationJob) MarkQueued(position int, estimatedWait time.Duration, now time.Time) error {
	if j.Status != JobStatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, JobStatusQueued)
	}
	if position < 1 {
		return fmt.Errorf("%w: queue position must be positive", ErrValidation)
	}

	j.Status = JobStatusQueued
	j.QueuePosition = position
	j.EstimatedWait = estimatedWait
	j.QueuedAt = &now
	j.record(EventJobQueued, now, func(e *Event) {
		e.QueuePosition = position
		e.EstimatedWaitSeconds = int(estimatedWait.Seconds())
	})
	return nil
}

// UpdateQueuePosition refreshes the cached position without a transition.
func (j *VisualizationJob) UpdateQueuePosition(position int, estimatedWait time.Duration) {
	j.QueuePosition = position
	j.EstimatedWait = estimatedWait
}

// StartPromptGeneration is called by the worker that dequeued the job.
func (j *VisualizationJob) StartPromptGeneration(now time.Time) error {
	if err := j.checkTransition(JobStatusPromptGenerating); err != nil {
		return err
	}

	j.Status = JobStatusPromptGenerating
	j.QueuePosition = 0
	j.EstimatedWait = 0
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	j.record(EventPromptGenerating, now, nil)
	return nil
}

// SetPrompt stores the enhanced prompt and hands the job to the AI provider.
func (j *VisualizationJob) SetPrompt(prompt PromptData, now time.Time) error {
	if err := j.checkTransition(JobStatusAIProcessing); err != nil {
		return err
	}
	if strings.TrimSpace(prompt.EnhancedPrompt) == "" {
		return fmt.Errorf("%w: enhanced prompt is empty", ErrValidation)
	}
	if prompt.GeneratedAt.IsZero() {
		prompt.GeneratedAt = now
	}

	j.Prompt = &prompt
	j.Status = JobStatusAIProcessing
	j.record(EventAIProcessing, now, nil)
	return nil
}

// BeginImageUpload records the provider's job id once raw images are back.
func (j *VisualizationJob) BeginImageUpload(externalJobID string, rawImages int, now time.Time) error {
	if err := j.checkTransition(JobStatusImageUploading); err != nil {
		return err
	}
	if externalJobID == "" {
		return fmt.Errorf("%w: external job id is required", ErrValidation)
	}
	if rawImages < 1 {
		return fmt.Errorf("%w: provider returned no images", ErrValidation)
	}

	j.ExternalJobID = externalJobID
	j.Status = JobStatusImageUploading
	j.record(EventImageUploading, now, func(e *Event) {
		e.ImageCount = rawImages
	})
	return nil
}

// AddImage appends a stored image. The first image becomes the selection.
func (j *VisualizationJob) AddImage(img GeneratedImage) error {
	if j.Status != JobStatusImageUploading {
		return fmt.Errorf("%w: images can only be added while uploading", ErrInvalidTransition)
	}
	if img.ID == "" {
		img.ID = uuid.New().String()
	}
	img.JobID = j.ID
	img.IsSelected = false
	img.IsDeleted = false
	j.Images = append(j.Images, img)

	if j.SelectedImageID == nil {
		j.selectIndex(len(j.Images) - 1)
	}
	return nil
}

// Complete finishes the pipeline.
func (j *VisualizationJob) Complete(now time.Time) error {
	if err := j.checkTransition(JobStatusCompleted); err != nil {
		return err
	}
	if len(j.ActiveImages()) == 0 {
		return fmt.Errorf("%w: no persisted images", ErrValidation)
	}

	j.Status = JobStatusCompleted
	j.CompletedAt = &now
	j.LastError = ""
	j.record(EventJobCompleted, now, func(e *Event) {
		e.ImageCount = len(j.ActiveImages())
		e.ProcessingSeconds = j.ProcessingTime().Seconds()
		if j.SelectedImageID != nil {
			e.ImageID = *j.SelectedImageID
		}
	})
	return nil
}

// Cancel terminates the job on behalf of its owner.
func (j *VisualizationJob) Cancel(actorID string, now time.Time) error {
	if actorID != j.UserID {
		return fmt.Errorf("%w: only the requesting user can cancel this job", ErrForbidden)
	}
	if !j.CanCancel() {
		return fmt.Errorf("%w: job is already %s", ErrValidation, j.Status)
	}

	j.Status = JobStatusCancelled
	j.CompletedAt = &now
	j.QueuePosition = 0
	j.EstimatedWait = 0
	j.record(EventJobCancelled, now, nil)
	return nil
}

// RequeueForRetry sends a failed processing step back to the queue.
func (j *VisualizationJob) RequeueForRetry(cause error, now time.Time) error {
	if !j.Status.IsProcessing() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, JobStatusQueued)
	}

	j.RetryCount++
	j.LastError = errorMessage(cause)
	j.Status = JobStatusQueued
	j.QueuedAt = &now
	j.record(EventJobRetrying, now, func(e *Event) {
		e.Error = j.LastError
	})
	return nil
}

// Fail moves the job into the terminal failed state.
func (j *VisualizationJob) Fail(cause error, now time.Time) error {
	if err := j.checkTransition(JobStatusFailed); err != nil {
		return err
	}

	j.Status = JobStatusFailed
	j.LastError = errorMessage(cause)
	j.CompletedAt = &now
	j.QueuePosition = 0
	j.EstimatedWait = 0
	j.record(EventJobFailed, now, func(e *Event) {
		e.Error = j.LastError
	})
	return nil
}

func errorMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
