package model

import "time"

// CreateVisualizationRequest represents the request to start a visualization job
type CreateVisualizationRequest struct {
	BookID     string                `json:"bookId" validate:"required"`
	PageID     *string               `json:"pageId" validate:"omitempty"`
	ChapterID  *string               `json:"chapterId" validate:"omitempty"`
	Trigger    Trigger               `json:"trigger" validate:"required,oneof=page_button text_selection auto_novel"`
	Text       string                `json:"text" validate:"required,min=1,max=10000"`
	Provider   Provider              `json:"provider" validate:"omitempty,oneof=dalle3 midjourney stable-diffusion flux"`
	Style      Style                 `json:"style" validate:"omitempty,oneof=realistic fantasy manga anime comic painterly sketch cinematic watercolor oil_painting"`
	Priority   *int                  `json:"priority" validate:"omitempty,min=0,max=100"`
	Parameters *GenerationParameters `json:"parameters" validate:"omitempty"`
}

// CreateVisualizationResponse represents the response when a job is accepted
type CreateVisualizationResponse struct {
	JobID                string    `json:"jobId"`
	Status               JobStatus `json:"status"`
	QueuePosition        int       `json:"queuePosition"`
	EstimatedWaitSeconds int       `json:"estimatedWaitSeconds"`
	CreatedAt            time.Time `json:"createdAt"`
}

// JobStatusResponse is the client-facing view of a job
type JobStatusResponse struct {
	JobID             string           `json:"jobId"`
	BookID            string           `json:"bookId"`
	PageID            *string          `json:"pageId,omitempty"`
	ChapterID         *string          `json:"chapterId,omitempty"`
	Trigger           Trigger          `json:"trigger"`
	Status            JobStatus        `json:"status"`
	Progress          int              `json:"progress"`
	Priority          int              `json:"priority"`
	Provider          Provider         `json:"provider"`
	QueuePosition     int              `json:"queuePosition,omitempty"`
	EnhancedPrompt    string           `json:"enhancedPrompt,omitempty"`
	Images            []GeneratedImage `json:"images"`
	SelectedImageID   *string          `json:"selectedImageId,omitempty"`
	RetryCount        int              `json:"retryCount"`
	Error             *string          `json:"error"`
	CreatedAt         time.Time        `json:"createdAt"`
	StartedAt         *time.Time       `json:"startedAt"`
	CompletedAt       *time.Time       `json:"completedAt"`
	ProcessingSeconds float64          `json:"processingSeconds,omitempty"`
}

// NewJobStatusResponse builds the response view of job.
func NewJobStatusResponse(job *VisualizationJob) *JobStatusResponse {
	resp := &JobStatusResponse{
		JobID:             job.ID,
		BookID:            job.BookID,
		PageID:            job.PageID,
		ChapterID:         job.ChapterID,
		Trigger:           job.Trigger,
		Status:            job.Status,
		Progress:          job.Status.Progress(),
		Priority:          job.Priority,
		Provider:          job.PreferredProvider,
		QueuePosition:     job.QueuePosition,
		Images:            job.ActiveImages(),
		SelectedImageID:   job.SelectedImageID,
		RetryCount:        job.RetryCount,
		CreatedAt:         job.CreatedAt,
		StartedAt:         job.StartedAt,
		CompletedAt:       job.CompletedAt,
		ProcessingSeconds: job.ProcessingTime().Seconds(),
	}
	if job.Prompt != nil {
		resp.EnhancedPrompt = job.Prompt.EnhancedPrompt
	}
	if job.LastError != "" {
		msg := job.LastError
		resp.Error = &msg
	}
	return resp
}

// QueuePositionResponse reports a job's place in the queue
type QueuePositionResponse struct {
	JobID                string    `json:"jobId"`
	Status               JobStatus `json:"status"`
	QueuePosition        int       `json:"queuePosition"`
	QueueLength          int       `json:"queueLength"`
	EstimatedWaitSeconds int       `json:"estimatedWaitSeconds"`
}

// CancelVisualizationResponse represents the response when cancelling a job
type CancelVisualizationResponse struct {
	Success bool      `json:"success"`
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
}

// JobListResponse wraps a list of jobs
type JobListResponse struct {
	Jobs  []*JobStatusResponse `json:"jobs"`
	Total int                  `json:"total"`
}
