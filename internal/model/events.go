package model

import (
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventJobCreated       = "visualization.created"
	EventJobQueued        = "visualization.queued"
	EventPromptGenerating = "visualization.prompt_generating"
	EventAIProcessing     = "visualization.ai_processing"
	EventImageUploading   = "visualization.image_uploading"
	EventJobCompleted     = "visualization.completed"
	EventJobFailed        = "visualization.failed"
	EventJobCancelled     = "visualization.cancelled"
	EventJobRetrying      = "visualization.retrying"
	EventImageSelected    = "visualization.image_selected"
	EventImageDeleted     = "visualization.image_deleted"
)

// Event is a lifecycle notification recorded by the job aggregate.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	JobID      string    `json:"jobId"`
	BookID     string    `json:"bookId"`
	UserID     string    `json:"userId"`
	Status     JobStatus `json:"status"`
	Progress   int       `json:"progress"`
	OccurredAt time.Time `json:"occurredAt"`

	QueuePosition        int     `json:"queuePosition,omitempty"`
	EstimatedWaitSeconds int     `json:"estimatedWaitSeconds,omitempty"`
	RetryCount           int     `json:"retryCount,omitempty"`
	Error                string  `json:"error,omitempty"`
	ImageID              string  `json:"imageId,omitempty"`
	ImageCount           int     `json:"imageCount,omitempty"`
	ProcessingSeconds    float64 `json:"processingSeconds,omitempty"`
}

// Notification groups
const (
	GroupPrefixJob  = "job:"
	GroupPrefixBook = "book:"
	GroupPrefixUser = "user:"
)

func JobGroup(jobID string) string   { return GroupPrefixJob + jobID }
func BookGroup(bookID string) string { return GroupPrefixBook + bookID }
func UserGroup(userID string) string { return GroupPrefixUser + userID }

// Groups lists every notification group interested in the event.
func (e Event) Groups() []string {
	groups := []string{JobGroup(e.JobID)}
	if e.BookID != "" {
		groups = append(groups, BookGroup(e.BookID))
	}
	if e.UserID != "" {
		groups = append(groups, UserGroup(e.UserID))
	}
	return groups
}

func (j *VisualizationJob) record(eventType string, now time.Time, fill func(*Event)) {
	e := Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		JobID:      j.ID,
		BookID:     j.BookID,
		UserID:     j.UserID,
		Status:     j.Status,
		Progress:   j.Status.Progress(),
		OccurredAt: now,
		RetryCount: j.RetryCount,
	}
	if fill != nil {
		fill(&e)
	}
	j.events = append(j.events, e)
}

// PendingEvents returns the events recorded since the last ClearEvents.
func (j *VisualizationJob) PendingEvents() []Event {
	out := make([]Event, len(j.events))
	copy(out, j.events)
	return out
}

// ClearEvents drops recorded events once they have been committed.
func (j *VisualizationJob) ClearEvents() {
	j.events = nil
}
