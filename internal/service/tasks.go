package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/bookvision/visualization/internal/model"
)

// Task types
const (
	TaskTypeImagePurge = "image:purge"
)

// TaskEnqueuer is the subset of *asynq.Client used to schedule tasks.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// ImagePurgePayload identifies the stored objects of a deleted image.
type ImagePurgePayload struct {
	JobID        string `json:"jobId"`
	ImageID      string `json:"imageId"`
	StorageKey   string `json:"storageKey"`
	ThumbnailKey string `json:"thumbnailKey,omitempty"`
}

// Image returns the fields of the image needed to delete it from storage.
func (p ImagePurgePayload) Image() model.GeneratedImage {
	return model.GeneratedImage{
		ID:           p.ImageID,
		JobID:        p.JobID,
		StorageKey:   p.StorageKey,
		ThumbnailKey: p.ThumbnailKey,
	}
}

func newImagePurgeTask(img model.GeneratedImage) (*asynq.Task, error) {
	payload, err := json.Marshal(ImagePurgePayload{
		JobID:        img.JobID,
		ImageID:      img.ID,
		StorageKey:   img.StorageKey,
		ThumbnailKey: img.ThumbnailKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal purge payload: %w", err)
	}
	return asynq.NewTask(TaskTypeImagePurge, payload), nil
}
