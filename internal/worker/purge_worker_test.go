package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/bookvision/visualization/internal/logger"
	"github.com/bookvision/visualization/internal/service"
)

func TestPurgeWorker_ProcessTask(t *testing.T) {
	store := &stubStore{}
	w := NewPurgeWorker(store, logger.Nop())

	payload, _ := json.Marshal(service.ImagePurgePayload{
		JobID:        "job-1",
		ImageID:      "img-1",
		StorageKey:   "visualizations/job-1/img-1.png",
		ThumbnailKey: "visualizations/job-1/thumb_img-1.jpg",
	})
	if err := w.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeImagePurge, payload)); err != nil {
		t.Fatalf("ProcessTask: %v", err)
	}
	if len(store.purged) != 1 || store.purged[0] != "visualizations/job-1/img-1.png" {
		t.Errorf("unexpected purge calls %v", store.purged)
	}
}

func TestPurgeWorker_InvalidPayload(t *testing.T) {
	w := NewPurgeWorker(&stubStore{}, logger.Nop())

	err := w.ProcessTask(context.Background(), asynq.NewTask(service.TaskTypeImagePurge, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Errorf("expected SkipRetry, got %v", err)
	}
}
