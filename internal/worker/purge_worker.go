package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/bookvision/visualization/internal/service"
)

// PurgeWorker deletes the stored files of soft-deleted images.
type PurgeWorker struct {
	store service.ImageStore
	log   zerolog.Logger
}

// NewPurgeWorker creates a new purge worker
func NewPurgeWorker(store service.ImageStore, log zerolog.Logger) *PurgeWorker {
	return &PurgeWorker{
		store: store,
		log:   log.With().Str("component", "purge").Logger(),
	}
}

// ProcessTask handles image purge tasks
func (w *PurgeWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.ImagePurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal purge payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.StorageKey == "" && payload.ThumbnailKey == "" {
		return nil
	}

	if err := w.store.PurgeImage(ctx, payload.Image()); err != nil {
		return err
	}
	w.log.Info().Str("job_id", payload.JobID).Str("image_id", payload.ImageID).Msg("image purged")
	return nil
}
