package service

import (
	"context"

	"github.com/bookvision/visualization/internal/client"
	"github.com/bookvision/visualization/internal/model"
)

// CatalogLookup answers whether a book may be visualized.
type CatalogLookup interface {
	IsVisualizationEnabled(ctx context.Context, bookID string) (bool, error)
}

// PromptGenerator turns page text into an image prompt.
type PromptGenerator interface {
	GeneratePrompt(ctx context.Context, req client.PromptRequest) (*client.PromptResult, error)
}

// ImageGenerator produces raw images for a prompt.
type ImageGenerator interface {
	GenerateImages(ctx context.Context, req client.ImageRequest) (*client.GenerationResult, error)
	FetchImage(ctx context.Context, url string) ([]byte, error)
}

// ImageStore persists raw provider images and removes stored ones.
type ImageStore interface {
	StoreImages(ctx context.Context, job *model.VisualizationJob, raw []client.RawImage) ([]model.GeneratedImage, error)
	PurgeImage(ctx context.Context, img model.GeneratedImage) error
}

// EventSink receives committed lifecycle events.
type EventSink interface {
	Publish(ctx context.Context, events ...model.Event) error
}

// configurable is implemented by clients that can run without configuration.
type configurable interface {
	IsConfigured() bool
}

func isConfigured(v interface{}) bool {
	if c, ok := v.(configurable); ok {
		return c.IsConfigured()
	}
	return true
}
