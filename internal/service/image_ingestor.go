package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bookvision/visualization/internal/client"
	"github.com/bookvision/visualization/internal/model"
)

// ThumbnailSize is the edge length of generated thumbnails.
const ThumbnailSize = 256

// ImageFetcher downloads provider images that were returned by URL.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url string) ([]byte, error)
}

// ImageIngestor validates raw provider images, builds thumbnails and uploads
// both to object storage.
type ImageIngestor struct {
	storage client.StorageClient
	fetcher ImageFetcher
	now     func() time.Time
	log     zerolog.Logger
}

func NewImageIngestor(storage client.StorageClient, fetcher ImageFetcher, log zerolog.Logger) *ImageIngestor {
	return &ImageIngestor{
		storage: storage,
		fetcher: fetcher,
		now:     time.Now,
		log:     log.With().Str("component", "ingestor").Logger(),
	}
}

// StoreImages uploads every raw image of job. It stores all of them or none:
// on failure the objects uploaded so far are deleted and model.ErrStorage is
// returned.
func (s *ImageIngestor) StoreImages(ctx context.Context, job *model.VisualizationJob, raw []client.RawImage) ([]model.GeneratedImage, error) {
	images := make([]model.GeneratedImage, 0, len(raw))
	for i, r := range raw {
		img, err := s.storeOne(ctx, job, r)
		if err != nil {
			s.rollback(job.ID, images)
			return nil, fmt.Errorf("image %d of %d: %w", i+1, len(raw), err)
		}
		images = append(images, *img)
	}
	return images, nil
}

func (s *ImageIngestor) storeOne(ctx context.Context, job *model.VisualizationJob, r client.RawImage) (*model.GeneratedImage, error) {
	data := r.Data
	if data == nil {
		fetched, err := s.fetcher.FetchImage(ctx, r.URL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
		}
		data = fetched
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("%w: provider returned %s, not an image", model.ErrProvider, mt.String())
	}
	decoded, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: undecodable %s image: %v", model.ErrProvider, mt.String(), err)
	}

	id := uuid.New().String()
	key := fmt.Sprintf("visualizations/%s/%s%s", job.ID, id, mt.Extension())
	url, err := s.storage.Upload(ctx, key, bytes.NewReader(data), mt.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrStorage, err)
	}

	img := &model.GeneratedImage{
		ID:         id,
		JobID:      job.ID,
		URL:        url,
		StorageKey: key,
		Metadata: model.ImageMetadata{
			Width:     decoded.Bounds().Dx(),
			Height:    decoded.Bounds().Dy(),
			Format:    strings.TrimPrefix(mt.Extension(), "."),
			SizeBytes: int64(len(data)),
		},
		Provider:    job.PreferredProvider,
		GeneratedAt: s.now(),
	}

	thumbKey := fmt.Sprintf("visualizations/%s/thumb_%s.jpg", job.ID, id)
	thumbURL, err := s.uploadThumbnail(ctx, thumbKey, decoded)
	if err != nil {
		s.rollback(job.ID, []model.GeneratedImage{*img})
		return nil, err
	}
	img.ThumbnailKey = thumbKey
	img.ThumbnailURL = thumbURL
	return img, nil
}

func (s *ImageIngestor) uploadThumbnail(ctx context.Context, key string, src image.Image) (string, error) {
	thumb := imaging.Thumbnail(src, ThumbnailSize, ThumbnailSize, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("%w: failed to encode thumbnail: %v", model.ErrStorage, err)
	}
	url, err := s.storage.Upload(ctx, key, &buf, "image/jpeg")
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	return url, nil
}

// rollback runs detached from the job context, which may already be cancelled.
func (s *ImageIngestor) rollback(jobID string, images []model.GeneratedImage) {
	if len(images) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, img := range images {
		if err := s.PurgeImage(ctx, img); err != nil {
			s.log.Warn().Err(err).Str("job_id", jobID).Str("image_id", img.ID).Msg("failed to roll back upload")
		}
	}
}

// PurgeImage deletes the stored objects of img.
func (s *ImageIngestor) PurgeImage(ctx context.Context, img model.GeneratedImage) error {
	var errs []error
	for _, key := range []string{img.StorageKey, img.ThumbnailKey} {
		if key == "" {
			continue
		}
		if err := s.storage.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %v", model.ErrStorage, err)
	}
	return nil
}
