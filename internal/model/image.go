package model

import (
	"fmt"
	"time"
)

// GeneratedImage is an image produced for a job. It is owned by the job and
// never stored on its own.
type GeneratedImage struct {
	ID           string        `json:"id"`
	JobID        string        `json:"jobId"`
	URL          string        `json:"url"`
	ThumbnailURL string        `json:"thumbnailUrl,omitempty"`
	StorageKey   string        `json:"storageKey,omitempty"`
	ThumbnailKey string        `json:"thumbnailKey,omitempty"`
	Metadata     ImageMetadata `json:"metadata"`
	Provider     Provider      `json:"provider"`
	GeneratedAt  time.Time     `json:"generatedAt"`
	IsSelected   bool          `json:"isSelected"`
	IsDeleted    bool          `json:"isDeleted"`
	DeletedAt    *time.Time    `json:"deletedAt,omitempty"`
}

// ImageMetadata describes a stored image file.
type ImageMetadata struct {
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Format    string `json:"format"`
	SizeBytes int64  `json:"sizeBytes"`
}

// ActiveImages returns the images that have not been soft-deleted.
func (j *VisualizationJob) ActiveImages() []GeneratedImage {
	active := make([]GeneratedImage, 0, len(j.Images))
	for _, img := range j.Images {
		if !img.IsDeleted {
			active = append(active, img)
		}
	}
	return active
}

// SelectedImage returns the chosen image, if any.
func (j *VisualizationJob) SelectedImage() *GeneratedImage {
	if j.SelectedImageID == nil {
		return nil
	}
	for i := range j.Images {
		if j.Images[i].ID == *j.SelectedImageID {
			return &j.Images[i]
		}
	}
	return nil
}

func (j *VisualizationJob) findImage(imageID string) int {
	for i := range j.Images {
		if j.Images[i].ID == imageID {
			return i
		}
	}
	return -1
}

func (j *VisualizationJob) selectIndex(idx int) {
	for i := range j.Images {
		j.Images[i].IsSelected = i == idx
	}
	id := j.Images[idx].ID
	j.SelectedImageID = &id
}

// SelectImage marks imageID as the chosen image and unselects the rest.
func (j *VisualizationJob) SelectImage(imageID string, now time.Time) error {
	idx := j.findImage(imageID)
	if idx < 0 {
		return fmt.Errorf("%w: image %s", ErrNotFound, imageID)
	}
	if j.Images[idx].IsDeleted {
		return fmt.Errorf("%w: image %s is deleted", ErrValidation, imageID)
	}

	j.selectIndex(idx)
	j.record(EventImageSelected, now, func(e *Event) {
		e.ImageID = imageID
	})
	return nil
}

// DeleteImage soft-deletes an image. If it was the selection, the first
// remaining image takes its place.
func (j *VisualizationJob) DeleteImage(imageID string, now time.Time) (*GeneratedImage, error) {
	idx := j.findImage(imageID)
	if idx < 0 {
		return nil, fmt.Errorf("%w: image %s", ErrNotFound, imageID)
	}
	img := &j.Images[idx]
	if img.IsDeleted {
		return nil, fmt.Errorf("%w: image %s is already deleted", ErrValidation, imageID)
	}

	img.IsDeleted = true
	img.DeletedAt = &now
	if img.IsSelected {
		img.IsSelected = false
		j.SelectedImageID = nil
		for i := range j.Images {
			if !j.Images[i].IsDeleted {
				j.selectIndex(i)
				break
			}
		}
	}

	deleted := *img
	j.record(EventImageDeleted, now, func(e *Event) {
		e.ImageID = imageID
	})
	return &deleted, nil
}
