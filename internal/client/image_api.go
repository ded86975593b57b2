package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bookvision/visualization/internal/config"
	"github.com/bookvision/visualization/internal/model"
)

// maxImageBytes caps downloads of provider images.
const maxImageBytes = 20 << 20

// ImageRequest is the input of an image generation call.
type ImageRequest struct {
	Prompt         string
	NegativePrompt string
	Provider       model.Provider
	Parameters     model.GenerationParameters
}

// RawImage is one provider result, either inline bytes or a URL to fetch.
type RawImage struct {
	URL  string
	Data []byte
}

// GenerationResult groups the raw images of one provider job.
type GenerationResult struct {
	ExternalJobID string
	Images        []RawImage
}

// ImageAPIClient drives the image generation API: submit, then poll.
type ImageAPIClient struct {
	api          apiClient
	pollInterval time.Duration
}

type generateImageRequest struct {
	Prompt         string                 `json:"prompt"`
	NegativePrompt string                 `json:"negative_prompt,omitempty"`
	Model          string                 `json:"model"`
	Parameters     map[string]interface{} `json:"parameters"`
}

type generationStatus struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
	Images []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"images"`
}

type imageAPIResponse struct {
	Success bool             `json:"success"`
	Data    generationStatus `json:"data"`
}

// NewImageAPIClient creates a new image generation client
func NewImageAPIClient(cfg *config.ImageAPIConfig, log zerolog.Logger) *ImageAPIClient {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &ImageAPIClient{
		api:          newAPIClient("image-api", strings.TrimRight(cfg.BaseURL, "/"), cfg.APIKey, 2*time.Minute, log),
		pollInterval: interval,
	}
}

// GenerateImages submits the prompt and polls until the provider finishes.
// The caller bounds the total wait through ctx.
func (c *ImageAPIClient) GenerateImages(ctx context.Context, req ImageRequest) (*GenerationResult, error) {
	params := req.Parameters.ProviderOptions(req.Provider)
	body := generateImageRequest{
		Prompt:     model.TruncatePrompt(req.Prompt, req.Provider),
		Model:      string(req.Provider),
		Parameters: params,
	}
	if req.Provider.SupportsNegativePrompt() {
		body.NegativePrompt = req.NegativePrompt
	}

	var submitted imageAPIResponse
	if err := c.api.post(ctx, "/api/v1/generate", body, &submitted); err != nil {
		return nil, c.classify(ctx, err)
	}
	if submitted.Data.JobID == "" {
		return nil, fmt.Errorf("%w: image API returned no job id", model.ErrProvider)
	}

	status, err := c.poll(ctx, submitted.Data.JobID, &submitted.Data)
	if err != nil {
		return nil, err
	}

	result := &GenerationResult{ExternalJobID: status.JobID}
	for _, img := range status.Images {
		raw := RawImage{URL: img.URL}
		if img.B64JSON != "" {
			data, err := base64.StdEncoding.DecodeString(img.B64JSON)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid image payload: %v", model.ErrProvider, err)
			}
			raw.Data = data
		}
		if raw.URL == "" && raw.Data == nil {
			continue
		}
		result.Images = append(result.Images, raw)
	}
	if len(result.Images) == 0 {
		return nil, fmt.Errorf("%w: provider returned no images", model.ErrProvider)
	}
	return result, nil
}

// poll checks the job status until it is finished, failed or ctx ends.
func (c *ImageAPIClient) poll(ctx context.Context, jobID string, first *generationStatus) (*generationStatus, error) {
	status := first
	if status.JobID == "" {
		status.JobID = jobID
	}
	attempt := 0

	for {
		switch strings.ToLower(status.Status) {
		case "completed", "success", "succeeded":
			return status, nil
		case "failed", "error", "cancelled":
			msg := status.Error
			if msg == "" {
				msg = status.Status
			}
			return nil, fmt.Errorf("%w: generation %s failed: %s", model.ErrProvider, jobID, msg)
		}

		select {
		case <-ctx.Done():
			return nil, c.classify(ctx, ctx.Err())
		case <-time.After(c.pollInterval):
		}

		attempt++
		var resp imageAPIResponse
		if err := c.api.get(ctx, "/api/v1/status/"+jobID, &resp); err != nil {
			return nil, c.classify(ctx, err)
		}
		c.api.log.Debug().Str("external_job_id", jobID).Int("attempt", attempt).Str("status", resp.Data.Status).Msg("poll")
		status = &resp.Data
		if status.JobID == "" {
			status.JobID = jobID
		}
	}
}

// FetchImage downloads a provider image referenced by URL.
func (c *ImageAPIClient) FetchImage(ctx context.Context, url string) ([]byte, error) {
	return fetch(ctx, c.api.httpClient, url)
}

// IsConfigured returns true if the client has valid configuration
func (c *ImageAPIClient) IsConfigured() bool {
	return c.api.baseURL != ""
}

func (c *ImageAPIClient) classify(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w: image generation: %v", model.ErrTimeout, err)
	}
	if ctx.Err() == context.Canceled {
		return ctx.Err()
	}
	if apiErr, ok := AsAPIError(err); ok && apiErr.StatusCode == http.StatusBadRequest {
		return fmt.Errorf("%w: %v", model.ErrValidation, apiErr)
	}
	return fmt.Errorf("%w: %v", model.ErrProvider, err)
}

func fetch(ctx context.Context, httpClient *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download returned status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	return data, nil
}

// MockImageGenerator renders solid placeholder PNGs for development.
type MockImageGenerator struct {
	Delay time.Duration
}

var mockPalette = []color.NRGBA{
	{R: 0x2b, G: 0x4c, B: 0x7e, A: 0xff},
	{R: 0x56, G: 0x7e, B: 0xbb, A: 0xff},
	{R: 0x60, G: 0x6d, B: 0x80, A: 0xff},
	{R: 0xdc, G: 0xe0, B: 0xe6, A: 0xff},
}

// GenerateImages returns Parameters.ImageCount placeholder images.
func (m *MockImageGenerator) GenerateImages(ctx context.Context, req ImageRequest) (*GenerationResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(m.Delay):
	}

	params := req.Parameters.WithDefaults()
	w, h := mockSize(params.AspectRatio)
	result := &GenerationResult{ExternalJobID: "mock-" + uuid.New().String()}
	for i := 0; i < params.ImageCount; i++ {
		img := imaging.New(w, h, mockPalette[i%len(mockPalette)])
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, fmt.Errorf("failed to encode placeholder: %w", err)
		}
		result.Images = append(result.Images, RawImage{Data: buf.Bytes()})
	}
	return result, nil
}

// FetchImage downloads url with the default HTTP client.
func (m *MockImageGenerator) FetchImage(ctx context.Context, url string) ([]byte, error) {
	return fetch(ctx, http.DefaultClient, url)
}

func mockSize(ar model.AspectRatio) (int, int) {
	switch ar {
	case model.AspectPortrait:
		return 512, 768
	case model.AspectLandscape:
		return 768, 512
	case model.AspectWide:
		return 896, 504
	case model.AspectTall:
		return 504, 896
	case model.AspectSquare:
		return 512, 512
	}
	return 512, 512
}
