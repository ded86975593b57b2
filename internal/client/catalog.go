package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/bookvision/visualization/internal/config"
	"github.com/bookvision/visualization/internal/model"
)

// CatalogClient answers whether a book may be visualized. Answers are cached
// in Redis for the configured TTL.
type CatalogClient struct {
	api      apiClient
	redis    *redis.Client
	cacheTTL time.Duration
}

type bookResponse struct {
	ID                   string `json:"id"`
	Title                string `json:"title"`
	VisualizationEnabled bool   `json:"visualizationEnabled"`
}

// NewCatalogClient creates a catalog client. redisClient may be nil to disable caching.
func NewCatalogClient(cfg *config.CatalogConfig, redisClient *redis.Client, log zerolog.Logger) *CatalogClient {
	return &CatalogClient{
		api:      newAPIClient("catalog", strings.TrimRight(cfg.BaseURL, "/"), "", 10*time.Second, log),
		redis:    redisClient,
		cacheTTL: cfg.CacheTTL,
	}
}

func catalogCacheKey(bookID string) string {
	return "visualization:catalog:book:" + bookID
}

// IsVisualizationEnabled reports whether bookID allows visualization. Unknown
// books fail with model.ErrNotFound. When no catalog is configured every book
// is enabled.
func (c *CatalogClient) IsVisualizationEnabled(ctx context.Context, bookID string) (bool, error) {
	if !c.IsConfigured() {
		return true, nil
	}

	if c.redis != nil {
		cached, err := c.redis.Get(ctx, catalogCacheKey(bookID)).Result()
		switch {
		case err == nil:
			return cached == "1", nil
		case !errors.Is(err, redis.Nil):
			c.api.log.Warn().Err(err).Str("book_id", bookID).Msg("catalog cache read failed")
		}
	}

	var book bookResponse
	if err := c.api.get(ctx, "/api/books/"+url.PathEscape(bookID), &book); err != nil {
		if apiErr, ok := AsAPIError(err); ok && apiErr.StatusCode == http.StatusNotFound {
			return false, fmt.Errorf("%w: book %s", model.ErrNotFound, bookID)
		}
		return false, fmt.Errorf("catalog lookup failed: %w", err)
	}

	if c.redis != nil && c.cacheTTL > 0 {
		val := "0"
		if book.VisualizationEnabled {
			val = "1"
		}
		if err := c.redis.Set(ctx, catalogCacheKey(bookID), val, c.cacheTTL).Err(); err != nil {
			c.api.log.Warn().Err(err).Str("book_id", bookID).Msg("catalog cache write failed")
		}
	}
	return book.VisualizationEnabled, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *CatalogClient) IsConfigured() bool {
	return c.api.baseURL != ""
}
