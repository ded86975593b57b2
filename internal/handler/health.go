package handler

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthSource exposes the store check and live counters of the pipeline.
type HealthSource interface {
	Ping(ctx context.Context) error
	QueueLength() int
	RunningJobs() int
}

type HealthHandler struct {
	source   HealthSource
	services map[string]bool
}

// NewHealthHandler reports services as a name to configured map.
func NewHealthHandler(source HealthSource, services map[string]bool) *HealthHandler {
	return &HealthHandler{source: source, services: services}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	status := "ok"
	storeStatus := "ok"

	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()
	if err := h.source.Ping(ctx); err != nil {
		status = "degraded"
		storeStatus = err.Error()
	}

	code := fiber.StatusOK
	if status != "ok" {
		code = fiber.StatusServiceUnavailable
	}

	return c.Status(code).JSON(fiber.Map{
		"status":      status,
		"redis":       storeStatus,
		"queueLength": h.source.QueueLength(),
		"runningJobs": h.source.RunningJobs(),
		"services":    h.services,
	})
}
