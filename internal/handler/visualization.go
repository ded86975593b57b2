package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/bookvision/visualization/internal/middleware"
	"github.com/bookvision/visualization/internal/model"
	"github.com/bookvision/visualization/internal/service"
	"github.com/bookvision/visualization/pkg/response"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

type VisualizationHandler struct {
	service   *service.VisualizationService
	validator *validator.Validate
}

func NewVisualizationHandler(svc *service.VisualizationService, v *validator.Validate) *VisualizationHandler {
	return &VisualizationHandler{
		service:   svc,
		validator: v,
	}
}

// Create handles POST /api/visualizations
func (h *VisualizationHandler) Create(c *fiber.Ctx) error {
	var req model.CreateVisualizationRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.CreateJob(c.UserContext(), middleware.GetUserID(c), &req)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Accepted(c, result)
}

// Get handles GET /api/visualizations/:jobId
func (h *VisualizationHandler) Get(c *fiber.Ctx) error {
	result, err := h.service.GetJob(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Position handles GET /api/visualizations/:jobId/position
func (h *VisualizationHandler) Position(c *fiber.Ctx) error {
	result, err := h.service.GetQueuePosition(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// Events handles GET /api/visualizations/:jobId/events
func (h *VisualizationHandler) Events(c *fiber.Ctx) error {
	events, err := h.service.Events(c.UserContext(), c.Params("jobId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, fiber.Map{"events": events, "total": len(events)})
}

// Cancel handles POST /api/visualizations/:jobId/cancel
func (h *VisualizationHandler) Cancel(c *fiber.Ctx) error {
	result, err := h.service.CancelJob(c.UserContext(), c.Params("jobId"), middleware.GetUserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// SelectImage handles POST /api/visualizations/:jobId/images/:imageId/select
func (h *VisualizationHandler) SelectImage(c *fiber.Ctx) error {
	result, err := h.service.SelectImage(c.UserContext(), c.Params("jobId"), c.Params("imageId"), middleware.GetUserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// DeleteImage handles DELETE /api/visualizations/:jobId/images/:imageId
func (h *VisualizationHandler) DeleteImage(c *fiber.Ctx) error {
	result, err := h.service.DeleteImage(c.UserContext(), c.Params("jobId"), c.Params("imageId"), middleware.GetUserID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// ListByBook handles GET /api/books/:bookId/visualizations
func (h *VisualizationHandler) ListByBook(c *fiber.Ctx) error {
	result, err := h.service.ListByBook(c.UserContext(), c.Params("bookId"), listLimit(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

// ListMine handles GET /api/me/visualizations
func (h *VisualizationHandler) ListMine(c *fiber.Ctx) error {
	result, err := h.service.ListByUser(c.UserContext(), middleware.GetUserID(c), listLimit(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, result)
}

func listLimit(c *fiber.Ctx) int {
	limit := c.QueryInt("limit", defaultListLimit)
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
