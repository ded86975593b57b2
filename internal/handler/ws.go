package handler

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/bookvision/visualization/internal/middleware"
	"github.com/bookvision/visualization/internal/model"
	"github.com/bookvision/visualization/internal/service"
	ws "github.com/bookvision/visualization/internal/websocket"
	"github.com/bookvision/visualization/pkg/response"
)

const groupLocal = "wsGroup"

// WebSocketHandler authorizes subscriptions before handing the connection to
// the hub.
type WebSocketHandler struct {
	hub     *ws.Hub
	service *service.VisualizationService
}

func NewWebSocketHandler(hub *ws.Hub, svc *service.VisualizationService) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, service: svc}
}

// RequireUpgrade rejects plain HTTP requests on WebSocket routes.
func (h *WebSocketHandler) RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Job authorizes GET /ws/jobs/:jobId
func (h *WebSocketHandler) Job(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if _, err := h.service.GetJob(c.UserContext(), jobID); err != nil {
		return response.FromError(c, err)
	}
	c.Locals(groupLocal, model.JobGroup(jobID))
	return c.Next()
}

// Book authorizes GET /ws/books/:bookId
func (h *WebSocketHandler) Book(c *fiber.Ctx) error {
	c.Locals(groupLocal, model.BookGroup(c.Params("bookId")))
	return c.Next()
}

// User authorizes GET /ws/users/:userId. Users only see their own feed.
func (h *WebSocketHandler) User(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID != middleware.GetUserID(c) {
		return response.Forbidden(c, "Cannot subscribe to another user's notifications")
	}
	c.Locals(groupLocal, model.UserGroup(userID))
	return c.Next()
}

// Serve upgrades the connection and subscribes it to the authorized group.
func (h *WebSocketHandler) Serve() fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		group, _ := c.Locals(groupLocal).(string)
		if group == "" {
			return
		}
		h.hub.HandleConnection(c, group)
	})
}
