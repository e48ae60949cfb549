package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/request-engine/internal/auth"
	"github.com/spec-kit/request-engine/internal/service"
	apperrors "github.com/spec-kit/request-engine/pkg/errorutil"
)

const defaultFeedLimit = 50

// NotificationsHandler serves the derived notification feed.
type NotificationsHandler struct {
	service *service.NotificationService
}

// NewNotificationsHandler constructs handler.
func NewNotificationsHandler(notifications *service.NotificationService) *NotificationsHandler {
	return &NotificationsHandler{service: notifications}
}

// List GET /api/v1/notifications?limit=<n>.
func (h *NotificationsHandler) List(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	limit := c.QueryInt("limit", defaultFeedLimit)
	if limit <= 0 {
		return apperrors.NewValidationError("limit must be positive", nil)
	}
	return c.JSON(fiber.Map{"data": h.service.Feed(principal.Recipient(), limit)})
}
