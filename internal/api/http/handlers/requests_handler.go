package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/request-engine/internal/api/dto"
	"github.com/spec-kit/request-engine/internal/auth"
	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/service"
	apperrors "github.com/spec-kit/request-engine/pkg/errorutil"
)

// HeaderIdempotencyKey lets callers retry a command safely.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxIdempotencyKeyLength = 128

// RequestsHandler exposes request lifecycle endpoints.
type RequestsHandler struct {
	ledger *service.Ledger
}

// NewRequestsHandler constructs handler.
func NewRequestsHandler(ledger *service.Ledger) *RequestsHandler {
	return &RequestsHandler{ledger: ledger}
}

// Create POST /api/v1/requests.
func (h *RequestsHandler) Create(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	var req dto.CreateRequestRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	clientRef := req.ClientRef
	if principal.Role == auth.RoleClient {
		if principal.ClientRef == nil {
			return apperrors.NewForbidden("client scope missing from token")
		}
		if clientRef != 0 && clientRef != *principal.ClientRef {
			return apperrors.NewForbidden("cannot open requests for another client")
		}
		clientRef = *principal.ClientRef
	}
	if clientRef <= 0 || req.CategoryRef <= 0 {
		return apperrors.NewValidationError("client_ref and category_ref required", nil)
	}

	created, err := h.ledger.Create(c.UserContext(), service.NewRequestInput{
		ClientRef:   clientRef,
		CategoryRef: req.CategoryRef,
		CreatorRef:  principal.ActorRef,
		Title:       req.Title,
		Cost:        req.Cost,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewRequestResponse(created, created.CreatedAt)})
}

// Get GET /api/v1/requests/:id.
func (h *RequestsHandler) Get(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	id, err := requestID(c)
	if err != nil {
		return err
	}
	view, err := h.ledger.View(c.UserContext(), id)
	if err != nil {
		return err
	}
	if !principal.CanView(view.Request) {
		return apperrors.NewForbidden("request belongs to another client")
	}
	return c.JSON(fiber.Map{"data": dto.NewRequestResponse(view.Request, view.ObservedAt)})
}

// Command POST /api/v1/requests/:id/:trigger.
func (h *RequestsHandler) Command(c *fiber.Ctx) error {
	trigger := domain.Trigger(strings.ToLower(c.Params("trigger")))
	if !trigger.Valid() || trigger == domain.TriggerTransfer {
		return apperrors.NewDomainError(apperrors.CodeNotFound, "unknown command", http.StatusNotFound, nil)
	}
	return h.apply(c, trigger, nil)
}

// Transfer POST /api/v1/requests/:id/transfer.
func (h *RequestsHandler) Transfer(c *fiber.Ctx) error {
	var req dto.TransferRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.AssigneeRef <= 0 {
		return apperrors.NewValidationError("assignee_ref required", nil)
	}
	return h.apply(c, domain.TriggerTransfer, &req.AssigneeRef)
}

func (h *RequestsHandler) apply(c *fiber.Ctx, trigger domain.Trigger, transferTo *int64) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	id, err := requestID(c)
	if err != nil {
		return err
	}
	key := strings.TrimSpace(c.Get(HeaderIdempotencyKey))
	if len(key) > maxIdempotencyKeyLength {
		return apperrors.NewValidationError("idempotency key too long", nil)
	}

	res, err := h.ledger.Apply(c.UserContext(), service.Command{
		RequestID:      id,
		Trigger:        trigger,
		Actor:          principal.ActorRef,
		IdempotencyKey: key,
		TransferTo:     transferTo,
		Authorize: func(current *domain.Request) error {
			return principal.Authorize(current, trigger)
		},
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewCommandResponse(res)})
}

// Events GET /api/v1/requests/:id/events?after=<sequence>.
func (h *RequestsHandler) Events(c *fiber.Ctx) error {
	principal, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthorized("authentication required")
	}
	id, err := requestID(c)
	if err != nil {
		return err
	}
	var after int64
	if raw := c.Query("after"); raw != "" {
		after, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return apperrors.NewValidationError("after must be a sequence number", nil)
		}
	}

	current, err := h.ledger.Get(c.UserContext(), id)
	if err != nil {
		return err
	}
	if !principal.CanView(current) {
		return apperrors.NewForbidden("request belongs to another client")
	}
	history, err := h.ledger.History(c.UserContext(), id, after)
	if err != nil {
		return err
	}
	if history == nil {
		history = []domain.LifecycleEvent{}
	}
	return c.JSON(fiber.Map{"data": history})
}

func requestID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.NewValidationError("invalid request id", nil)
	}
	return id, nil
}
