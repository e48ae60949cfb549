package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/request-engine/internal/api/dto"
	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/service"
	apperrors "github.com/spec-kit/request-engine/pkg/errorutil"
)

// BillingHandler exposes monthly billing endpoints to administrators.
type BillingHandler struct {
	service *service.BillingService
}

// NewBillingHandler constructs handler.
func NewBillingHandler(billing *service.BillingService) *BillingHandler {
	return &BillingHandler{service: billing}
}

// Generate POST /api/v1/billing/generate.
func (h *BillingHandler) Generate(c *fiber.Ctx) error {
	var req dto.GenerateBillingRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.ClientRef <= 0 {
		return apperrors.NewValidationError("client_ref required", nil)
	}
	period, err := h.service.Generate(c.UserContext(), req.ClientRef, req.Year, req.Month, service.GenerateOptions{Regenerate: req.Regenerate})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewBillingPeriodResponse(period)})
}

// GenerateAll POST /api/v1/billing/generate-all. Per-client failures are
// reported in the body; the call itself succeeds.
func (h *BillingHandler) GenerateAll(c *fiber.Ctx) error {
	var req dto.GenerateBillingRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	report, err := h.service.GenerateAll(c.UserContext(), req.Year, req.Month, service.GenerateOptions{Regenerate: req.Regenerate})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}

// Summary GET /api/v1/billing/summary?year=&month=&client_ref=.
func (h *BillingHandler) Summary(c *fiber.Ctx) error {
	year := c.QueryInt("year")
	month := c.QueryInt("month")
	var client *int64
	if raw := c.Query("client_ref"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return apperrors.NewValidationError("invalid client_ref", nil)
		}
		client = &id
	}
	summary, err := h.service.Summary(c.UserContext(), client, year, month)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": summary})
}

// Close POST /api/v1/billing/periods/close.
func (h *BillingHandler) Close(c *fiber.Ctx) error {
	return h.advance(c, h.service.Close)
}

// Invoice POST /api/v1/billing/periods/invoice.
func (h *BillingHandler) Invoice(c *fiber.Ctx) error {
	return h.advance(c, h.service.MarkInvoiced)
}

type periodAction func(ctx context.Context, clientRef int64, year, month int) (*domain.BillingPeriod, error)

func (h *BillingHandler) advance(c *fiber.Ctx, action periodAction) error {
	var req dto.PeriodRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.ClientRef <= 0 {
		return apperrors.NewValidationError("client_ref required", nil)
	}
	period, err := action(c.UserContext(), req.ClientRef, req.Year, req.Month)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewBillingPeriodResponse(period)})
}
