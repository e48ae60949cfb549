package dto

import (
	"time"

	"github.com/spec-kit/request-engine/internal/domain"
)

// GenerateBillingRequest payload.
type GenerateBillingRequest struct {
	ClientRef  int64 `json:"client_ref"`
	Year       int   `json:"year"`
	Month      int   `json:"month"`
	Regenerate bool  `json:"regenerate"`
}

// PeriodRequest identifies one billing period.
type PeriodRequest struct {
	ClientRef int64 `json:"client_ref"`
	Year      int   `json:"year"`
	Month     int   `json:"month"`
}

// BillingPeriodResponse renders a period for the API and the billing CLI.
type BillingPeriodResponse struct {
	ID         string                 `json:"id" yaml:"id"`
	ClientRef  int64                  `json:"client_ref" yaml:"client_ref"`
	Period     string                 `json:"period" yaml:"period"`
	Status     domain.PeriodStatus    `json:"status" yaml:"status"`
	LineItems  []domain.LineItem      `json:"line_items" yaml:"line_items"`
	Categories []domain.CategoryTotal `json:"categories" yaml:"categories"`
	Total      int64                  `json:"total" yaml:"total"`
	CreatedAt  time.Time              `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at" yaml:"updated_at"`
}

// NewBillingPeriodResponse maps a billing period.
func NewBillingPeriodResponse(p *domain.BillingPeriod) BillingPeriodResponse {
	items := p.LineItems
	if items == nil {
		items = []domain.LineItem{}
	}
	return BillingPeriodResponse{
		ID:         p.ID,
		ClientRef:  p.ClientRef,
		Period:     p.Period.String(),
		Status:     p.Status,
		LineItems:  items,
		Categories: p.ByCategory(),
		Total:      p.Total(),
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}
