package repository

import (
	"context"
	"errors"
	"time"

	"github.com/spec-kit/request-engine/internal/domain"
)

// ErrConflict reports that a guarded write lost against a concurrent writer.
// Nothing was persisted when it is returned.
var ErrConflict = errors.New("concurrent write conflict")

// RequestRepository persists request snapshots and their lifecycle events.
type RequestRepository interface {
	Create(ctx context.Context, req *domain.Request) error
	Get(ctx context.Context, id int64) (*domain.Request, error)
	// Commit stores req and appends event in one transaction, provided the
	// stored sequence still equals prevSequence.
	Commit(ctx context.Context, req *domain.Request, event domain.LifecycleEvent, prevSequence int64) error
	ListEvents(ctx context.Context, requestID, afterSequence int64) ([]domain.LifecycleEvent, error)
	// ListResolved returns resolved requests of a client closed in [from, to),
	// billed or not, ordered by close time then id.
	ListResolved(ctx context.Context, clientRef int64, from, to time.Time) ([]domain.Request, error)
	// ListUnbilledClients returns clients having unbilled resolved requests in [from, to).
	ListUnbilledClients(ctx context.Context, from, to time.Time) ([]int64, error)
}

// CategoryRepository reads the externally owned category catalogue.
type CategoryRepository interface {
	Get(ctx context.Context, id int64) (*domain.Category, error)
	Upsert(ctx context.Context, category *domain.Category) error
}

// BillingRepository persists billing periods and the billed marker.
type BillingRepository interface {
	GetPeriod(ctx context.Context, clientRef int64, month domain.Month) (*domain.BillingPeriod, error)
	// SavePeriod creates the period when missing and appends items, marking
	// every item's request billed. A request already marked aborts the write
	// with ErrConflict; a period that is no longer open aborts it with
	// domain.ErrPeriodClosed.
	SavePeriod(ctx context.Context, period *domain.BillingPeriod, items []domain.LineItem) error
	AdvanceStatus(ctx context.Context, clientRef int64, month domain.Month, from, to domain.PeriodStatus, at time.Time) error
	ListPeriods(ctx context.Context, month domain.Month) ([]domain.BillingPeriod, error)
}

// IdempotencyStore remembers the event produced for a caller-supplied key.
type IdempotencyStore interface {
	Lookup(ctx context.Context, requestID int64, key string) (*domain.LifecycleEvent, error)
	Remember(ctx context.Context, requestID int64, key string, event domain.LifecycleEvent) error
}
