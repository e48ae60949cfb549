package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/request-engine/internal/clock"
	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/keylock"
	"github.com/spec-kit/request-engine/internal/observability"
	"github.com/spec-kit/request-engine/internal/repository"
)

// BillingService rolls resolved requests up into monthly billing periods.
// Each request is billed at most once; generation for one (client, month)
// never interleaves with another generation for the same key.
type BillingService struct {
	requests repository.RequestRepository
	billing  repository.BillingRepository
	locks    *keylock.Locker
	clock    clock.Clock
	location *time.Location
	workers  int
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// BillingDependencies bundles collaborators of the billing service.
type BillingDependencies struct {
	Requests repository.RequestRepository
	Billing  repository.BillingRepository
	Locks    *keylock.Locker
	Clock    clock.Clock
	Location *time.Location
	Workers  int
	Metrics  *observability.Metrics
	Logger   *zap.Logger
}

// GenerateOptions tunes Generate.
type GenerateOptions struct {
	// Regenerate returns the stored period instead of ErrAlreadyBilled when
	// nothing new is billable.
	Regenerate bool
}

// ClientOutcome is the result of one client inside a batch run.
type ClientOutcome struct {
	ClientRef int64                 `json:"client_ref" yaml:"client_ref"`
	Period    *domain.BillingPeriod `json:"-" yaml:"-"`
	LineItems int                   `json:"line_items" yaml:"line_items"`
	Total     int64                 `json:"total" yaml:"total"`
	Err       error                 `json:"-" yaml:"-"`
	Error     string                `json:"error,omitempty" yaml:"error,omitempty"`
}

// BatchReport lists per-client outcomes of GenerateAll.
type BatchReport struct {
	Period   string          `json:"period" yaml:"period"`
	Outcomes []ClientOutcome `json:"outcomes" yaml:"outcomes"`
}

// Succeeded counts clients billed without error.
func (r *BatchReport) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the outcomes that carry an error.
func (r *BatchReport) Failed() []ClientOutcome {
	var out []ClientOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// ClientSummary is the read-only projection of one billing period.
type ClientSummary struct {
	ClientRef  int64                  `json:"client_ref" yaml:"client_ref"`
	PeriodID   string                 `json:"period_id" yaml:"period_id"`
	Status     domain.PeriodStatus    `json:"status" yaml:"status"`
	LineItems  int                    `json:"line_items" yaml:"line_items"`
	Categories []domain.CategoryTotal `json:"categories" yaml:"categories"`
	Total      int64                  `json:"total" yaml:"total"`
}

// Summary aggregates one or every client of a month.
type Summary struct {
	Period     string          `json:"period" yaml:"period"`
	Clients    []ClientSummary `json:"clients" yaml:"clients"`
	GrandTotal int64           `json:"grand_total" yaml:"grand_total"`
}

// NewBillingService constructs the service.
func NewBillingService(deps BillingDependencies) *BillingService {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Workers <= 0 {
		deps.Workers = 4
	}
	if deps.Locks == nil {
		deps.Locks = keylock.New(0)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &BillingService{
		requests: deps.Requests,
		billing:  deps.Billing,
		locks:    deps.Locks,
		clock:    deps.Clock,
		location: deps.Location,
		workers:  deps.Workers,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
}

// Generate bills every unbilled resolved request of client closed in the month.
func (b *BillingService) Generate(ctx context.Context, clientRef int64, year, month int, opts GenerateOptions) (*domain.BillingPeriod, error) {
	m, err := domain.NewMonth(year, month)
	if err != nil {
		return nil, err
	}
	if clientRef <= 0 {
		return nil, domain.ValidationError("client is required")
	}

	release, err := b.locks.Acquire(ctx, billingKey(clientRef, m))
	if err != nil {
		if errors.Is(err, keylock.ErrTimeout) {
			return nil, fmt.Errorf("billing %d/%s: %w", clientRef, m, domain.ErrBusy)
		}
		return nil, err
	}
	defer release()

	period, items, err := b.generateLocked(ctx, clientRef, m, opts)
	outcome := "generated"
	switch {
	case err != nil:
		outcome = billingOutcome(err)
	case len(items) == 0:
		outcome = "unchanged"
	}
	b.metrics.BillingGenerated(outcome, len(items))
	if err != nil {
		b.logger.Info("billing skipped",
			zap.Int64("client_ref", clientRef),
			zap.String("period", m.String()),
			zap.String("outcome", outcome),
			zap.Error(err))
		return nil, err
	}
	b.logger.Info("billing period generated",
		zap.Int64("client_ref", clientRef),
		zap.String("period", m.String()),
		zap.String("period_id", period.ID),
		zap.Int("new_line_items", len(items)),
		zap.Int64("total", period.Total()))
	return period, nil
}

func (b *BillingService) generateLocked(ctx context.Context, clientRef int64, m domain.Month, opts GenerateOptions) (*domain.BillingPeriod, []domain.LineItem, error) {
	from, to := m.Bounds(b.location)
	resolved, err := b.requests.ListResolved(ctx, clientRef, from, to)
	if err != nil {
		return nil, nil, err
	}
	if len(resolved) == 0 {
		return nil, nil, fmt.Errorf("client %d in %s: %w", clientRef, m, domain.ErrNoEligibleRequests)
	}

	var items []domain.LineItem
	for i := range resolved {
		if !resolved[i].Billed() {
			items = append(items, domain.NewLineItem(&resolved[i]))
		}
	}

	existing, err := b.billing.GetPeriod(ctx, clientRef, m)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, nil, err
	}

	if len(items) == 0 {
		if opts.Regenerate && existing != nil {
			return existing, nil, nil
		}
		return nil, nil, fmt.Errorf("client %d in %s: %w", clientRef, m, domain.ErrAlreadyBilled)
	}

	now := b.clock.Now()
	period := existing
	if period == nil {
		period = &domain.BillingPeriod{
			ID:        uuid.NewString(),
			ClientRef: clientRef,
			Period:    m,
			Status:    domain.PeriodStatusOpen,
			CreatedAt: now,
		}
	} else if period.Status != domain.PeriodStatusOpen {
		return nil, nil, fmt.Errorf("period %s of client %d is %s: %w", m, clientRef, period.Status, domain.ErrPeriodClosed)
	}
	period.UpdatedAt = now

	if err := b.billing.SavePeriod(ctx, period, items); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, nil, fmt.Errorf("client %d in %s billed concurrently: %w", clientRef, m, domain.ErrAlreadyBilled)
		}
		return nil, nil, err
	}

	stored, err := b.billing.GetPeriod(ctx, clientRef, m)
	if err != nil {
		return nil, nil, err
	}
	return stored, items, nil
}

// GenerateAll runs Generate for every client with unbilled requests in the
// month on a bounded worker pool. A failing client never stops the others.
func (b *BillingService) GenerateAll(ctx context.Context, year, month int, opts GenerateOptions) (*BatchReport, error) {
	m, err := domain.NewMonth(year, month)
	if err != nil {
		return nil, err
	}
	from, to := m.Bounds(b.location)
	clients, err := b.requests.ListUnbilledClients(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if opts.Regenerate {
		periods, err := b.billing.ListPeriods(ctx, m)
		if err != nil {
			return nil, err
		}
		clients = mergeClients(clients, periods)
	}

	var (
		mu       sync.Mutex
		outcomes = make([]ClientOutcome, 0, len(clients))
		g        errgroup.Group
	)
	g.SetLimit(b.workers)
	for _, clientRef := range clients {
		g.Go(func() error {
			outcome := ClientOutcome{ClientRef: clientRef}
			period, err := b.Generate(ctx, clientRef, year, month, opts)
			if err != nil {
				outcome.Err = err
				outcome.Error = err.Error()
			} else {
				outcome.Period = period
				outcome.LineItems = len(period.LineItems)
				outcome.Total = period.Total()
			}
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(outcomes, func(i, j int) bool { return outcomes[i].ClientRef < outcomes[j].ClientRef })
	report := &BatchReport{Period: m.String(), Outcomes: outcomes}
	b.logger.Info("billing batch finished",
		zap.String("period", m.String()),
		zap.Int("clients", len(clients)),
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", len(report.Failed())))
	return report, nil
}

// Summary projects stored periods of the month, for one client or all of them.
func (b *BillingService) Summary(ctx context.Context, clientRef *int64, year, month int) (*Summary, error) {
	m, err := domain.NewMonth(year, month)
	if err != nil {
		return nil, err
	}

	var periods []domain.BillingPeriod
	if clientRef != nil {
		period, err := b.billing.GetPeriod(ctx, *clientRef, m)
		if err != nil {
			return nil, err
		}
		periods = []domain.BillingPeriod{*period}
	} else {
		if periods, err = b.billing.ListPeriods(ctx, m); err != nil {
			return nil, err
		}
	}

	summary := &Summary{Period: m.String(), Clients: make([]ClientSummary, 0, len(periods))}
	for i := range periods {
		p := &periods[i]
		cs := ClientSummary{
			ClientRef:  p.ClientRef,
			PeriodID:   p.ID,
			Status:     p.Status,
			LineItems:  len(p.LineItems),
			Categories: p.ByCategory(),
			Total:      p.Total(),
		}
		summary.Clients = append(summary.Clients, cs)
		summary.GrandTotal += cs.Total
	}
	return summary, nil
}

// Close stops a period from accepting new line items.
func (b *BillingService) Close(ctx context.Context, clientRef int64, year, month int) (*domain.BillingPeriod, error) {
	return b.advance(ctx, clientRef, year, month, domain.PeriodStatusOpen, domain.PeriodStatusClosed)
}

// MarkInvoiced records that a closed period was invoiced.
func (b *BillingService) MarkInvoiced(ctx context.Context, clientRef int64, year, month int) (*domain.BillingPeriod, error) {
	return b.advance(ctx, clientRef, year, month, domain.PeriodStatusClosed, domain.PeriodStatusInvoiced)
}

func (b *BillingService) advance(ctx context.Context, clientRef int64, year, month int, from, to domain.PeriodStatus) (*domain.BillingPeriod, error) {
	m, err := domain.NewMonth(year, month)
	if err != nil {
		return nil, err
	}
	release, err := b.locks.Acquire(ctx, billingKey(clientRef, m))
	if err != nil {
		if errors.Is(err, keylock.ErrTimeout) {
			return nil, fmt.Errorf("billing %d/%s: %w", clientRef, m, domain.ErrBusy)
		}
		return nil, err
	}
	defer release()

	err = b.billing.AdvanceStatus(ctx, clientRef, m, from, to, b.clock.Now())
	if errors.Is(err, repository.ErrConflict) {
		current, getErr := b.billing.GetPeriod(ctx, clientRef, m)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: period %s of client %d is %s, cannot move to %s",
			domain.ErrInvalidTransition, m, clientRef, current.Status, to)
	}
	if err != nil {
		return nil, err
	}
	b.logger.Info("billing period status changed",
		zap.Int64("client_ref", clientRef),
		zap.String("period", m.String()),
		zap.String("status", string(to)))
	return b.billing.GetPeriod(ctx, clientRef, m)
}

func billingKey(clientRef int64, m domain.Month) string {
	return fmt.Sprintf("billing:%d:%s", clientRef, m)
}

func billingOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoEligibleRequests):
		return "no_eligible"
	case errors.Is(err, domain.ErrAlreadyBilled):
		return "already_billed"
	case errors.Is(err, domain.ErrPeriodClosed):
		return "period_closed"
	default:
		return "error"
	}
}

func mergeClients(clients []int64, periods []domain.BillingPeriod) []int64 {
	seen := make(map[int64]struct{}, len(clients))
	for _, c := range clients {
		seen[c] = struct{}{}
	}
	for _, p := range periods {
		if _, ok := seen[p.ClientRef]; !ok {
			seen[p.ClientRef] = struct{}{}
			clients = append(clients, p.ClientRef)
		}
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i] < clients[j] })
	return clients
}
