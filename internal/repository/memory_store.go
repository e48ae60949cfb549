package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/request-engine/internal/clock"
	"github.com/spec-kit/request-engine/internal/domain"
)

type periodKey struct {
	client int64
	month  domain.Month
}

// MemoryStore keeps requests, categories and billing periods in process memory.
// It backs tests and single-node runs without POSTGRES_DSN. Every read returns
// copies, so callers never share state with the store.
type MemoryStore struct {
	mu             sync.Mutex
	requests       map[int64]*domain.Request
	events         map[int64][]domain.LifecycleEvent
	categories     map[int64]domain.Category
	periods        map[periodKey]*domain.BillingPeriod
	nextRequestID  int64
	nextCategoryID int64
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests:   make(map[int64]*domain.Request),
		events:     make(map[int64][]domain.LifecycleEvent),
		categories: make(map[int64]domain.Category),
		periods:    make(map[periodKey]*domain.BillingPeriod),
	}
}

// Requests exposes the store as a RequestRepository.
func (s *MemoryStore) Requests() RequestRepository { return memoryRequests{s} }

// Categories exposes the store as a CategoryRepository.
func (s *MemoryStore) Categories() CategoryRepository { return memoryCategories{s} }

// Billing exposes the store as a BillingRepository.
func (s *MemoryStore) Billing() BillingRepository { return memoryBilling{s} }

type memoryRequests struct{ s *MemoryStore }

func (r memoryRequests) Create(_ context.Context, req *domain.Request) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[req.CategoryRef]; !ok {
		return fmt.Errorf("category %d: %w", req.CategoryRef, domain.ErrNotFound)
	}
	s.nextRequestID++
	req.ID = s.nextRequestID
	s.requests[req.ID] = req.Clone()
	return nil
}

func (r memoryRequests) Get(_ context.Context, id int64) (*domain.Request, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("request %d: %w", id, domain.ErrNotFound)
	}
	return req.Clone(), nil
}

func (r memoryRequests) Commit(_ context.Context, req *domain.Request, event domain.LifecycleEvent, prevSequence int64) error {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.requests[req.ID]
	if !ok {
		return fmt.Errorf("request %d: %w", req.ID, domain.ErrNotFound)
	}
	if stored.Sequence != prevSequence {
		return ErrConflict
	}
	next := req.Clone()
	// billing owns the marker
	next.BilledPeriodID = stored.Clone().BilledPeriodID
	s.requests[req.ID] = next
	s.events[req.ID] = append(s.events[req.ID], event)
	return nil
}

func (r memoryRequests) ListEvents(_ context.Context, requestID, afterSequence int64) ([]domain.LifecycleEvent, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[requestID]; !ok {
		return nil, fmt.Errorf("request %d: %w", requestID, domain.ErrNotFound)
	}
	var out []domain.LifecycleEvent
	for _, ev := range s.events[requestID] {
		if ev.Sequence > afterSequence {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r memoryRequests) ListResolved(_ context.Context, clientRef int64, from, to time.Time) ([]domain.Request, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Request
	for _, req := range s.requests {
		if req.ClientRef == clientRef && resolvedWithin(req, from, to) {
			out = append(out, *req.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ClosedAt.Equal(*out[j].ClosedAt) {
			return out[i].ClosedAt.Before(*out[j].ClosedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memoryRequests) ListUnbilledClients(_ context.Context, from, to time.Time) ([]int64, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[int64]struct{}{}
	var out []int64
	for _, req := range s.requests {
		if !resolvedWithin(req, from, to) || req.Billed() {
			continue
		}
		if _, ok := seen[req.ClientRef]; ok {
			continue
		}
		seen[req.ClientRef] = struct{}{}
		out = append(out, req.ClientRef)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func resolvedWithin(req *domain.Request, from, to time.Time) bool {
	if req.Status != domain.RequestStatusResolved || req.ClosedAt == nil {
		return false
	}
	return !req.ClosedAt.Before(from) && req.ClosedAt.Before(to)
}

type memoryCategories struct{ s *MemoryStore }

func (c memoryCategories) Get(_ context.Context, id int64) (*domain.Category, error) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	category, ok := s.categories[id]
	if !ok {
		return nil, fmt.Errorf("category %d: %w", id, domain.ErrNotFound)
	}
	return &category, nil
}

func (c memoryCategories) Upsert(_ context.Context, category *domain.Category) error {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if category.ID == 0 {
		s.nextCategoryID++
		category.ID = s.nextCategoryID
	} else if category.ID > s.nextCategoryID {
		s.nextCategoryID = category.ID
	}
	s.categories[category.ID] = *category
	return nil
}

type memoryBilling struct{ s *MemoryStore }

func (b memoryBilling) GetPeriod(_ context.Context, clientRef int64, month domain.Month) (*domain.BillingPeriod, error) {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	period, ok := s.periods[periodKey{clientRef, month}]
	if !ok {
		return nil, fmt.Errorf("billing period %d/%s: %w", clientRef, month, domain.ErrNotFound)
	}
	return clonePeriod(period), nil
}

func (b memoryBilling) SavePeriod(_ context.Context, period *domain.BillingPeriod, items []domain.LineItem) error {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()

	key := periodKey{period.ClientRef, period.Period}
	stored, exists := s.periods[key]
	if exists && stored.ID != period.ID {
		return ErrConflict
	}
	if exists && stored.Status != domain.PeriodStatusOpen {
		return domain.ErrPeriodClosed
	}
	for _, item := range items {
		req, ok := s.requests[item.RequestID]
		if !ok {
			return fmt.Errorf("request %d: %w", item.RequestID, domain.ErrNotFound)
		}
		if req.Billed() {
			return ErrConflict
		}
	}

	next := clonePeriod(period)
	if exists {
		next = clonePeriod(stored)
		next.UpdatedAt = period.UpdatedAt
	}
	next.LineItems = append(next.LineItems, items...)
	sort.SliceStable(next.LineItems, func(i, j int) bool {
		a, b := next.LineItems[i], next.LineItems[j]
		if !a.ClosedAt.Equal(b.ClosedAt) {
			return a.ClosedAt.Before(b.ClosedAt)
		}
		return a.RequestID < b.RequestID
	})
	for _, item := range items {
		id := period.ID
		s.requests[item.RequestID].BilledPeriodID = &id
	}
	s.periods[key] = next
	return nil
}

func (b memoryBilling) AdvanceStatus(_ context.Context, clientRef int64, month domain.Month, from, to domain.PeriodStatus, at time.Time) error {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	period, ok := s.periods[periodKey{clientRef, month}]
	if !ok {
		return fmt.Errorf("billing period %d/%s: %w", clientRef, month, domain.ErrNotFound)
	}
	if period.Status != from {
		return ErrConflict
	}
	period.Status = to
	period.UpdatedAt = at
	return nil
}

func (b memoryBilling) ListPeriods(_ context.Context, month domain.Month) ([]domain.BillingPeriod, error) {
	s := b.s
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.BillingPeriod
	for key, period := range s.periods {
		if key.month == month {
			out = append(out, *clonePeriod(period))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientRef < out[j].ClientRef })
	return out, nil
}

func clonePeriod(p *domain.BillingPeriod) *domain.BillingPeriod {
	out := *p
	out.LineItems = append([]domain.LineItem(nil), p.LineItems...)
	return &out
}

type idempotencyEntry struct {
	event     domain.LifecycleEvent
	expiresAt time.Time
}

// MemoryIdempotency is the in-process IdempotencyStore used when Redis is not configured.
type MemoryIdempotency struct {
	mu      sync.Mutex
	clock   clock.Clock
	ttl     time.Duration
	entries map[string]idempotencyEntry
}

// NewMemoryIdempotency builds a store whose entries expire after ttl.
func NewMemoryIdempotency(clk clock.Clock, ttl time.Duration) *MemoryIdempotency {
	return &MemoryIdempotency{clock: clk, ttl: ttl, entries: make(map[string]idempotencyEntry)}
}

func (m *MemoryIdempotency) Lookup(_ context.Context, requestID int64, key string) (*domain.LifecycleEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := idempotencyKey(requestID, key)
	entry, ok := m.entries[k]
	if !ok {
		return nil, nil
	}
	if !m.clock.Now().Before(entry.expiresAt) {
		delete(m.entries, k)
		return nil, nil
	}
	ev := entry.event
	return &ev, nil
}

func (m *MemoryIdempotency) Remember(_ context.Context, requestID int64, key string, event domain.LifecycleEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := idempotencyKey(requestID, key)
	if entry, ok := m.entries[k]; ok && m.clock.Now().Before(entry.expiresAt) {
		return nil
	}
	m.entries[k] = idempotencyEntry{event: event, expiresAt: m.clock.Now().Add(m.ttl)}
	return nil
}

func idempotencyKey(requestID int64, key string) string {
	return fmt.Sprintf("idempotency:request:%d:%s", requestID, key)
}
