package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/spec-kit/request-engine/internal/domain"
)

type MemoryStoreSuite struct {
	suite.Suite
	store    *MemoryStore
	ctx      context.Context
	category domain.Category
	base     time.Time
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.ctx = context.Background()
	s.base = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	s.category = domain.Category{Name: "Repair", Price: 5000}
	s.Require().NoError(s.store.Categories().Upsert(s.ctx, &s.category))
}

func (s *MemoryStoreSuite) newRequest(client int64) *domain.Request {
	req := &domain.Request{
		ClientRef:   client,
		CategoryRef: s.category.ID,
		CreatorRef:  client,
		Status:      domain.RequestStatusPending,
		Cost:        s.category.Price,
		CreatedAt:   s.base,
	}
	s.Require().NoError(s.store.Requests().Create(s.ctx, req))
	return req
}

func (s *MemoryStoreSuite) resolve(req *domain.Request, at time.Time) {
	next := req.Clone()
	next.Status = domain.RequestStatusResolved
	next.ClosedAt = &at
	next.Sequence = req.Sequence + 1
	event := domain.LifecycleEvent{ID: "ev", RequestID: req.ID, Sequence: next.Sequence, To: next.Status}
	s.Require().NoError(s.store.Requests().Commit(s.ctx, next, event, req.Sequence))
}

func (s *MemoryStoreSuite) TestCreateAssignsIDs() {
	first := s.newRequest(1)
	second := s.newRequest(1)
	s.Equal(int64(1), first.ID)
	s.Equal(int64(2), second.ID)

	s.Run("unknown category rejected", func() {
		err := s.store.Requests().Create(s.ctx, &domain.Request{CategoryRef: 99})
		s.ErrorIs(err, domain.ErrNotFound)
	})
}

func (s *MemoryStoreSuite) TestGetReturnsCopies() {
	req := s.newRequest(1)
	got, err := s.store.Requests().Get(s.ctx, req.ID)
	s.Require().NoError(err)
	got.Status = domain.RequestStatusCancelled

	again, err := s.store.Requests().Get(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(domain.RequestStatusPending, again.Status)

	_, err = s.store.Requests().Get(s.ctx, 404)
	s.ErrorIs(err, domain.ErrNotFound)
}

func (s *MemoryStoreSuite) TestCommitGuardsSequence() {
	req := s.newRequest(1)
	next := req.Clone()
	next.Status = domain.RequestStatusInProgress
	next.Sequence = 1
	event := domain.LifecycleEvent{ID: "a", RequestID: req.ID, Sequence: 1}

	s.Require().NoError(s.store.Requests().Commit(s.ctx, next, event, 0))
	s.ErrorIs(s.store.Requests().Commit(s.ctx, next, event, 0), ErrConflict)

	events, err := s.store.Requests().ListEvents(s.ctx, req.ID, 0)
	s.Require().NoError(err)
	s.Len(events, 1)

	events, err = s.store.Requests().ListEvents(s.ctx, req.ID, 1)
	s.Require().NoError(err)
	s.Empty(events)
}

func (s *MemoryStoreSuite) TestListResolvedHonoursMonthBounds() {
	month := domain.Month{Year: 2024, Month: time.March}
	from, to := month.Bounds(time.UTC)

	inside := s.newRequest(1)
	s.resolve(inside, from)
	edge := s.newRequest(1)
	s.resolve(edge, to)
	other := s.newRequest(2)
	s.resolve(other, from.Add(time.Hour))
	s.newRequest(1)

	got, err := s.store.Requests().ListResolved(s.ctx, 1, from, to)
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(inside.ID, got[0].ID)

	clients, err := s.store.Requests().ListUnbilledClients(s.ctx, from, to)
	s.Require().NoError(err)
	s.Equal([]int64{1, 2}, clients)
}

func (s *MemoryStoreSuite) TestSavePeriodMarksRequestsOnce() {
	month := domain.Month{Year: 2024, Month: time.March}
	req := s.newRequest(1)
	s.resolve(req, s.base.Add(time.Hour))
	stored, err := s.store.Requests().Get(s.ctx, req.ID)
	s.Require().NoError(err)

	period := &domain.BillingPeriod{ID: "p-1", ClientRef: 1, Period: month, Status: domain.PeriodStatusOpen}
	items := []domain.LineItem{domain.NewLineItem(stored)}
	s.Require().NoError(s.store.Billing().SavePeriod(s.ctx, period, items))

	s.Run("second write aborts", func() {
		s.ErrorIs(s.store.Billing().SavePeriod(s.ctx, period, items), ErrConflict)
		got, err := s.store.Billing().GetPeriod(s.ctx, 1, month)
		s.Require().NoError(err)
		s.Len(got.LineItems, 1)
	})

	s.Run("marker survives later commits", func() {
		got, err := s.store.Requests().Get(s.ctx, req.ID)
		s.Require().NoError(err)
		s.Require().NotNil(got.BilledPeriodID)
		s.Equal("p-1", *got.BilledPeriodID)
	})

	s.Run("foreign period id conflicts", func() {
		other := &domain.BillingPeriod{ID: "p-2", ClientRef: 1, Period: month, Status: domain.PeriodStatusOpen}
		s.ErrorIs(s.store.Billing().SavePeriod(s.ctx, other, nil), ErrConflict)
	})
}

func (s *MemoryStoreSuite) TestAdvanceStatus() {
	month := domain.Month{Year: 2024, Month: time.March}
	period := &domain.BillingPeriod{ID: "p-1", ClientRef: 1, Period: month, Status: domain.PeriodStatusOpen}
	s.Require().NoError(s.store.Billing().SavePeriod(s.ctx, period, nil))

	s.Require().NoError(s.store.Billing().AdvanceStatus(s.ctx, 1, month, domain.PeriodStatusOpen, domain.PeriodStatusClosed, s.base))
	s.ErrorIs(s.store.Billing().AdvanceStatus(s.ctx, 1, month, domain.PeriodStatusOpen, domain.PeriodStatusClosed, s.base), ErrConflict)
	s.ErrorIs(s.store.Billing().SavePeriod(s.ctx, period, nil), domain.ErrPeriodClosed)
	s.ErrorIs(s.store.Billing().AdvanceStatus(s.ctx, 9, month, domain.PeriodStatusOpen, domain.PeriodStatusClosed, s.base), domain.ErrNotFound)

	periods, err := s.store.Billing().ListPeriods(s.ctx, month)
	s.Require().NoError(err)
	s.Require().Len(periods, 1)
	s.Equal(domain.PeriodStatusClosed, periods[0].Status)
}
