//go:build integration

package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/persistence"
	"github.com/spec-kit/request-engine/internal/testutil/containers"
)

type PostgresSuite struct {
	suite.Suite
	pg         *containers.PostgresContainer
	requests   RequestRepository
	categories CategoryRepository
	billing    BillingRepository
	ctx        context.Context
	category   domain.Category
	base       time.Time
}

func TestPostgresSuite(t *testing.T) {
	suite.Run(t, new(PostgresSuite))
}

func (s *PostgresSuite) SetupSuite() {
	s.ctx = context.Background()
	s.pg = containers.NewPostgresContainer(s.T())
	s.Require().NoError(persistence.RunMigrations(s.ctx, s.pg.Pool, "../../migrations", zap.NewNop()))
	s.requests = NewRequestRepository(s.pg.Pool)
	s.categories = NewCategoryRepository(s.pg.Pool)
	s.billing = NewBillingRepository(s.pg.Pool)
	s.base = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	s.category = domain.Category{Name: "Repair", Price: 5000}
	s.Require().NoError(s.categories.Upsert(s.ctx, &s.category))
}

func (s *PostgresSuite) SetupTest() {
	_, err := s.pg.Pool.Exec(s.ctx, `TRUNCATE billing_line_items, request_events, requests, billing_periods CASCADE`)
	s.Require().NoError(err)
}

func (s *PostgresSuite) create(client int64) *domain.Request {
	req := &domain.Request{
		ClientRef:   client,
		CategoryRef: s.category.ID,
		CreatorRef:  client,
		Title:       "leaking sink",
		Status:      domain.RequestStatusPending,
		Cost:        s.category.Price,
		CreatedAt:   s.base,
	}
	s.Require().NoError(s.requests.Create(s.ctx, req))
	return req
}

func (s *PostgresSuite) apply(req *domain.Request, trigger domain.Trigger, at time.Time) *domain.Request {
	next, err := domain.Transition(req, domain.TransitionInput{Trigger: trigger, Actor: 42, At: at})
	s.Require().NoError(err)
	next.Sequence = req.Sequence + 1
	event := domain.NewLifecycleEvent(uuid.NewString(), req, next, trigger, 42, at)
	s.Require().NoError(s.requests.Commit(s.ctx, next, event, req.Sequence))
	return next
}

func (s *PostgresSuite) TestCommitRoundTrip() {
	req := s.create(1)
	req = s.apply(req, domain.TriggerAccept, s.base)
	req = s.apply(req, domain.TriggerPause, s.base.Add(90*time.Second))

	got, err := s.requests.Get(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(domain.RequestStatusInProgress, got.Status)
	s.Equal(int64(90), got.Time.AccumulatedSeconds)
	s.Nil(got.Time.RunningSince)
	s.Equal(int64(2), got.Sequence)
	s.Equal(domain.DisplayStatusPaused, got.DisplayStatus())

	events, err := s.requests.ListEvents(s.ctx, req.ID, 0)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal(domain.TriggerAccept, events[0].Trigger)
	s.Equal(int64(90), events[1].ElapsedSeconds)
}

func (s *PostgresSuite) TestCommitCompareAndSet() {
	req := s.create(1)
	next, err := domain.Transition(req, domain.TransitionInput{Trigger: domain.TriggerAccept, Actor: 42, At: s.base})
	s.Require().NoError(err)
	next.Sequence = 1

	var wg sync.WaitGroup
	results := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			event := domain.NewLifecycleEvent(uuid.NewString(), req, next, domain.TriggerAccept, 42, s.base)
			results[i] = s.requests.Commit(s.ctx, next, event, 0)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range results {
		switch err {
		case nil:
			ok++
		case ErrConflict:
			conflicts++
		}
	}
	s.Equal(1, ok)
	s.Equal(3, conflicts)

	events, err := s.requests.ListEvents(s.ctx, req.ID, 0)
	s.Require().NoError(err)
	s.Len(events, 1)
}

func (s *PostgresSuite) TestBillingMarksOnce() {
	month := domain.Month{Year: 2024, Month: time.March}
	from, to := month.Bounds(time.UTC)
	req := s.create(7)
	req = s.apply(req, domain.TriggerAccept, s.base)
	req = s.apply(req, domain.TriggerResolve, s.base.Add(time.Hour))

	resolved, err := s.requests.ListResolved(s.ctx, 7, from, to)
	s.Require().NoError(err)
	s.Require().Len(resolved, 1)

	clients, err := s.requests.ListUnbilledClients(s.ctx, from, to)
	s.Require().NoError(err)
	s.Equal([]int64{7}, clients)

	period := &domain.BillingPeriod{
		ID: uuid.NewString(), ClientRef: 7, Period: month, Status: domain.PeriodStatusOpen,
		CreatedAt: s.base, UpdatedAt: s.base,
	}
	items := []domain.LineItem{domain.NewLineItem(&resolved[0])}
	s.Require().NoError(s.billing.SavePeriod(s.ctx, period, items))
	s.ErrorIs(s.billing.SavePeriod(s.ctx, period, items), ErrConflict)

	stored, err := s.billing.GetPeriod(s.ctx, 7, month)
	s.Require().NoError(err)
	s.Len(stored.LineItems, 1)
	s.Equal(int64(5000), stored.Total())

	clients, err = s.requests.ListUnbilledClients(s.ctx, from, to)
	s.Require().NoError(err)
	s.Empty(clients)

	s.Require().NoError(s.billing.AdvanceStatus(s.ctx, 7, month, domain.PeriodStatusOpen, domain.PeriodStatusClosed, s.base))
	s.ErrorIs(s.billing.SavePeriod(s.ctx, period, nil), domain.ErrPeriodClosed)
	s.ErrorIs(s.billing.AdvanceStatus(s.ctx, 7, month, domain.PeriodStatusOpen, domain.PeriodStatusClosed, s.base), ErrConflict)
}
