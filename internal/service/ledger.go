package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/clock"
	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/events"
	"github.com/spec-kit/request-engine/internal/keylock"
	"github.com/spec-kit/request-engine/internal/observability"
	"github.com/spec-kit/request-engine/internal/repository"
)

const maxTitleLength = 200

// Ledger is the single writer of request state. Every trigger for one request
// runs under that request's lock, commits the new snapshot together with its
// lifecycle event and publishes the event before returning.
type Ledger struct {
	requests    repository.RequestRepository
	categories  repository.CategoryRepository
	idempotency repository.IdempotencyStore
	bus         *events.Bus
	locks       *keylock.Locker
	clock       clock.Clock
	metrics     *observability.Metrics
	logger      *zap.Logger
}

// LedgerDependencies bundles collaborators of the ledger.
type LedgerDependencies struct {
	Requests    repository.RequestRepository
	Categories  repository.CategoryRepository
	Idempotency repository.IdempotencyStore
	Bus         *events.Bus
	Locks       *keylock.Locker
	Clock       clock.Clock
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// NewRequestInput describes a request to open.
type NewRequestInput struct {
	ClientRef   int64
	CategoryRef int64
	CreatorRef  int64
	Title       string
	// Cost is required for variable categories and must match the price otherwise.
	Cost *int64
}

// Command asks the ledger to apply one trigger.
type Command struct {
	RequestID      int64
	Trigger        domain.Trigger
	Actor          int64
	At             time.Time
	IdempotencyKey string
	TransferTo     *int64
	// Authorize, when set, vets the caller against the snapshot read under
	// the request lock. Its error is returned unchanged.
	Authorize func(current *domain.Request) error
}

// Result is the outcome of an applied command. Replayed is set when the
// result was served from an earlier call with the same idempotency key.
type Result struct {
	Request  *domain.Request
	Event    domain.LifecycleEvent
	Replayed bool
}

// RequestView is a request snapshot with its live elapsed time.
type RequestView struct {
	Request        *domain.Request
	ElapsedSeconds int64
	DisplayStatus  string
	ObservedAt     time.Time
}

// NewLedger constructs the ledger.
func NewLedger(deps LedgerDependencies) *Ledger {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Locks == nil {
		deps.Locks = keylock.New(2 * time.Second)
	}
	if deps.Idempotency == nil {
		deps.Idempotency = repository.NewMemoryIdempotency(deps.Clock, 24*time.Hour)
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus(events.Options{Clock: deps.Clock, Logger: deps.Logger, Metrics: deps.Metrics})
	}
	return &Ledger{
		requests:    deps.Requests,
		categories:  deps.Categories,
		idempotency: deps.Idempotency,
		bus:         deps.Bus,
		locks:       deps.Locks,
		clock:       deps.Clock,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
	}
}

// Create opens a PENDING request with its cost fixed from the category.
func (l *Ledger) Create(ctx context.Context, input NewRequestInput) (*domain.Request, error) {
	if input.ClientRef <= 0 || input.CreatorRef <= 0 || input.CategoryRef <= 0 {
		return nil, domain.ValidationError("client, creator and category are required")
	}
	title := strings.TrimSpace(input.Title)
	if len(title) > maxTitleLength {
		return nil, domain.ValidationError("title exceeds %d characters", maxTitleLength)
	}

	category, err := l.categories.Get(ctx, input.CategoryRef)
	if err != nil {
		return nil, err
	}
	cost, err := category.ResolveCost(input.Cost)
	if err != nil {
		return nil, err
	}

	req := &domain.Request{
		ClientRef:   input.ClientRef,
		CategoryRef: category.ID,
		CreatorRef:  input.CreatorRef,
		Title:       title,
		Status:      domain.RequestStatusPending,
		Cost:        cost,
		CreatedAt:   l.clock.Now(),
	}
	if err := l.requests.Create(ctx, req); err != nil {
		return nil, err
	}
	l.logger.Info("request created",
		zap.Int64("request_id", req.ID),
		zap.Int64("client_ref", req.ClientRef),
		zap.Int64("category_ref", req.CategoryRef),
		zap.Int64("cost", req.Cost))
	return req, nil
}

// Apply runs one trigger against a request.
func (l *Ledger) Apply(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.RequestID <= 0 {
		return nil, domain.ValidationError("request id is required")
	}
	if !cmd.Trigger.Valid() {
		return nil, domain.ValidationError("unknown trigger %q", cmd.Trigger)
	}
	if cmd.Actor <= 0 {
		return nil, domain.ValidationError("actor is required")
	}

	waitStart := time.Now()
	release, err := l.locks.Acquire(ctx, lockKey(cmd.RequestID))
	l.metrics.ObserveLockWait(time.Since(waitStart))
	if err != nil {
		if errors.Is(err, keylock.ErrTimeout) {
			l.metrics.TransitionApplied(string(cmd.Trigger), "busy")
			return nil, fmt.Errorf("request %d: %w", cmd.RequestID, domain.ErrBusy)
		}
		return nil, err
	}
	defer release()

	if cmd.IdempotencyKey != "" {
		res, err := l.replay(ctx, cmd)
		if err != nil || res != nil {
			return res, err
		}
	}

	current, err := l.requests.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if err := l.authorize(cmd, current); err != nil {
		return nil, err
	}

	at := cmd.At
	if at.IsZero() {
		at = l.clock.Now()
	}
	next, err := domain.Transition(current, domain.TransitionInput{
		Trigger:    cmd.Trigger,
		Actor:      cmd.Actor,
		At:         at,
		TransferTo: cmd.TransferTo,
	})
	if err != nil {
		l.metrics.TransitionApplied(string(cmd.Trigger), "rejected")
		l.logger.Debug("trigger rejected",
			zap.Int64("request_id", cmd.RequestID),
			zap.String("trigger", string(cmd.Trigger)),
			zap.Error(err))
		return nil, err
	}
	next.Sequence = current.Sequence + 1
	event := domain.NewLifecycleEvent(uuid.NewString(), current, next, cmd.Trigger, cmd.Actor, at)

	if err := l.requests.Commit(ctx, next, event, current.Sequence); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			l.metrics.TransitionApplied(string(cmd.Trigger), "busy")
			return nil, fmt.Errorf("request %d changed concurrently: %w", cmd.RequestID, domain.ErrBusy)
		}
		return nil, fmt.Errorf("commit request %d: %w", cmd.RequestID, err)
	}

	position := l.bus.Publish(event)

	if cmd.IdempotencyKey != "" {
		if err := l.idempotency.Remember(ctx, cmd.RequestID, cmd.IdempotencyKey, event); err != nil {
			l.logger.Warn("idempotency key not stored",
				zap.Int64("request_id", cmd.RequestID),
				zap.String("idempotency_key", cmd.IdempotencyKey),
				zap.Error(err))
		}
	}

	l.metrics.TransitionApplied(string(cmd.Trigger), "applied")
	l.logger.Info("trigger applied",
		zap.Int64("request_id", cmd.RequestID),
		zap.String("trigger", string(cmd.Trigger)),
		zap.String("from", string(event.From)),
		zap.String("to", string(event.To)),
		zap.Int64("sequence", event.Sequence),
		zap.Uint64("position", uint64(position)))

	return &Result{Request: next, Event: event}, nil
}

// replay returns the remembered outcome of cmd's idempotency key, or nil.
func (l *Ledger) replay(ctx context.Context, cmd Command) (*Result, error) {
	prior, err := l.idempotency.Lookup(ctx, cmd.RequestID, cmd.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup for request %d: %w", cmd.RequestID, err)
	}
	if prior == nil {
		return nil, nil
	}
	if prior.Trigger != cmd.Trigger {
		return nil, domain.ValidationError("idempotency key %q was used for %s", cmd.IdempotencyKey, prior.Trigger)
	}
	current, err := l.requests.Get(ctx, cmd.RequestID)
	if err != nil {
		return nil, err
	}
	if err := l.authorize(cmd, current); err != nil {
		return nil, err
	}
	l.metrics.TransitionApplied(string(cmd.Trigger), "replayed")
	return &Result{Request: current, Event: *prior, Replayed: true}, nil
}

func (l *Ledger) authorize(cmd Command, current *domain.Request) error {
	if cmd.Authorize == nil {
		return nil
	}
	if err := cmd.Authorize(current); err != nil {
		l.metrics.TransitionApplied(string(cmd.Trigger), "forbidden")
		return err
	}
	return nil
}

// Get returns the stored snapshot of a request.
func (l *Ledger) Get(ctx context.Context, id int64) (*domain.Request, error) {
	return l.requests.Get(ctx, id)
}

// View returns the snapshot together with the elapsed time at the current clock.
func (l *Ledger) View(ctx context.Context, id int64) (*RequestView, error) {
	req, err := l.requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := l.clock.Now()
	return &RequestView{
		Request:        req,
		ElapsedSeconds: req.Time.Snapshot(now),
		DisplayStatus:  req.DisplayStatus(),
		ObservedAt:     now,
	}, nil
}

// History returns the durable events of a request with sequence > after.
func (l *Ledger) History(ctx context.Context, id, after int64) ([]domain.LifecycleEvent, error) {
	if after < 0 {
		return nil, domain.ValidationError("after must not be negative")
	}
	return l.requests.ListEvents(ctx, id, after)
}

func lockKey(requestID int64) string {
	return fmt.Sprintf("request:%d", requestID)
}
