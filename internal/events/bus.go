package events

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nuid"
	"go.uber.org/zap"

	"github.com/spec-kit/request-engine/internal/clock"
	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/observability"
)

var (
	// ErrSubscriberLagged is returned to a subscriber that fell too far behind.
	// It must rebuild its view from a snapshot before subscribing again.
	ErrSubscriberLagged = errors.New("events: subscriber lagged and was dropped")
	// ErrResyncRequired means the resume position is no longer retained.
	ErrResyncRequired = errors.New("events: resume position not retained, resync from snapshot")
	// ErrSubscriptionClosed is returned after the subscriber cancelled.
	ErrSubscriptionClosed = errors.New("events: subscription closed")
	// ErrBusClosed is returned once the bus has shut down.
	ErrBusClosed = errors.New("events: bus closed")
)

const (
	defaultSubscriberBuffer = 256
	defaultRetentionEvents  = 10000
	defaultRetentionWindow  = 15 * time.Minute
)

// Position is the bus-wide log offset of a published event. Positions start
// at 1; a Position doubles as the resume token of a subscription.
type Position uint64

// Envelope wraps a lifecycle event with its log position.
type Envelope struct {
	Position    Position              `json:"position"`
	PublishedAt time.Time             `json:"published_at"`
	Event       domain.LifecycleEvent `json:"event"`
}

// Options tunes buffering and retention.
type Options struct {
	SubscriberBuffer int
	RetentionEvents  int
	RetentionWindow  time.Duration
	Clock            clock.Clock
	Logger           *zap.Logger
	Metrics          *observability.Metrics
}

// Bus fans lifecycle events out to live subscribers. Publish never blocks on
// a consumer: each subscriber owns a bounded queue and is dropped when it
// overflows.
type Bus struct {
	opts Options

	mu     sync.Mutex
	log    []Envelope
	head   Position
	subs   map[string]*Subscription
	closed bool
}

// NewBus constructs an event bus.
func NewBus(opts Options) *Bus {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = defaultSubscriberBuffer
	}
	if opts.RetentionEvents <= 0 {
		opts.RetentionEvents = defaultRetentionEvents
	}
	if opts.RetentionWindow <= 0 {
		opts.RetentionWindow = defaultRetentionWindow
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Bus{
		opts: opts,
		subs: make(map[string]*Subscription),
	}
}

// Publish appends event to the log and enqueues it for every matching
// subscriber. It returns the assigned position, or 0 once the bus is closed.
func (b *Bus) Publish(event domain.LifecycleEvent) Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}

	b.head++
	env := Envelope{Position: b.head, PublishedAt: b.opts.Clock.Now(), Event: event}
	b.log = append(b.log, env)
	b.trimLocked(env.PublishedAt)
	b.opts.Metrics.EventPublished()

	for id, sub := range b.subs {
		if !sub.filter.Match(event) {
			continue
		}
		if sub.push(env) {
			continue
		}
		delete(b.subs, id)
		sub.finish(ErrSubscriberLagged)
		b.opts.Metrics.SubscriberDropped()
		b.opts.Logger.Warn("dropping lagging subscriber",
			zap.String("subscription_id", id),
			zap.Uint64("position", uint64(env.Position)),
			zap.Int("buffer", b.opts.SubscriberBuffer))
	}
	b.opts.Metrics.SetSubscribers(len(b.subs))
	return env.Position
}

// Subscribe registers a subscriber for filter. With resume > 0 every retained
// matching event after resume is replayed before live delivery starts; with
// resume == 0 only events published after the call are delivered.
func (b *Bus) Subscribe(filter Filter, resume Position) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}

	sub := &Subscription{
		id:       nuid.Next(),
		bus:      b,
		filter:   filter,
		capacity: b.opts.SubscriberBuffer,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		last:     resume,
	}

	if resume > 0 {
		if !b.retainedLocked(resume) {
			return nil, ErrResyncRequired
		}
		for _, env := range b.log {
			if env.Position <= resume || !filter.Match(env.Event) {
				continue
			}
			if !sub.push(env) {
				return nil, ErrResyncRequired
			}
		}
	}

	b.subs[sub.id] = sub
	b.opts.Metrics.SetSubscribers(len(b.subs))
	return sub, nil
}

// Head returns the position of the most recently published event.
func (b *Bus) Head() Position {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.head
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close terminates every subscription. Later publishes are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		sub.finish(ErrBusClosed)
	}
	b.log = nil
	b.opts.Metrics.SetSubscribers(0)
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
	b.opts.Metrics.SetSubscribers(len(b.subs))
}

// retainedLocked reports whether every event after resume is still in the log.
func (b *Bus) retainedLocked(resume Position) bool {
	if resume > b.head {
		return false
	}
	if resume == b.head {
		return true
	}
	return len(b.log) > 0 && b.log[0].Position <= resume+1
}

func (b *Bus) trimLocked(now time.Time) {
	drop := 0
	if over := len(b.log) - b.opts.RetentionEvents; over > 0 {
		drop = over
	}
	cutoff := now.Add(-b.opts.RetentionWindow)
	for drop < len(b.log)-1 && b.log[drop].PublishedAt.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		b.log = append([]Envelope(nil), b.log[drop:]...)
	}
}

// Subscription is an ordered, cancellable stream of envelopes.
type Subscription struct {
	id       string
	bus      *Bus
	filter   Filter
	capacity int
	notify   chan struct{}
	done     chan struct{}
	once     sync.Once

	mu    sync.Mutex
	queue []Envelope
	err   error
	last  Position
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Position returns the position of the last delivered envelope; pass it to
// Subscribe to resume after a reconnect.
func (s *Subscription) Position() Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Next blocks until an envelope is available, the subscription ends or ctx
// is done.
func (s *Subscription) Next(ctx context.Context) (Envelope, error) {
	for {
		s.mu.Lock()
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return Envelope{}, err
		}
		if len(s.queue) > 0 {
			env := s.queue[0]
			s.queue = s.queue[1:]
			s.last = env.Position
			s.mu.Unlock()
			return env, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Envelope{}, ctx.Err()
		case <-s.notify:
		case <-s.done:
		}
	}
}

// Err returns the terminal error of the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the subscription. Pending envelopes are discarded.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
	s.finish(ErrSubscriptionClosed)
}

func (s *Subscription) push(env Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return true
	}
	if len(s.queue) >= s.capacity {
		return false
	}
	s.queue = append(s.queue, env)
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}
