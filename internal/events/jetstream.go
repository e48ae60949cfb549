package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	lifecycleStream  = "LIFECYCLE"
	lifecycleSubject = "lifecycle.event"
)

// EnsureLifecycleStream creates (or validates) the JetStream stream holding
// lifecycle events. The duplicate window backs the per-event Nats-Msg-Id
// dedup of redelivered events.
func EnsureLifecycleStream(js nats.JetStreamContext, dedupWindow time.Duration) error {
	if _, err := js.StreamInfo(lifecycleStream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, addErr := js.AddStream(&nats.StreamConfig{
			Name:       lifecycleStream,
			Subjects:   []string{lifecycleSubject + ".>"},
			Retention:  nats.LimitsPolicy,
			Storage:    nats.FileStorage,
			Replicas:   1,
			Duplicates: dedupWindow,
		}); addErr != nil {
			return addErr
		}
	}
	return nil
}

// JetStreamPublisher is the slice of nats.JetStreamContext the forwarder needs.
type JetStreamPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// Forwarder relays bus events to JetStream so consumers in other processes
// (notification center, reporting) can follow the lifecycle log.
//
// Delivery is best effort. An event whose publish still fails after the last
// attempt is logged with its message id and skipped; it never reaches
// JetStream. Consumers needing every event replay the durable history of the
// request (GET /api/v1/requests/:id/events) from their last sequence.
type Forwarder struct {
	bus      *Bus
	js       JetStreamPublisher
	logger   *zap.Logger
	attempts int
	backoff  time.Duration
}

// NewForwarder builds a Forwarder.
func NewForwarder(bus *Bus, js JetStreamPublisher, logger *zap.Logger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{bus: bus, js: js, logger: logger, attempts: 3, backoff: 200 * time.Millisecond}
}

// Run forwards events until ctx is done.
func (f *Forwarder) Run(ctx context.Context) error {
	return Consume(ctx, f.bus, ConsumerOptions{
		Name:   "jetstream-forwarder",
		Filter: NewFilter(AllRooms),
		Logger: f.logger,
	}, f.forward)
}

// SubjectFor returns the JetStream subject of an event.
func SubjectFor(env Envelope) string {
	return fmt.Sprintf("%s.%d.%d", lifecycleSubject, env.Event.ClientRef, env.Event.RequestID)
}

// MsgIDFor returns the dedup id of an event; redeliveries share it.
func MsgIDFor(env Envelope) string {
	return fmt.Sprintf("request-%d-seq-%d", env.Event.RequestID, env.Event.Sequence)
}

func (f *Forwarder) forward(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env.Event)
	if err != nil {
		return err
	}
	subject := SubjectFor(env)
	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		if _, lastErr = f.js.Publish(subject, payload, nats.MsgId(MsgIDFor(env))); lastErr == nil {
			return nil
		}
		f.logger.Warn("jetstream publish failed",
			zap.String("subject", subject),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.backoff * time.Duration(attempt)):
		}
	}
	return fmt.Errorf("forward %s dropped after %d attempts: %w", MsgIDFor(env), f.attempts, lastErr)
}
