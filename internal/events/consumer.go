package events

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// HandlerFunc processes one delivered envelope.
type HandlerFunc func(ctx context.Context, env Envelope) error

// ConsumerOptions configures Consume.
type ConsumerOptions struct {
	Name   string
	Filter Filter
	Logger *zap.Logger
	// RetryDelay is the pause before resubscribing after the bus dropped the consumer.
	RetryDelay time.Duration
}

// Consume delivers matching events to handle until ctx is done. A consumer
// dropped for lagging resubscribes from its last position, and falls back to
// live delivery when that position is no longer retained. Redelivered events
// are filtered with a Deduper. Handler errors are logged, not retried.
// Closing the bus ends the consumer without an error.
func Consume(ctx context.Context, bus *Bus, opts ConsumerOptions, handle HandlerFunc) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("consumer", opts.Name))
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}

	dedupe := NewDeduper()
	var resume Position
	for {
		sub, err := bus.Subscribe(opts.Filter, resume)
		if errors.Is(err, ErrResyncRequired) {
			logger.Warn("resume position expired, continuing with live events", zap.Uint64("resume", uint64(resume)))
			resume = 0
			continue
		}
		if errors.Is(err, ErrBusClosed) {
			logger.Info("bus closed, consumer stopping")
			return nil
		}
		if err != nil {
			return err
		}

		err = drain(ctx, sub, dedupe, logger, handle)
		resume = sub.Position()
		sub.Close()

		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrBusClosed):
			logger.Info("bus closed, consumer stopping")
			return nil
		case errors.Is(err, ErrSubscriberLagged):
			logger.Warn("consumer lagged, resubscribing", zap.Uint64("resume", uint64(resume)))
		default:
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.RetryDelay):
		}
	}
}

func drain(ctx context.Context, sub *Subscription, dedupe *Deduper, logger *zap.Logger, handle HandlerFunc) error {
	for {
		env, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if dedupe.Seen(env.Event) {
			continue
		}
		if err := handle(ctx, env); err != nil {
			logger.Error("event handler failed",
				zap.Int64("request_id", env.Event.RequestID),
				zap.Int64("sequence", env.Event.Sequence),
				zap.Error(err))
		}
	}
}
