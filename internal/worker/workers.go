package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runnable is a long-lived background consumer.
type Runnable interface {
	Run(ctx context.Context) error
}

// Group runs background consumers until the parent context is cancelled.
type Group struct {
	logger *zap.Logger
	cancel context.CancelFunc
	g      *errgroup.Group
}

// Start launches every non-nil runnable keyed by name.
func Start(ctx context.Context, logger *zap.Logger, runnables map[string]Runnable) *Group {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	for name, r := range runnables {
		if r == nil {
			continue
		}
		g.Go(func() error {
			logger.Info("worker started", zap.String("worker", name))
			err := r.Run(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("worker stopped", zap.String("worker", name), zap.Error(err))
				return err
			}
			logger.Info("worker stopped", zap.String("worker", name))
			return nil
		})
	}
	return &Group{logger: logger, cancel: cancel, g: g}
}

// Stop cancels the workers and waits for them to return.
func (w *Group) Stop() error {
	w.cancel()
	return w.g.Wait()
}
