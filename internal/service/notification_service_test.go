package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/request-engine/internal/clock"
	"github.com/spec-kit/request-engine/internal/config"
	"github.com/spec-kit/request-engine/internal/domain"
	"github.com/spec-kit/request-engine/internal/events"
)

func lifecycleEvent(seq int64, trigger domain.Trigger, assignee *int64) domain.LifecycleEvent {
	return domain.LifecycleEvent{
		ID:             "ev",
		RequestID:      12,
		ClientRef:      3,
		AssigneeRef:    assignee,
		Trigger:        trigger,
		ActorRef:       77,
		Sequence:       seq,
		ElapsedSeconds: 600,
		To:             domain.RequestStatusResolved,
		OccurredAt:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestNotificationFeedFromBus(t *testing.T) {
	bus := events.NewBus(events.Options{Clock: clock.Fake(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))})
	defer bus.Close()
	svc := NewNotificationService(bus, nil, config.NotificationConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	agent := int64(77)
	bus.Publish(lifecycleEvent(1, domain.TriggerAccept, &agent))
	bus.Publish(lifecycleEvent(1, domain.TriggerAccept, &agent))
	bus.Publish(lifecycleEvent(2, domain.TriggerResolve, &agent))

	require.Eventually(t, func() bool { return len(svc.Feed(domain.ClientRecipient(3), 0)) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	clientFeed := svc.Feed(domain.ClientRecipient(3), 0)
	assert.Equal(t, "Request #12 was resolved after 10m0s of work", clientFeed[0].Message)
	assert.Equal(t, "Request #12 was accepted by agent 77", clientFeed[1].Message)
	assert.Len(t, svc.Feed(domain.StaffRecipient(77), 0), 2)
	assert.Len(t, svc.Feed(domain.ClientRecipient(3), 1), 1)
	assert.Empty(t, svc.Feed(domain.ClientRecipient(999), 0))
}

func TestNotificationFeedIsCapped(t *testing.T) {
	svc := NewNotificationService(nil, nil, config.NotificationConfig{FeedSize: 2})
	for seq := int64(1); seq <= 5; seq++ {
		require.NoError(t, svc.Handle(context.Background(), events.Envelope{Event: lifecycleEvent(seq, domain.TriggerPause, nil)}))
	}
	feed := svc.Feed(domain.ClientRecipient(3), 0)
	assert.Len(t, feed, 2)
	assert.Equal(t, "Work on request #12 is paused", feed[0].Message)
}

func TestNotificationFeedsSeparateClientsFromStaff(t *testing.T) {
	svc := NewNotificationService(nil, nil, config.NotificationConfig{})
	agent := int64(7)
	require.NoError(t, svc.Handle(context.Background(), events.Envelope{Event: lifecycleEvent(1, domain.TriggerAccept, &agent)}))

	assert.Empty(t, svc.Feed(domain.ClientRecipient(7), 0), "client 7 must not see client 3's request")
	assert.Len(t, svc.Feed(domain.StaffRecipient(7), 0), 1)
	assert.Len(t, svc.Feed(domain.ClientRecipient(3), 0), 1)
	assert.Empty(t, svc.Feed(domain.StaffRecipient(3), 0))
	assert.Empty(t, svc.Feed("", 0))
}
