package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/request-engine/internal/clock"
	"github.com/spec-kit/request-engine/internal/domain"
)

func lifecycleEvent(requestID, clientRef, seq int64) domain.LifecycleEvent {
	return domain.LifecycleEvent{
		RequestID: requestID,
		ClientRef: clientRef,
		Sequence:  seq,
		Trigger:   domain.TriggerPause,
		From:      domain.RequestStatusInProgress,
		To:        domain.RequestStatusInProgress,
	}
}

func nextEnvelope(t *testing.T, sub *Subscription) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	env, err := sub.Next(ctx)
	require.NoError(t, err)
	return env
}

func TestBusDeliversInOrderPerRequest(t *testing.T) {
	bus := NewBus(Options{})
	defer bus.Close()
	sub, err := bus.Subscribe(NewFilter(RequestRoom(1)), 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for seq := int64(1); seq <= 50; seq++ {
			bus.Publish(lifecycleEvent(1, 10, seq))
			bus.Publish(lifecycleEvent(2, 10, seq))
		}
	}()

	var last int64
	for i := 0; i < 50; i++ {
		env := nextEnvelope(t, sub)
		assert.Equal(t, int64(1), env.Event.RequestID)
		assert.Greater(t, env.Event.Sequence, last)
		last = env.Event.Sequence
	}
	wg.Wait()
	assert.Equal(t, int64(50), last)
}

func TestBusRoomsFilter(t *testing.T) {
	bus := NewBus(Options{})
	defer bus.Close()
	byClient, err := bus.Subscribe(NewFilter(ClientRoom(20)), 0)
	require.NoError(t, err)
	byAssignee, err := bus.Subscribe(NewFilter(AssigneeRoom(7)), 0)
	require.NoError(t, err)

	bus.Publish(lifecycleEvent(1, 10, 1))
	assigned := lifecycleEvent(2, 20, 1)
	agent := int64(7)
	assigned.AssigneeRef = &agent
	bus.Publish(assigned)

	assert.Equal(t, int64(2), nextEnvelope(t, byClient).Event.RequestID)
	assert.Equal(t, int64(2), nextEnvelope(t, byAssignee).Event.RequestID)
}

func TestBusDropsLaggingSubscriberWithoutBlocking(t *testing.T) {
	bus := NewBus(Options{SubscriberBuffer: 4})
	defer bus.Close()
	slow, err := bus.Subscribe(NewFilter(AllRooms), 0)
	require.NoError(t, err)
	fast, err := bus.Subscribe(NewFilter(AllRooms), 0)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for seq := int64(1); seq <= 10; seq++ {
			bus.Publish(lifecycleEvent(1, 1, seq))
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_, _ = fast.Next(ctx)
			cancel()
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	_, err = slow.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriberLagged)
	assert.Equal(t, 1, bus.Subscribers())
	assert.NoError(t, fast.Err())
}

func TestBusResumeReplaysRetainedEvents(t *testing.T) {
	bus := NewBus(Options{})
	defer bus.Close()
	sub, err := bus.Subscribe(NewFilter(RequestRoom(1)), 0)
	require.NoError(t, err)

	bus.Publish(lifecycleEvent(1, 1, 1))
	bus.Publish(lifecycleEvent(1, 1, 2))
	first := nextEnvelope(t, sub)
	sub.Close()
	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrSubscriptionClosed)

	bus.Publish(lifecycleEvent(1, 1, 3))

	resumed, err := bus.Subscribe(NewFilter(RequestRoom(1)), first.Position)
	require.NoError(t, err)
	assert.Equal(t, int64(2), nextEnvelope(t, resumed).Event.Sequence)
	assert.Equal(t, int64(3), nextEnvelope(t, resumed).Event.Sequence)
	assert.Equal(t, bus.Head(), resumed.Position())
}

func TestBusResumeOutsideRetention(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	bus := NewBus(Options{RetentionEvents: 3, RetentionWindow: time.Minute, Clock: fake})
	defer bus.Close()

	for seq := int64(1); seq <= 5; seq++ {
		bus.Publish(lifecycleEvent(1, 1, seq))
	}
	_, err := bus.Subscribe(NewFilter(AllRooms), 1)
	assert.ErrorIs(t, err, ErrResyncRequired)
	_, err = bus.Subscribe(NewFilter(AllRooms), 2)
	require.NoError(t, err)

	fake.Advance(2 * time.Minute)
	bus.Publish(lifecycleEvent(1, 1, 6))
	_, err = bus.Subscribe(NewFilter(AllRooms), 4)
	assert.ErrorIs(t, err, ErrResyncRequired)

	_, err = bus.Subscribe(NewFilter(AllRooms), 99)
	assert.ErrorIs(t, err, ErrResyncRequired)
}

func TestBusCloseEndsSubscriptions(t *testing.T) {
	bus := NewBus(Options{})
	sub, err := bus.Subscribe(NewFilter(AllRooms), 0)
	require.NoError(t, err)
	bus.Close()

	_, err = sub.Next(context.Background())
	assert.ErrorIs(t, err, ErrBusClosed)
	assert.Zero(t, bus.Publish(lifecycleEvent(1, 1, 1)))
	_, err = bus.Subscribe(NewFilter(AllRooms), 0)
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestSubscriptionNextHonoursContext(t *testing.T) {
	bus := NewBus(Options{})
	defer bus.Close()
	sub, err := bus.Subscribe(NewFilter(AllRooms), 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDeduper(t *testing.T) {
	d := NewDeduper()
	assert.False(t, d.Seen(lifecycleEvent(1, 1, 1)))
	assert.True(t, d.Seen(lifecycleEvent(1, 1, 1)))
	assert.False(t, d.Seen(lifecycleEvent(2, 1, 1)))
	assert.False(t, d.Seen(lifecycleEvent(1, 1, 2)))
	d.Forget(1)
	assert.False(t, d.Seen(lifecycleEvent(1, 1, 1)))
}

func TestParseRoom(t *testing.T) {
	for _, raw := range []string{"all", "request:1", "client:22", "assignee:3"} {
		room, err := ParseRoom(raw)
		require.NoError(t, err)
		assert.Equal(t, Room(raw), room)
	}
	for _, raw := range []string{"", "request", "request:x", "team:1"} {
		_, err := ParseRoom(raw)
		assert.Error(t, err, raw)
	}
}
