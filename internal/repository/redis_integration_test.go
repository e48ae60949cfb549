//go:build integration

package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/request-engine/internal/testutil/containers"
)

func TestRedisIdempotencyAgainstRedis(t *testing.T) {
	client := containers.NewRedisClient(t)
	store := NewRedisIdempotency(client, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := int64(1); i <= 8; i++ {
		wg.Add(1)
		go func(seq int64) {
			defer wg.Done()
			_ = store.Remember(ctx, 7, "double-click", sampleEvent(seq))
		}(i)
	}
	wg.Wait()

	first, err := store.Lookup(ctx, 7, "double-click")
	require.NoError(t, err)
	require.NotNil(t, first)
	again, err := store.Lookup(ctx, 7, "double-click")
	require.NoError(t, err)
	assert.Equal(t, first.Sequence, again.Sequence, "one result sticks")

	ttl, err := client.TTL(ctx, idempotencyKey(7, "double-click")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, time.Minute)
}
