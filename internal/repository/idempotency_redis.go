package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/request-engine/internal/domain"
)

var (
	eventEncMode cbor.EncMode
	eventDecMode cbor.DecMode
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	var err error
	eventEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("repository: cbor encoder: " + err.Error())
	}
	eventDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("repository: cbor decoder: " + err.Error())
	}
}

// RedisIdempotency keeps idempotency results in Redis so retries hitting
// another instance still replay the first outcome.
type RedisIdempotency struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisIdempotency builds a store whose keys expire after ttl.
func NewRedisIdempotency(client redis.Cmdable, ttl time.Duration) *RedisIdempotency {
	return &RedisIdempotency{client: client, ttl: ttl}
}

func (r *RedisIdempotency) Lookup(ctx context.Context, requestID int64, key string) (*domain.LifecycleEvent, error) {
	raw, err := r.client.Get(ctx, idempotencyKey(requestID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	var event domain.LifecycleEvent
	if err := eventDecMode.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("decode idempotency entry: %w", err)
	}
	return &event, nil
}

// Remember stores event unless the key already holds a result; the first
// result always wins.
func (r *RedisIdempotency) Remember(ctx context.Context, requestID int64, key string, event domain.LifecycleEvent) error {
	raw, err := eventEncMode.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode idempotency entry: %w", err)
	}
	if err := r.client.SetNX(ctx, idempotencyKey(requestID, key), raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency remember: %w", err)
	}
	return nil
}
