package http

import (
	"errors"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/spec-kit/request-engine/pkg/errorutil"
)

func TestCommandLimiterPerActor(t *testing.T) {
	l := newCommandLimiter(1, 2)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	assert.True(t, l.allow(1, now))
	assert.True(t, l.allow(1, now))
	assert.False(t, l.allow(1, now), "burst exhausted")
	assert.True(t, l.allow(2, now), "other actors unaffected")
	assert.True(t, l.allow(1, now.Add(time.Second)), "refilled")
}

func TestCommandLimiterSweepsIdleActors(t *testing.T) {
	l := newCommandLimiter(1, 1)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	l.allow(1, now)
	l.allow(2, now.Add(9*time.Minute))

	l.allow(3, now.Add(11*time.Minute))
	assert.NotContains(t, l.limiters, int64(1))
	assert.Contains(t, l.limiters, int64(2))
	assert.Contains(t, l.limiters, int64(3))
}

func TestToResponseError(t *testing.T) {
	err := toResponseError(fiber.ErrNotFound)
	assert.Equal(t, apperrors.CodeNotFound, err.Code)
	assert.Equal(t, fiber.StatusNotFound, err.HTTPStatus)

	err = toResponseError(fiber.ErrRequestEntityTooLarge)
	assert.Equal(t, apperrors.CodeValidation, err.Code)

	err = toResponseError(errors.New("boom"))
	assert.Equal(t, apperrors.CodeInternal, err.Code)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, "1", retryAfterSeconds(250*time.Millisecond))
	assert.Equal(t, "2", retryAfterSeconds(1500*time.Millisecond))
	assert.Equal(t, "1", retryAfterSeconds(0))
}
