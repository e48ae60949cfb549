package http

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spec-kit/request-engine/internal/auth"
	"github.com/spec-kit/request-engine/internal/observability"
	apperrors "github.com/spec-kit/request-engine/pkg/errorutil"
)

// MiddlewareConfig tunes the global middleware chain.
type MiddlewareConfig struct {
	Timeout    time.Duration
	RetryAfter time.Duration
}

// RegisterMiddlewares attaches global middlewares such as error handling and logging.
func RegisterMiddlewares(app *fiber.App, logger *zap.Logger, metrics *observability.Metrics, cfg MiddlewareConfig) {
	if cfg.Timeout > 0 {
		app.Use(requestTimeoutMiddleware(cfg.Timeout))
	}
	// the logger wraps error handling so it records the rendered status
	app.Use(observability.RequestLogger(logger, metrics))
	app.Use(errorHandlingMiddleware(logger, metrics, cfg.RetryAfter))
}

func requestTimeoutMiddleware(timeout time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// streams outlive any request timeout
		if c.Get(fiber.HeaderAccept) == "text/event-stream" {
			return c.Next()
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return c.Next()
	}
}

func errorHandlingMiddleware(logger *zap.Logger, metrics *observability.Metrics, retryAfter time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
				err = apperrors.NewInternalError(nil)
			}
			if err != nil {
				domainErr := toResponseError(err)
				metrics.RecordError(c.Path(), c.Method(), domainErr.Code)
				response := fiber.Map{"error": fiber.Map{
					"code":    domainErr.Code,
					"message": domainErr.Message,
				}}
				if len(domainErr.Details) > 0 {
					response["error"].(fiber.Map)["details"] = domainErr.Details
				}
				if domainErr.HTTPStatus >= 500 && !domainErr.Retriable {
					logger.Error("request failed", zap.Error(domainErr))
				}
				if domainErr.Retriable && retryAfter > 0 {
					c.Set(fiber.HeaderRetryAfter, retryAfterSeconds(retryAfter))
				}
				c.Status(domainErr.HTTPStatus)
				_ = c.JSON(response)
				err = nil
			}
		}()
		return c.Next()
	}
}

// toResponseError also covers errors raised by fiber itself, such as
// unknown routes or oversized bodies.
func toResponseError(err error) *apperrors.DomainError {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code := apperrors.CodeInternal
		switch fiberErr.Code {
		case fiber.StatusNotFound:
			code = apperrors.CodeNotFound
		case fiber.StatusMethodNotAllowed:
			code = "METHOD_NOT_ALLOWED"
		case fiber.StatusRequestEntityTooLarge, fiber.StatusBadRequest, fiber.StatusUnprocessableEntity:
			code = apperrors.CodeValidation
		}
		return apperrors.NewDomainError(code, fiberErr.Message, fiberErr.Code, nil)
	}
	return apperrors.ToDomainError(err)
}

// Retry-After only carries whole seconds.
func retryAfterSeconds(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}

// commandLimiter throttles trigger submissions per actor.
type commandLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu       sync.Mutex
	limiters map[int64]*actorLimiter
	swept    time.Time
}

type actorLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newCommandLimiter(rps float64, burst int) *commandLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &commandLimiter{
		limit:    rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		limiters: make(map[int64]*actorLimiter),
	}
}

func (l *commandLimiter) allow(actor int64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.swept) > l.idle {
		for id, entry := range l.limiters {
			if now.Sub(entry.lastSeen) > l.idle {
				delete(l.limiters, id)
			}
		}
		l.swept = now
	}
	entry, ok := l.limiters[actor]
	if !ok {
		entry = &actorLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[actor] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// CommandRateLimit rejects command bursts above rps per authenticated actor.
// A non-positive rps disables the limit.
func CommandRateLimit(rps float64, burst int) fiber.Handler {
	if rps <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	limiter := newCommandLimiter(rps, burst)
	return func(c *fiber.Ctx) error {
		principal, ok := auth.PrincipalFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !limiter.allow(principal.ActorRef, time.Now()) {
			return apperrors.NewRateLimited()
		}
		return c.Next()
	}
}
