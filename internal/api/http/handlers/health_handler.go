package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/request-engine/internal/events"
	"github.com/spec-kit/request-engine/internal/persistence"
)

// HealthHandler responds to liveness and readiness probes.
type HealthHandler struct {
	serviceName string
	version     string
	postgres    *persistence.Postgres
	redis       *persistence.Redis
	nats        *persistence.NATS
	bus         *events.Bus
}

// HealthDependencies lists what readiness checks. Nil or unconfigured
// backends are reported as disabled.
type HealthDependencies struct {
	Postgres *persistence.Postgres
	Redis    *persistence.Redis
	NATS     *persistence.NATS
	Bus      *events.Bus
}

// NewHealthHandler returns a new handler instance.
func NewHealthHandler(serviceName, version string, deps HealthDependencies) *HealthHandler {
	return &HealthHandler{
		serviceName: serviceName,
		version:     version,
		postgres:    deps.Postgres,
		redis:       deps.Redis,
		nats:        deps.NATS,
		bus:         deps.Bus,
	}
}

// Live reports service liveness.
func (h *HealthHandler) Live(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "alive",
		"service": h.serviceName,
		"version": h.version,
	})
}

// Ready reports service readiness by checking dependencies.
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	depStatus := fiber.Map{}
	ready := true
	check := func(name string, enabled bool, ping func() error) {
		if !enabled {
			depStatus[name] = "disabled"
			return
		}
		if err := ping(); err != nil {
			depStatus[name] = err.Error()
			ready = false
			return
		}
		depStatus[name] = "ok"
	}

	check("postgres", h.postgres.Enabled(), func() error { return h.postgres.Ping(ctx) })
	check("redis", h.redis.Enabled(), func() error { return h.redis.Ping(ctx) })
	check("nats", h.nats.Enabled(), h.nats.Ping)
	if h.bus != nil {
		depStatus["subscribers"] = h.bus.Subscribers()
		depStatus["stream_head"] = uint64(h.bus.Head())
	}

	if ready {
		return c.JSON(fiber.Map{
			"status":       "ready",
			"dependencies": depStatus,
		})
	}

	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "DEPENDENCY_UNAVAILABLE",
			"message": "one or more dependencies unavailable",
			"details": depStatus,
		},
	})
}
