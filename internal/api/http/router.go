package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/request-engine/internal/api/http/handlers"
	"github.com/spec-kit/request-engine/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Requests       *handlers.RequestsHandler
	Stream         *handlers.StreamHandler
	Notifications  *handlers.NotificationsHandler
	Billing        *handlers.BillingHandler
	AuthMiddleware *auth.AuthMiddleware
	// Gatherer serves /metrics when set.
	Gatherer     prometheus.Gatherer
	CommandRPS   float64
	CommandBurst int
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api/v1")
	api.Get("/stream", cfg.AuthMiddleware.HandleStream, cfg.Stream.Stream)

	protected := api.Group("", cfg.AuthMiddleware.Handle)
	protected.Get("/notifications", cfg.Notifications.List)

	commands := CommandRateLimit(cfg.CommandRPS, cfg.CommandBurst)
	requests := protected.Group("/requests")
	requests.Post("/", commands, cfg.Requests.Create)
	requests.Get("/:id", cfg.Requests.Get)
	requests.Get("/:id/events", cfg.Requests.Events)
	requests.Post("/:id/transfer", auth.RequireRole(auth.RoleAdmin), commands, cfg.Requests.Transfer)
	requests.Post("/:id/:trigger", commands, cfg.Requests.Command)

	billing := protected.Group("/billing", auth.RequireRole(auth.RoleAdmin))
	billing.Post("/generate", cfg.Billing.Generate)
	billing.Post("/generate-all", cfg.Billing.GenerateAll)
	billing.Get("/summary", cfg.Billing.Summary)
	billing.Post("/periods/close", cfg.Billing.Close)
	billing.Post("/periods/invoice", cfg.Billing.Invoice)
}
