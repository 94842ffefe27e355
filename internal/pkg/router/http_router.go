package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tramitex/permisos/app/controllers"
	"github.com/tramitex/permisos/internal/pkg/env"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Provider-facing webhook endpoint. No auth middleware here: the HMAC
	// signature on the body is the authentication.
	app.Post("/webhooks/payment", controllers.HandlePaymentWebhook)

	// Prometheus scrape endpoint
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Operator surface, guarded by basic auth
	ops := app.Group("/ops", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("OPS_USER", "ops"): env.GetEnv("OPS_PASSWORD", "changeme"),
		},
	}))
	ops.Get("/events/failed", controllers.HandleListFailedEvents)
	ops.Post("/events/:id/replay", controllers.HandleReplayEvent)
	ops.Post("/events/reap", controllers.HandleReapStuckEvents)
	ops.Get("/queue", controllers.HandleQueueStats)
	ops.Get("/monitor", monitor.New())
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
