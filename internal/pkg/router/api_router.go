package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/tramitex/permisos/app/controllers"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "permisos api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1")

	v1.Post("/applications", controllers.HandleCreateApplication)
	v1.Get("/applications/:id", controllers.HandleGetApplication)
	v1.Get("/applications/:id/events", controllers.HandleApplicationEvents)
	v1.Post("/applications/:id/payment", controllers.HandleStartPayment)
	v1.Post("/applications/:id/retry", controllers.HandleRetryPayment)
	v1.Post("/applications/:id/renew", controllers.HandleRenewApplication)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
