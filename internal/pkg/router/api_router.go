package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/davidgeissler/newsprint/app/controllers"
	"github.com/davidgeissler/newsprint/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// Generous ceiling: webhook bursts from the provider must pass untouched.
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// Provider webhooks authenticate via payload signature, not tokens.
	api.Post("/webhooks/billing", controllers.HandleBillingWebhook)

	// Operator surface for the reconciliation dashboard.
	admin := api.Group("/admin", middleware.RequireServiceToken("ADMIN_API_TOKEN"))
	admin.Get("/entitlements/reconciliation", controllers.HandleEntitlementReconciliationReport)
	admin.Post("/entitlements/reconciliation", controllers.HandleEntitlementReconciliationAction)

	// Service-to-service surface for the host application.
	internal := api.Group("/internal", middleware.RequireServiceToken("INTERNAL_API_TOKEN"))
	internal.Get("/entitlements", controllers.HandleGetEntitlement)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
