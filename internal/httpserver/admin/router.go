package admin

import (
	"github.com/gofiber/fiber/v2"

	"github.com/castlebay/modeldesk/internal/app"
)

// Register wires up the /admin routes.
func Register(app *fiber.App, container *app.Container) {
	protected := app.Group("/admin", callerMiddleware(), rateLimitMiddleware(container.RateLimiter))
	registerUsageRoutes(protected, container)
}
