package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/Plan5/app/controllers"
	"github.com/ManuelReschke/Plan5/internal/pkg/middleware"
)

// Dependencies carries the controllers and settings the routes need.
type Dependencies struct {
	Payments   *controllers.PaymentController
	Invoices   *controllers.InvoiceController
	Compliance *controllers.ComplianceController
	Reminders  *controllers.ReminderController
	Health     *controllers.HealthController

	CronSecret string
	// MetricsUsers guards /metrics and /monitor; empty leaves them open.
	MetricsUsers map[string]string
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit int
	// RateLimitStorage shares limiter counters between instances; nil keeps
	// them in memory.
	RateLimitStorage fiber.Storage
}

type ApiRouter struct {
	deps Dependencies
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	app.Use(middleware.RequestID(), middleware.Correlation)
	if h.deps.RateLimit > 0 {
		app.Use(limiter.New(limiter.Config{
			Max:        h.deps.RateLimit,
			Expiration: time.Minute,
			Storage:    h.deps.RateLimitStorage,
			// Providers retry webhooks on 429, which only adds load.
			Next: func(c *fiber.Ctx) bool {
				return strings.HasPrefix(c.Path(), "/payments/webhooks/")
			},
		}))
	}

	payments := app.Group("/payments")
	payments.Post("/", h.deps.Payments.HandleCreateIntent)
	payments.Post("/refunds", h.deps.Payments.HandleRefund)
	payments.Post("/webhooks/:provider", h.deps.Payments.HandleWebhook)
	payments.Get("/sumup/status/:checkoutId", h.deps.Payments.HandleSumUpStatus)
	payments.Post("/sumup/manual", h.deps.Payments.HandleSumUpManual)

	app.Post("/invoices", h.deps.Invoices.HandleIssue)

	compliance := app.Group("/compliance")
	compliance.Post("/", h.deps.Compliance.HandleProcess)
	compliance.Post("/consent", h.deps.Compliance.HandleConsent)
	compliance.Get("/status/:id", h.deps.Compliance.HandleStatus)

	app.Post("/reminders/dispatch", middleware.RequireBearer(h.deps.CronSecret), h.deps.Reminders.HandleDispatch)

	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "not_found",
			"message": "no route for " + c.Method() + " " + c.Path(),
		})
	})
}
