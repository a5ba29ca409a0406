package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/ManuelReschke/Plan5/internal/pkg/metrics"
)

// OpsRouter serves health, Prometheus metrics and the fiber monitor page.
type OpsRouter struct {
	deps Dependencies
}

func NewOpsRouter(deps Dependencies) *OpsRouter {
	return &OpsRouter{deps: deps}
}

func (h OpsRouter) InstallRouter(app *fiber.App) {
	if h.deps.Health != nil {
		app.Get("/healthz", h.deps.Health.HandleHealth)
	}

	metrics.Register()
	guard := func(c *fiber.Ctx) error { return c.Next() }
	if len(h.deps.MetricsUsers) > 0 {
		guard = basicauth.New(basicauth.Config{Users: h.deps.MetricsUsers})
	}
	app.Get("/metrics", guard, metrics.Handler())
	app.Get("/monitor", guard, monitor.New(monitor.Config{Title: "Plan5 Monitor"}))
}
