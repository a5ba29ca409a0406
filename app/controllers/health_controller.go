package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type HealthController struct {
	db    *gorm.DB
	cache *redis.Client
}

// NewHealthController checks the database and, when given, the cache.
func NewHealthController(db *gorm.DB, cache *redis.Client) *HealthController {
	return &HealthController{db: db, cache: cache}
}

// HandleHealth handles GET /healthz. The cache is reported but never fails
// the check because the service runs without it.
func (hc *HealthController) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.Map{"database": "ok"}
	code := fiber.StatusOK
	if err := hc.pingDB(ctx); err != nil {
		status["database"] = err.Error()
		code = fiber.StatusServiceUnavailable
	}
	if hc.cache != nil {
		status["cache"] = "ok"
		if err := hc.cache.Ping(ctx).Err(); err != nil {
			status["cache"] = err.Error()
		}
	}
	status["ok"] = code == fiber.StatusOK
	return c.Status(code).JSON(status)
}

func (hc *HealthController) pingDB(ctx context.Context) error {
	sqlDB, err := hc.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
