package cache

import (
	"net"
	"strconv"

	"github.com/gofiber/fiber/v2"
	redisstorage "github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/Plan5/internal/pkg/env"
)

// limiterDatabase keeps rate limit counters apart from the replay cache in DB 0.
const limiterDatabase = 1

// NewLimiterStorage returns a fiber.Storage on the cache server so request
// limits are shared between instances.
func NewLimiterStorage() fiber.Storage {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if c := GetClient(); c != nil {
		if h, p, err := net.SplitHostPort(c.Options().Addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := c.Options().Password; p != "" {
			password = p
		}
	}

	return redisstorage.New(redisstorage.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: limiterDatabase,
		Reset:    false,
	})
}
