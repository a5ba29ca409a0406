package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderTraceParent    = "traceparent"

	LocalRequestID      = "requestid"
	LocalIdempotencyKey = "idempotencyKey"
	LocalTraceParent    = "traceparent"
)

// RequestID tags every request with an X-Request-ID, reusing the caller's
// value when present.
func RequestID() fiber.Handler {
	return requestid.New(requestid.Config{ContextKey: LocalRequestID})
}

// Correlation copies the Idempotency-Key and traceparent headers into
// locals so controllers do not parse headers themselves.
func Correlation(c *fiber.Ctx) error {
	if key := strings.TrimSpace(c.Get(HeaderIdempotencyKey)); key != "" {
		c.Locals(LocalIdempotencyKey, key)
	}
	if tp := strings.TrimSpace(c.Get(HeaderTraceParent)); tp != "" {
		c.Locals(LocalTraceParent, tp)
	}
	return c.Next()
}

func IdempotencyKey(c *fiber.Ctx) string {
	key, _ := c.Locals(LocalIdempotencyKey).(string)
	return key
}

func RequestIDFrom(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalRequestID).(string)
	return id
}

func TraceParent(c *fiber.Ctx) string {
	tp, _ := c.Locals(LocalTraceParent).(string)
	return tp
}
