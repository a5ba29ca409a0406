package controllers

import (
	"bytes"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Plan5/internal/pkg/apperror"
	"github.com/ManuelReschke/Plan5/internal/pkg/errorreport"
	"github.com/ManuelReschke/Plan5/internal/pkg/middleware"
)

// HeaderReplayed is set on responses served from the idempotency ledger.
const HeaderReplayed = "Idempotent-Replayed"

// renderError writes {"error": kind, "message": ...}. Provider and internal
// failures are also sent to the reporter with the request correlation data.
func renderError(c *fiber.Ctx, reporter errorreport.Reporter, route string, err error) error {
	status := apperror.HTTPStatus(err)
	if apperror.IsProvider(err) || status >= fiber.StatusInternalServerError {
		reporter.Capture(c.UserContext(), errorreport.Event{
			Err:         err,
			Route:       route,
			RequestID:   middleware.RequestIDFrom(c),
			TraceParent: middleware.TraceParent(c),
		})
	} else {
		log.Debugf("[API] %s %s: %v", route, apperror.Kind(err), err)
	}

	message := err.Error()
	if status >= fiber.StatusInternalServerError && !apperror.IsConfiguration(err) {
		message = "internal error"
	}
	return c.Status(status).JSON(fiber.Map{
		"error":   apperror.Kind(err),
		"message": message,
	})
}

// parseBody decodes a JSON request body into v.
func parseBody(c *fiber.Ctx, v any) error {
	if len(bytes.TrimSpace(c.Body())) == 0 {
		return apperror.Validation("body", "request body is required")
	}
	if err := c.BodyParser(v); err != nil {
		return apperror.Validation("body", "malformed JSON: %v", err)
	}
	return nil
}

func markReplayed(c *fiber.Ctx, replayed bool) {
	if replayed {
		c.Set(HeaderReplayed, "true")
	}
}
