package middleware

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireBearer(t *testing.T) {
	app := fiber.New()
	app.Post("/dispatch", RequireBearer("s3cret"), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid", header: "Bearer s3cret", want: fiber.StatusOK},
		{name: "case insensitive scheme", header: "bearer s3cret", want: fiber.StatusOK},
		{name: "wrong token", header: "Bearer nope", want: fiber.StatusUnauthorized},
		{name: "missing", header: "", want: fiber.StatusUnauthorized},
		{name: "basic scheme", header: "Basic s3cret", want: fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodPost, "/dispatch", nil)
			if tt.header != "" {
				req.Header.Set(fiber.HeaderAuthorization, tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestRequireBearerWithoutSecret(t *testing.T) {
	app := fiber.New()
	app.Post("/dispatch", RequireBearer(""), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	req := httptest.NewRequest(fiber.MethodPost, "/dispatch", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer ")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}

func TestCorrelationLocals(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID(), Correlation)
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(IdempotencyKey(c) + "|" + TraceParent(c) + "|" + RequestIDFrom(c))
	})

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(HeaderIdempotencyKey, " key-1 ")
	req.Header.Set(HeaderTraceParent, "00-abc-def-01")
	req.Header.Set(fiber.HeaderXRequestID, "req-42")
	resp, err := app.Test(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "key-1|00-abc-def-01|req-42", string(body))
	assert.Equal(t, "req-42", resp.Header.Get(fiber.HeaderXRequestID))
}
