package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextMiddlewareEnrichesUserContext(t *testing.T) {
	app := fiber.New()
	app.Use(requestid.New())
	app.Use(ContextMiddleware())

	var fromUserCtx, fromRawCtx any
	app.Get("/", func(c *fiber.Ctx) error {
		fromUserCtx = c.UserContext().Value(RequestIDKey)
		fromRawCtx = c.Context().Value(RequestIDKey)
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Handlers must forward c.UserContext(); the raw fasthttp context never
	// carries the request id.
	assert.NotNil(t, fromUserCtx)
	assert.Nil(t, fromRawCtx)
}

func TestContextMiddlewareCarriesUserID(t *testing.T) {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("userID", "42")
		return c.Next()
	})
	app.Use(ContextMiddleware())

	var uid any
	app.Get("/", func(c *fiber.Ctx) error {
		uid = c.UserContext().Value(UserIDKey)
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil), -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "42", uid)
}
