package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProtectedApp() *fiber.App {
	app := fiber.New()
	app.Get("/protected", RequireServiceToken("TEST_SERVICE_TOKEN"), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"operator": c.Locals(OperatorIDLocal)})
	})
	return app
}

func TestRequireServiceToken_Unconfigured(t *testing.T) {
	t.Setenv("TEST_SERVICE_TOKEN", "")
	app := newProtectedApp()

	req := httptest.NewRequest("GET", "/protected", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}

func TestRequireServiceToken_MissingToken(t *testing.T) {
	t.Setenv("TEST_SERVICE_TOKEN", "secret-token")
	app := newProtectedApp()

	req := httptest.NewRequest("GET", "/protected", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireServiceToken_InvalidToken(t *testing.T) {
	t.Setenv("TEST_SERVICE_TOKEN", "secret-token")
	app := newProtectedApp()

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", "wrong")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireServiceToken_ValidHeaderToken(t *testing.T) {
	t.Setenv("TEST_SERVICE_TOKEN", "secret-token")
	app := newProtectedApp()

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("X-API-Key", "secret-token")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestRequireServiceToken_BearerToken(t *testing.T) {
	t.Setenv("TEST_SERVICE_TOKEN", "secret-token")
	app := newProtectedApp()

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	req.Header.Set("X-Operator-Id", "alice")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
