package middleware

import (
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vtuplug/vtuplug/internal/logging"
)

const testUserHeader = "X-Test-User"

func setupTestApp(t *testing.T) (*fiber.App, *atomic.Int64) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	var hits atomic.Int64
	app := fiber.New()
	// Stand-in for JWTAuth: the middleware under test only cares that an
	// authenticated user ID is present in locals.
	app.Use(func(c *fiber.Ctx) error {
		if user := c.Get(testUserHeader); user != "" {
			c.Locals("user_id", user)
		}
		return c.Next()
	})
	app.Use(Idempotency(cache, time.Minute, logging.Discard()))
	app.Post("/purchases", func(c *fiber.Ctx) error {
		hits.Add(1)
		uid, _ := c.Locals("user_id").(string)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true, "user": uid})
	})

	return app, &hits
}

func postPurchase(t *testing.T, app *fiber.App, user, key string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, "/purchases", strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}

	resp, err := app.Test(req)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode, string(body)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	app, _ := setupTestApp(t)

	status, _ := postPurchase(t, app, "alice", "")
	require.Equal(t, fiber.StatusBadRequest, status)
}

func TestIdempotencyRequiresAuthenticatedUser(t *testing.T) {
	app, hits := setupTestApp(t)

	status, _ := postPurchase(t, app, "", "abc123")
	require.Equal(t, fiber.StatusInternalServerError, status)
	require.Equal(t, int64(0), hits.Load())
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	app, hits := setupTestApp(t)

	status, payload := postPurchase(t, app, "alice", "abc123")
	require.Equal(t, fiber.StatusCreated, status)

	status2, replayed := postPurchase(t, app, "alice", "abc123")
	require.Equal(t, fiber.StatusCreated, status2)

	require.Equal(t, payload, replayed)
	require.Equal(t, int64(1), hits.Load())
}

func TestIdempotencyScopesKeysPerUser(t *testing.T) {
	app, hits := setupTestApp(t)

	status, aliceBody := postPurchase(t, app, "alice", "shared-key")
	require.Equal(t, fiber.StatusCreated, status)

	// A second user reusing the same key must reach the handler and get
	// their own response, never a replay of the first user's.
	status2, bobBody := postPurchase(t, app, "bob", "shared-key")
	require.Equal(t, fiber.StatusCreated, status2)
	require.NotEqual(t, aliceBody, bobBody)
	require.Contains(t, bobBody, "bob")
	require.Equal(t, int64(2), hits.Load())
}

func TestIdempotencyIgnoresSafeMethods(t *testing.T) {
	app, _ := setupTestApp(t)
	app.Get("/purchases", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/purchases", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}
