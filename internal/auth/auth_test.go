package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spa-cms/internal/api"
	"spa-cms/internal/config"
	"spa-cms/internal/logger"
	"spa-cms/internal/store"
)

const testSecret = "test-secret"

func newService(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Name: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Bootstrap(ctx, config.AdminConfig{Email: "Admin@Spa.test", Password: "admin-pass"}, logger.Nop()))
	return NewService(s, testSecret, nil)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	user := User{ID: "u-1", Email: "ed@spa.test", Roles: []string{RoleEditor}}
	tok, err := GenerateAccessToken(user, testSecret, time.Now())
	require.NoError(t, err)

	got, err := ParseAccessToken(tok, testSecret)
	require.NoError(t, err)
	assert.Equal(t, &user, got)
	assert.True(t, got.CanEdit())
	assert.False(t, got.IsAdmin())

	_, err = ParseAccessToken(tok, "other-secret")
	assert.Error(t, err)

	stale, err := GenerateAccessToken(user, testSecret, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = ParseAccessToken(stale, testSecret)
	assert.Error(t, err)
}

func TestLoginRefreshLogout(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	_, err := svc.Login(ctx, "admin@spa.test", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login(ctx, "nobody@spa.test", "admin-pass")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	pair, err := svc.Login(ctx, " ADMIN@spa.test ", "admin-pass")
	require.NoError(t, err)
	user, err := ParseAccessToken(pair.AccessToken, testSecret)
	require.NoError(t, err)
	assert.True(t, user.IsAdmin())

	next, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "refresh tokens are single use")

	require.NoError(t, svc.Logout(ctx, next.RefreshToken))
	_, err = svc.Refresh(ctx, next.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.NoError(t, svc.Logout(ctx, "not-a-token"))
}

func TestRefreshTokenExpiry(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	start := time.Now()
	svc.now = func() time.Time { return start }

	pair, err := svc.Login(ctx, "admin@spa.test", "admin-pass")
	require.NoError(t, err)

	svc.now = func() time.Time { return start.Add(RefreshTokenTTL + time.Minute) }
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenExpired)

	// an expired token is consumed too
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPurgeExpiredTokens(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	start := time.Now()
	svc.now = func() time.Time { return start }
	_, err := svc.Login(ctx, "admin@spa.test", "admin-pass")
	require.NoError(t, err)

	n, err := svc.PurgeExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	svc.now = func() time.Time { return start.Add(RefreshTokenTTL + time.Hour) }
	n, err = svc.PurgeExpiredTokens(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestCreateUserAndDisable(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)

	_, err := svc.CreateUser(ctx, "not-an-email", "long-enough", nil)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.CreateUser(ctx, "ed@spa.test", "short", nil)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.CreateUser(ctx, "ed@spa.test", "long-enough", []string{"owner"})
	assert.ErrorIs(t, err, ErrInvalidRole)

	acc, err := svc.CreateUser(ctx, "Ed@Spa.test", "long-enough", nil)
	require.NoError(t, err)
	assert.Equal(t, "ed@spa.test", acc.Email)
	assert.Equal(t, []string{RoleEditor}, acc.Roles)
	_, err = svc.CreateUser(ctx, "ed@spa.test", "long-enough", nil)
	assert.ErrorIs(t, err, ErrEmailTaken)

	pair, err := svc.Login(ctx, "ed@spa.test", "long-enough")
	require.NoError(t, err)

	require.NoError(t, svc.SetActive(ctx, acc.ID, false))
	_, err = svc.Login(ctx, "ed@spa.test", "long-enough")
	assert.ErrorIs(t, err, ErrAccountDisabled)
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidToken, "disabling revokes refresh tokens")

	assert.ErrorIs(t, svc.SetActive(ctx, "bogus", true), ErrUserNotFound)

	users, err := svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "admin@spa.test", users[0].Email)
	assert.True(t, users[0].Active)
	assert.False(t, users[1].Active)
}

func newApp(svc *Service) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: api.ErrorHandler(logger.Nop()), Immutable: true})
	mw := AuthMiddleware(testSecret)
	RegisterAuthRoutes(app, NewAuthHandler(svc), mw)
	app.Get("/api/editors", mw, RequireEditor(), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals(api.UserIDKey).(string))
	})
	app.Get("/api/_admin/users", mw, RequireAdmin(), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func call(t *testing.T, app *fiber.App, method, path, token, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return resp.StatusCode, out
}

func TestAuthRoutes(t *testing.T) {
	ctx := context.Background()
	svc := newService(t)
	_, err := svc.CreateUser(ctx, "ed@spa.test", "long-enough", []string{RoleEditor})
	require.NoError(t, err)
	app := newApp(svc)

	status, body := call(t, app, http.MethodPost, "/api/auth/login", "", `{"email":"ed@spa.test","password":"nope"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["error"].(map[string]any)["code"])

	status, body = call(t, app, http.MethodPost, "/api/auth/login", "", `{"email":"ed@spa.test","password":"long-enough"}`)
	require.Equal(t, http.StatusOK, status)
	data := body["data"].(map[string]any)
	access := data["access_token"].(string)

	status, body = call(t, app, http.MethodGet, "/api/auth/me", access, "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ed@spa.test", body["data"].(map[string]any)["email"])

	status, _ = call(t, app, http.MethodGet, "/api/editors", access, "")
	assert.Equal(t, http.StatusOK, status)
	status, _ = call(t, app, http.MethodGet, "/api/_admin/users", access, "")
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = call(t, app, http.MethodGet, "/api/editors", "", "")
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = call(t, app, http.MethodGet, "/api/editors", "garbage", "")
	assert.Equal(t, http.StatusUnauthorized, status)

	status, body = call(t, app, http.MethodPost, "/api/auth/refresh", "", `{"refresh_token":"`+data["refresh_token"].(string)+`"}`)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["data"].(map[string]any)["access_token"])

	status, _ = call(t, app, http.MethodPost, "/api/auth/refresh", "", `{"refresh_token":"`+data["refresh_token"].(string)+`"}`)
	assert.Equal(t, http.StatusUnauthorized, status)
}
