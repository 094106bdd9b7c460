package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/vera/internal/access"
	"github.com/Skotchmaster/vera/internal/models"
	"github.com/Skotchmaster/vera/internal/tokens"
)

type revokedSet map[string]bool

func (r revokedSet) IsRevoked(_ context.Context, token string) (bool, error) {
	return r[token], nil
}

type brokenStore struct{}

func (brokenStore) IsRevoked(context.Context, string) (bool, error) {
	return false, errors.New("db down")
}

func newCodec(t *testing.T, now func() time.Time) *tokens.Codec {
	t.Helper()
	c, err := tokens.NewCodec(tokens.Config{
		Secret:     []byte("test-jwt-secret"),
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		Now:        now,
	})
	require.NoError(t, err)
	return c
}

func run(t *testing.T, mw echo.MiddlewareFunc, req *http.Request) (access.Principal, bool, error) {
	t.Helper()
	e := echo.New()
	c := e.NewContext(req, httptest.NewRecorder())

	var (
		got    access.Principal
		called bool
	)
	err := mw(func(c echo.Context) error {
		called = true
		got, _ = access.FromContext(c.Request().Context())
		return nil
	})(c)
	return got, called, err
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	require.ErrorAs(t, err, &he)
	return he.Code
}

func TestRequireAuth(t *testing.T) {
	codec := newCodec(t, nil)
	token, _, err := codec.IssueAccessToken(7, "a@x.com", models.RoleUser)
	require.NoError(t, err)
	revokedTok, _, err := codec.IssueAccessToken(7, "a@x.com", models.RoleUser)
	require.NoError(t, err)
	refreshTok, _, err := codec.IssueRefreshToken("a@x.com")
	require.NoError(t, err)

	a := NewAuthenticator(codec, revokedSet{revokedTok: true}, NewPathSet("/auth/login", "/docs/"))

	t.Run("valid bearer sets principal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users/7", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)

		p, called, err := run(t, a.RequireAuth, req)
		require.NoError(t, err)
		assert.True(t, called)
		assert.Equal(t, access.Principal{UserID: 7, Email: "a@x.com", Role: models.RoleUser}, p)
	})

	t.Run("lowercase scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/users/7", nil)
		req.Header.Set(echo.HeaderAuthorization, "bearer "+token)
		_, called, err := run(t, a.RequireAuth, req)
		require.NoError(t, err)
		assert.True(t, called)
	})

	t.Run("public paths skip", func(t *testing.T) {
		for _, path := range []string{"/auth/login", "/docs", "/docs/index.html"} {
			_, called, err := run(t, a.RequireAuth, httptest.NewRequest(http.MethodPost, path, nil))
			require.NoError(t, err, path)
			assert.True(t, called, path)
		}
	})

	cases := []struct {
		name   string
		header string
		msg    string
	}{
		{"missing header", "", "missing token"},
		{"wrong scheme", "Basic abc", "missing token"},
		{"empty bearer", "Bearer   ", "missing token"},
		{"garbage", "Bearer nope", "invalid token"},
		{"refresh token", "Bearer " + refreshTok, "invalid token"},
		{"revoked", "Bearer " + revokedTok, "token revoked"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/users/7", nil)
			if tc.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tc.header)
			}
			_, called, err := run(t, a.RequireAuth, req)
			assert.False(t, called)
			assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	now := time.Now()
	codec := newCodec(t, func() time.Time { return now })
	token, _, err := codec.IssueAccessToken(7, "a@x.com", models.RoleUser)
	require.NoError(t, err)
	now = now.Add(2 * time.Hour)

	a := NewAuthenticator(codec, revokedSet{}, NewPathSet())
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)

	_, called, err := run(t, a.RequireAuth, req)
	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
	assert.Contains(t, err.Error(), "token expired")
}

func TestRequireAuth_BlacklistErrorFailsClosed(t *testing.T) {
	codec := newCodec(t, nil)
	token, _, err := codec.IssueAccessToken(7, "a@x.com", models.RoleUser)
	require.NoError(t, err)

	a := NewAuthenticator(codec, brokenStore{}, NewPathSet())
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)

	_, called, err := run(t, a.RequireAuth, req)
	assert.False(t, called)
	assert.Error(t, err)
}

func TestRequireAuth_AllowRevokedPaths(t *testing.T) {
	codec := newCodec(t, nil)
	token, _, err := codec.IssueAccessToken(7, "a@x.com", models.RoleUser)
	require.NoError(t, err)

	a := NewAuthenticator(codec, revokedSet{token: true}, NewPathSet())
	a.AllowRevoked = NewPathSet("/auth/logout")

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	p, called, err := run(t, a.RequireAuth, req)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, uint(7), p.UserID)

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	_, called, err = run(t, a.RequireAuth, req)
	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))

	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer nope")
	_, called, err = run(t, a.RequireAuth, req)
	assert.False(t, called, "signature is still checked")
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
}

func TestAuthenticate(t *testing.T) {
	codec := newCodec(t, nil)
	token, _, err := codec.IssueAccessToken(7, "a@x.com", models.RoleAdmin)
	require.NoError(t, err)
	revokedTok, _, err := codec.IssueAccessToken(7, "a@x.com", models.RoleAdmin)
	require.NoError(t, err)
	a := NewAuthenticator(codec, revokedSet{revokedTok: true}, NewPathSet())
	a.AllowRevoked = NewPathSet("/auth/logout")

	p, err := a.Authenticate(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, p.Role)

	_, err = a.Authenticate(context.Background(), revokedTok)
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))

	_, err = a.Authenticate(context.Background(), "nope")
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))
}

func TestCookieBridge(t *testing.T) {
	read := func(req *http.Request) string {
		e := echo.New()
		c := e.NewContext(req, httptest.NewRecorder())
		var got string
		_ = CookieBridge(func(c echo.Context) error {
			got = c.Request().Header.Get(echo.HeaderAuthorization)
			return nil
		})(c)
		return got
	}

	web := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	web.Header.Set(HeaderClientType, "web")
	web.AddCookie(&http.Cookie{Name: CookieAccess, Value: "cookie-token"})
	assert.Equal(t, "Bearer cookie-token", read(web))

	api := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	api.AddCookie(&http.Cookie{Name: CookieAccess, Value: "cookie-token"})
	assert.Empty(t, read(api), "non-web clients never use cookies")

	explicit := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	explicit.Header.Set(HeaderClientType, "web")
	explicit.Header.Set(echo.HeaderAuthorization, "Bearer header-token")
	explicit.AddCookie(&http.Cookie{Name: CookieAccess, Value: "cookie-token"})
	assert.Equal(t, "Bearer header-token", read(explicit))
}

func TestRequireRole(t *testing.T) {
	mw := RequireRole(models.RoleAdmin)

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	_, called, err := run(t, mw, req)
	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, statusOf(t, err))

	req = httptest.NewRequest(http.MethodGet, "/users", nil)
	req = req.WithContext(access.WithPrincipal(req.Context(), access.Principal{UserID: 1, Role: models.RoleUser}))
	_, called, err = run(t, mw, req)
	assert.False(t, called)
	assert.ErrorIs(t, err, access.ErrAccessDenied)

	req = httptest.NewRequest(http.MethodGet, "/users", nil)
	req = req.WithContext(access.WithPrincipal(req.Context(), access.Principal{UserID: 1, Role: models.RoleAdmin}))
	_, called, err = run(t, mw, req)
	require.NoError(t, err)
	assert.True(t, called)
}
