package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/vera/internal/blacklist"
	"github.com/Skotchmaster/vera/internal/hash"
	"github.com/Skotchmaster/vera/internal/logging"
	"github.com/Skotchmaster/vera/internal/middleware/auth"
	"github.com/Skotchmaster/vera/internal/middleware/csrf"
	"github.com/Skotchmaster/vera/internal/models"
	"github.com/Skotchmaster/vera/internal/mykafka"
	"github.com/Skotchmaster/vera/internal/repo"
	"github.com/Skotchmaster/vera/internal/repo/repotest"
	"github.com/Skotchmaster/vera/internal/service"
	"github.com/Skotchmaster/vera/internal/tokens"
)

type testServer struct {
	e    *echo.Echo
	repo *repo.GormRepo
	csrf *csrf.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	r := repotest.NewRepo(t)
	log := logging.Discard()

	h, err := hash.NewArgon2(hash.Config{MemoryKB: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	codec, err := tokens.NewCodec(tokens.Config{
		Secret:     []byte("test-jwt-secret"),
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	})
	require.NoError(t, err)
	bl := blacklist.New(r, log)

	users := &service.UserService{Users: r, Events: mykafka.Nop{}}
	authSvc := &service.AuthService{
		Users:     r,
		Resets:    r,
		Hasher:    h,
		Tokens:    codec,
		Blacklist: bl,
		Events:    mykafka.Nop{},
		ResetTTL:  15 * time.Minute,
	}

	store := csrf.NewMemoryStore(time.Hour)
	e := New(&Deps{
		Logger:    log,
		Auth:      &AuthHTTP{Svc: authSvc, Users: users},
		Users:     &UsersHTTP{Svc: users},
		Tokens:    codec,
		Blacklist: bl,
		CSRFStore: store,
	})
	return &testServer{e: e, repo: r, csrf: store}
}

type reply struct {
	code    int
	body    map[string]any
	header  http.Header
	cookies []*http.Cookie
}

func (s *testServer) do(t *testing.T, method, path string, body any, hdr map[string]string) reply {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)

	out := reply{code: rec.Code, header: rec.Header(), cookies: rec.Result().Cookies()}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out.body), rec.Body.String())
	}
	return out
}

func bearer(tok string) map[string]string {
	return map[string]string{echo.HeaderAuthorization: "Bearer " + tok}
}

func (r reply) data(t *testing.T) map[string]any {
	t.Helper()
	d, ok := r.body["data"].(map[string]any)
	require.True(t, ok, "data is not an object: %v", r.body)
	return d
}

func (r reply) message() string {
	s, _ := r.body["data"].(string)
	return s
}

func (s *testServer) register(t *testing.T, email string) (access string, id uint) {
	t.Helper()
	res := s.do(t, http.MethodPost, "/auth/register", map[string]string{
		"email": email, "password": "pw123456", "firstName": "Ada",
	}, nil)
	require.Equal(t, http.StatusCreated, res.code, res.body)
	d := res.data(t)
	user := d["user"].(map[string]any)
	return d["accessToken"].(string), uint(user["id"].(float64))
}

func (s *testServer) promote(t *testing.T, id uint) string {
	t.Helper()
	ctx := context.Background()
	u, err := s.repo.FindByID(ctx, id)
	require.NoError(t, err)
	u.Role = models.RoleAdmin
	require.NoError(t, s.repo.Save(ctx, u))

	res := s.do(t, http.MethodPost, "/auth/login", map[string]string{"email": u.Email, "password": "pw123456"}, nil)
	require.Equal(t, http.StatusOK, res.code)
	return res.data(t)["accessToken"].(string)
}

func TestEndToEnd_RegisterAccessLogout(t *testing.T) {
	s := newTestServer(t)

	res := s.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "a@x.com", "password": "pw123456"}, nil)
	require.Equal(t, http.StatusCreated, res.code)
	d := res.data(t)
	access := d["accessToken"].(string)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, d["refreshToken"])
	assert.Equal(t, "Bearer", d["tokenType"])
	assert.Empty(t, res.cookies, "api clients get no cookies")

	res = s.do(t, http.MethodGet, "/auth/me", nil, bearer(access))
	require.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, "a@x.com", res.data(t)["email"])

	res = s.do(t, http.MethodPost, "/auth/logout", nil, bearer(access))
	require.Equal(t, http.StatusOK, res.code)

	res = s.do(t, http.MethodGet, "/auth/me", nil, bearer(access))
	assert.Equal(t, http.StatusUnauthorized, res.code)
	assert.Equal(t, "token revoked", res.message())

	res = s.do(t, http.MethodPost, "/auth/logout", nil, bearer(access))
	assert.Equal(t, http.StatusOK, res.code, "logout is idempotent")
	assert.Equal(t, "logged out", res.message())

	res = s.do(t, http.MethodPost, "/auth/logout", nil, bearer("garbage"))
	assert.Equal(t, http.StatusUnauthorized, res.code, "only validly signed tokens reach logout")
}

func TestWebClient_ForgedBearerGetsNoCSRFToken(t *testing.T) {
	s := newTestServer(t)
	access, _ := s.register(t, "a@x.com")

	for i := 0; i < 20; i++ {
		res := s.do(t, http.MethodGet, "/auth/me", nil, map[string]string{
			auth.HeaderClientType:    "web",
			echo.HeaderAuthorization: "Bearer garbage-" + strconv.Itoa(i),
		})
		assert.Equal(t, http.StatusUnauthorized, res.code)
		assert.Empty(t, res.header.Get(csrf.HeaderName))
	}
	assert.Zero(t, s.csrf.Len())

	res := s.do(t, http.MethodPost, "/auth/logout", nil, bearer(access))
	require.Equal(t, http.StatusOK, res.code)
	res = s.do(t, http.MethodGet, "/auth/me", nil, map[string]string{
		auth.HeaderClientType:    "web",
		echo.HeaderAuthorization: "Bearer " + access,
	})
	assert.Equal(t, http.StatusUnauthorized, res.code)
	assert.Empty(t, res.header.Get(csrf.HeaderName), "revoked sessions get no token either")
	assert.Zero(t, s.csrf.Len())
}

func TestAuthEndpoints_Errors(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "a@x.com")

	res := s.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "a@x.com", "password": "pw123456"}, nil)
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Equal(t, service.ErrEmailTaken.Error(), res.message())

	res = s.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "not-an-email", "password": "short"}, nil)
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Contains(t, res.message(), "email: must be a valid email address")
	assert.Contains(t, res.message(), "password: must be at least 8 characters")

	wrong := s.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "a@x.com", "password": "bad-password"}, nil)
	unknown := s.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "b@x.com", "password": "bad-password"}, nil)
	assert.Equal(t, http.StatusUnauthorized, wrong.code)
	assert.Equal(t, wrong.code, unknown.code)
	assert.Equal(t, wrong.body, unknown.body, "wrong password and unknown email look the same")

	res = s.do(t, http.MethodGet, "/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.code)
	assert.Equal(t, "missing token", res.message())

	res = s.do(t, http.MethodGet, "/auth/me", nil, bearer("garbage"))
	assert.Equal(t, http.StatusUnauthorized, res.code)
	assert.Contains(t, res.message(), "invalid token")

	res = s.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": "garbage"}, nil)
	assert.Equal(t, http.StatusUnauthorized, res.code)

	res = s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.code)
	assert.Equal(t, "ok", res.message())
}

func TestRefresh(t *testing.T) {
	s := newTestServer(t)
	res := s.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "a@x.com", "password": "pw123456"}, nil)
	require.Equal(t, http.StatusCreated, res.code)
	refresh := res.data(t)["refreshToken"].(string)

	res = s.do(t, http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": refresh}, nil)
	require.Equal(t, http.StatusOK, res.code)
	d := res.data(t)
	assert.Equal(t, refresh, d["refreshToken"], "refresh tokens are reused")

	me := s.do(t, http.MethodGet, "/auth/me", nil, bearer(d["accessToken"].(string)))
	assert.Equal(t, http.StatusOK, me.code)
}

func TestWebClient_CookiesAndCSRF(t *testing.T) {
	s := newTestServer(t)
	web := map[string]string{auth.HeaderClientType: "web"}

	res := s.do(t, http.MethodPost, "/auth/register", map[string]string{"email": "a@x.com", "password": "pw123456"}, web)
	require.Equal(t, http.StatusCreated, res.code)

	cookies := map[string]*http.Cookie{}
	for _, c := range res.cookies {
		cookies[c.Name] = c
	}
	ac, rc := cookies[auth.CookieAccess], cookies[auth.CookieRefresh]
	require.NotNil(t, ac)
	require.NotNil(t, rc)
	for _, c := range []*http.Cookie{ac, rc} {
		assert.True(t, c.HttpOnly)
		assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
		assert.Equal(t, "/", c.Path)
	}
	assert.InDelta(t, time.Hour.Seconds(), ac.MaxAge, 5)
	assert.InDelta(t, (24 * time.Hour).Seconds(), rc.MaxAge, 5)

	withCookie := map[string]string{auth.HeaderClientType: "web", "Cookie": auth.CookieAccess + "=" + ac.Value}

	get := s.do(t, http.MethodGet, "/auth/me", nil, withCookie)
	require.Equal(t, http.StatusOK, get.code)
	csrfToken := get.header.Get(csrf.HeaderName)
	require.NotEmpty(t, csrfToken)

	res = s.do(t, http.MethodPut, "/users/1", map[string]string{"firstName": "Grace"}, withCookie)
	assert.Equal(t, http.StatusForbidden, res.code, "missing csrf token")

	stale := map[string]string{auth.HeaderClientType: "web", "Cookie": withCookie["Cookie"], csrf.HeaderName: "stale"}
	res = s.do(t, http.MethodPut, "/users/1", map[string]string{"firstName": "Grace"}, stale)
	assert.Equal(t, http.StatusForbidden, res.code)

	good := map[string]string{auth.HeaderClientType: "web", "Cookie": withCookie["Cookie"], csrf.HeaderName: csrfToken}
	res = s.do(t, http.MethodPut, "/users/1", map[string]string{"firstName": "Grace"}, good)
	require.Equal(t, http.StatusOK, res.code, res.body)
	assert.Equal(t, "Grace", res.data(t)["firstName"])

	res = s.do(t, http.MethodPut, "/users/1", map[string]string{"firstName": "Api"}, bearer(ac.Value))
	assert.Equal(t, http.StatusOK, res.code, "api clients skip csrf")

	res = s.do(t, http.MethodPost, "/auth/logout", nil, good)
	require.Equal(t, http.StatusOK, res.code)
	for _, c := range res.cookies {
		assert.Equal(t, -1, c.MaxAge, c.Name)
	}
}

func TestOwnershipAndEscalation(t *testing.T) {
	s := newTestServer(t)
	aTok, aID := s.register(t, "a@x.com")
	_, bID := s.register(t, "b@x.com")
	_, adminID := s.register(t, "root@x.com")
	adminTok := s.promote(t, adminID)

	res := s.do(t, http.MethodGet, "/users/"+strconv.Itoa(int(bID)), nil, bearer(aTok))
	assert.Equal(t, http.StatusForbidden, res.code)

	res = s.do(t, http.MethodGet, "/users/"+strconv.Itoa(int(bID)), nil, bearer(adminTok))
	assert.Equal(t, http.StatusOK, res.code)

	res = s.do(t, http.MethodGet, "/users/email/b@x.com", nil, bearer(aTok))
	assert.Equal(t, http.StatusForbidden, res.code)

	res = s.do(t, http.MethodGet, "/users/email/a@x.com", nil, bearer(aTok))
	assert.Equal(t, http.StatusOK, res.code)

	res = s.do(t, http.MethodPut, "/users/"+strconv.Itoa(int(aID)), map[string]any{"isAdmin": true}, bearer(aTok))
	assert.Equal(t, http.StatusForbidden, res.code)

	res = s.do(t, http.MethodGet, "/users", nil, bearer(aTok))
	assert.Equal(t, http.StatusForbidden, res.code)
	assert.Contains(t, res.message(), "requires role ADMIN")
	assert.Contains(t, res.message(), "caller has USER")

	res = s.do(t, http.MethodGet, "/users?page=1&size=2", nil, bearer(adminTok))
	require.Equal(t, http.StatusOK, res.code)
	meta := res.body["meta"].(map[string]any)
	assert.EqualValues(t, 3, meta["total"])
	assert.EqualValues(t, 2, meta["size"])
	assert.Len(t, res.body["data"], 2)

	res = s.do(t, http.MethodDelete, "/users/"+strconv.Itoa(int(bID)), nil, bearer(aTok))
	assert.Equal(t, http.StatusForbidden, res.code)

	res = s.do(t, http.MethodDelete, "/users/"+strconv.Itoa(int(bID)), nil, bearer(adminTok))
	require.Equal(t, http.StatusOK, res.code)

	res = s.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "b@x.com", "password": "pw123456"}, nil)
	assert.Equal(t, http.StatusUnauthorized, res.code, "disabled accounts cannot log in")

	res = s.do(t, http.MethodGet, "/users/9999", nil, bearer(adminTok))
	assert.Equal(t, http.StatusNotFound, res.code)
}

func TestPasswordResetFlow(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "a@x.com")

	res := s.do(t, http.MethodPost, "/auth/forgot", map[string]string{"email": "nobody@x.com"}, nil)
	assert.Equal(t, http.StatusOK, res.code)

	res = s.do(t, http.MethodPost, "/auth/reset", map[string]string{
		"email": "a@x.com", "newPassword": "new-password", "resetToken": "made-up",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, res.code)

	res = s.do(t, http.MethodPost, "/auth/reset", map[string]string{"email": "a@x.com", "newPassword": "new-password"}, nil)
	assert.Equal(t, http.StatusBadRequest, res.code)
	assert.Contains(t, res.message(), "resetToken: is required")
}
