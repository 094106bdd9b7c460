package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/vera/internal/access"
	"github.com/Skotchmaster/vera/internal/logging"
	"github.com/Skotchmaster/vera/internal/tokens"
)

const (
	HeaderClientType = "X-Client-Type"
	ClientWeb        = "web"

	CookieAccess  = "auth_token"
	CookieRefresh = "refresh_token"
)

type AccessValidator interface {
	ValidateAccess(raw string) (*tokens.AccessClaims, error)
}

type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// Authenticator turns a bearer token into an access.Principal on the request context.
type Authenticator struct {
	Tokens    AccessValidator
	Blacklist RevocationChecker
	Public    PathSet
	// AllowRevoked lists paths that accept a revoked but otherwise valid token,
	// so a repeated logout still succeeds.
	AllowRevoked PathSet
}

func NewAuthenticator(v AccessValidator, bl RevocationChecker, public PathSet) *Authenticator {
	return &Authenticator{Tokens: v, Blacklist: bl, Public: public}
}

func (a *Authenticator) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		if req.Method == http.MethodOptions || a.Public.Match(req.URL.Path) {
			return next(c)
		}
		// The CSRF guard may already have authenticated this request.
		if _, ok := access.FromContext(req.Context()); ok {
			return next(c)
		}

		raw, ok := BearerToken(req)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
		}

		p, err := a.authenticate(req.Context(), raw, a.AllowRevoked.Match(req.URL.Path))
		if err != nil {
			return err
		}
		Attach(c, p)
		return next(c)
	}
}

// Authenticate checks signature, expiry and revocation of a bearer token.
func (a *Authenticator) Authenticate(ctx context.Context, raw string) (access.Principal, error) {
	return a.authenticate(ctx, raw, false)
}

func (a *Authenticator) authenticate(ctx context.Context, raw string, allowRevoked bool) (access.Principal, error) {
	claims, err := a.Tokens.ValidateAccess(raw)
	if err != nil {
		msg := "invalid token"
		if errors.Is(err, tokens.ErrExpired) {
			msg = "token expired"
		}
		return access.Principal{}, echo.NewHTTPError(http.StatusUnauthorized, msg+": "+err.Error())
	}

	if !allowRevoked {
		revoked, err := a.Blacklist.IsRevoked(ctx, raw)
		if err != nil {
			return access.Principal{}, err
		}
		if revoked {
			return access.Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "token revoked")
		}
	}
	return access.Principal{UserID: claims.UserID, Email: claims.Email(), Role: claims.Role}, nil
}

// Attach stores the principal and a user-tagged logger on the request context.
func Attach(c echo.Context, p access.Principal) {
	req := c.Request()
	ctx := access.WithPrincipal(req.Context(), p)
	ctx = logging.IntoContext(ctx, logging.FromContext(ctx).With("user_id", p.UserID))
	c.SetRequest(req.WithContext(ctx))
}

// RequireRole must run after RequireAuth.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, ok := access.FromContext(c.Request().Context())
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
			}
			if err := access.RequireRole(p, roles...); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get(echo.HeaderAuthorization)
	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	tok := strings.TrimSpace(parts[1])
	return tok, tok != ""
}

func IsWebClient(r *http.Request) bool {
	return strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderClientType)), ClientWeb)
}

// CookieBridge copies the auth_token cookie into the Authorization header for
// web clients that did not send one, so RequireAuth only ever sees bearer tokens.
func CookieBridge(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		if req.Header.Get(echo.HeaderAuthorization) == "" && IsWebClient(req) {
			if ck, err := req.Cookie(CookieAccess); err == nil && ck.Value != "" {
				req.Header.Set(echo.HeaderAuthorization, "Bearer "+ck.Value)
			}
		}
		return next(c)
	}
}

// PathSet is a route allow-list: exact paths plus prefixes ending in "/".
type PathSet struct {
	exact    map[string]struct{}
	prefixes []string
}

func NewPathSet(paths ...string) PathSet {
	s := PathSet{exact: make(map[string]struct{}, len(paths))}
	for _, p := range paths {
		if strings.HasSuffix(p, "/") {
			s.prefixes = append(s.prefixes, p)
			s.exact[strings.TrimSuffix(p, "/")] = struct{}{}
			continue
		}
		s.exact[p] = struct{}{}
	}
	return s
}

func (s PathSet) Match(path string) bool {
	if _, ok := s.exact[path]; ok {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
