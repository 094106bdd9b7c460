package csrf

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/vera/internal/access"
	"github.com/Skotchmaster/vera/internal/logging"
	"github.com/Skotchmaster/vera/internal/middleware/auth"
)

const HeaderName = "X-CSRF-Token"

var ErrMismatch = errors.New("invalid CSRF token")

// Store keeps the current CSRF token per session key.
type Store interface {
	Put(ctx context.Context, sessionKey, token string) error
	Get(ctx context.Context, sessionKey string) (string, bool, error)
}

// Sessions confirms that a bearer token belongs to a live session.
type Sessions interface {
	Authenticate(ctx context.Context, bearer string) (access.Principal, error)
}

type Config struct {
	HeaderName string
	TokenBytes int
	// Skip lists paths that never need a token (login, health and the like).
	Skip auth.PathSet

	// EnforceSameOrigin makes unsafe requests carry an Origin or Referer that
	// matches the request host or one of TrustedOrigins.
	EnforceSameOrigin bool
	TrustedOrigins    []string
}

func DefaultConfig() Config {
	return Config{
		HeaderName: HeaderName,
		TokenBytes: 32,
	}
}

// Middleware is the double-submit guard for web clients. Safe requests with a
// live session get a fresh token in the response header; unsafe ones must echo
// the stored token. API clients are not checked at all.
func Middleware(store Store, sessions Sessions, cfg Config) echo.MiddlewareFunc {
	if store == nil || sessions == nil {
		panic("csrf: store and sessions are required")
	}
	def := DefaultConfig()
	if cfg.HeaderName == "" {
		cfg.HeaderName = def.HeaderName
	}
	if cfg.TokenBytes == 0 {
		cfg.TokenBytes = def.TokenBytes
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !auth.IsWebClient(req) || cfg.Skip.Match(req.URL.Path) {
				return next(c)
			}
			ctx := req.Context()
			bearer, hasSession := auth.BearerToken(req)

			if isSafe(req.Method) {
				if !hasSession {
					return next(c)
				}
				p, err := sessions.Authenticate(ctx, bearer)
				if err != nil {
					// Rejected later by the authentication filter; nothing is stored.
					return next(c)
				}
				auth.Attach(c, p)

				token, err := newToken(cfg.TokenBytes)
				if err != nil {
					return err
				}
				if err := store.Put(ctx, SessionKey(bearer), token); err != nil {
					return err
				}
				c.Response().Header().Set(cfg.HeaderName, token)
				return next(c)
			}

			l := logging.FromContext(ctx)
			if cfg.EnforceSameOrigin && !sameOrigin(req, cfg.TrustedOrigins) {
				l.Warn("csrf_rejected", "reason", "origin")
				return echo.NewHTTPError(http.StatusForbidden, "invalid origin").SetInternal(ErrMismatch)
			}
			if !hasSession {
				l.Warn("csrf_rejected", "reason", "no session")
				return forbidden()
			}
			stored, ok, err := store.Get(ctx, SessionKey(bearer))
			if err != nil {
				return err
			}
			if !ok {
				l.Warn("csrf_rejected", "reason", "no token issued")
				return forbidden()
			}
			if !secureCompare(stored, req.Header.Get(cfg.HeaderName)) {
				l.Warn("csrf_rejected", "reason", "mismatch")
				return forbidden()
			}
			return next(c)
		}
	}
}

// SessionKey identifies a session by the hex SHA-256 of its bearer token.
func SessionKey(bearer string) string {
	sum := sha256.Sum256([]byte(bearer))
	return hex.EncodeToString(sum[:])
}

func isSafe(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func forbidden() error {
	return echo.NewHTTPError(http.StatusForbidden, ErrMismatch.Error()).SetInternal(ErrMismatch)
}

func newToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func sameOrigin(r *http.Request, trusted []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = r.Header.Get("Referer")
	}
	u, err := url.Parse(origin)
	if origin == "" || err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Scheme, schemeOf(r)) && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, t := range trusted {
		if strings.EqualFold(strings.TrimSuffix(t, "/"), u.Scheme+"://"+u.Host) {
			return true
		}
	}
	return false
}

func schemeOf(r *http.Request) string {
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		return p
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

func secureCompare(a, b string) bool {
	if a == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
