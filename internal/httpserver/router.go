package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	ecM "github.com/labstack/echo/v4/middleware"

	"github.com/Skotchmaster/vera/internal/middleware/auth"
	"github.com/Skotchmaster/vera/internal/middleware/csrf"
	loggingmw "github.com/Skotchmaster/vera/internal/middleware/logging"
	"github.com/Skotchmaster/vera/internal/models"
)

// PublicPaths never require a bearer token. A trailing slash marks a prefix.
var PublicPaths = []string{
	"/auth/login",
	"/auth/register",
	"/auth/refresh",
	"/auth/forgot",
	"/auth/reset",
	"/health",
	"/docs/",
}

type Deps struct {
	Logger      *slog.Logger
	Auth        *AuthHTTP
	Users       *UsersHTTP
	Tokens      auth.AccessValidator
	Blacklist   auth.RevocationChecker
	CSRFStore   csrf.Store
	CORSOrigins []string
	// CSRFEnforceOrigin turns on the Origin/Referer check for unsafe web requests.
	CSRFEnforceOrigin bool
}

// New builds the echo instance with the full middleware chain:
// request logging, recovery, CORS, cookie bridge, CSRF guard, authentication.
func New(d *Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = &Validator{}
	e.HTTPErrorHandler = ErrorHandler(d.Logger)

	public := auth.NewPathSet(PublicPaths...)
	authn := auth.NewAuthenticator(d.Tokens, d.Blacklist, public)
	authn.AllowRevoked = auth.NewPathSet("/auth/logout")
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	e.Pre(ecM.RemoveTrailingSlash())
	e.Use(
		ecM.RequestID(),
		loggingmw.RequestLogger(d.Logger),
		ecM.Recover(),
		ecM.CORSWithConfig(ecM.CORSConfig{
			AllowOrigins:     origins,
			AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType, auth.HeaderClientType, csrf.HeaderName},
			ExposeHeaders:    []string{csrf.HeaderName},
			AllowCredentials: len(d.CORSOrigins) > 0,
		}),
		auth.CookieBridge,
		csrf.Middleware(d.CSRFStore, authn, csrf.Config{
			Skip:              public,
			EnforceSameOrigin: d.CSRFEnforceOrigin,
			TrustedOrigins:    d.CORSOrigins,
		}),
		authn.RequireAuth,
	)

	Register(e, d)
	return e
}

func Register(e *echo.Echo, d *Deps) {
	e.GET("/health", func(c echo.Context) error { return respond(c, http.StatusOK, "ok") })

	a := e.Group("/auth")
	a.POST("/login", d.Auth.Login)
	a.POST("/register", d.Auth.Register)
	a.POST("/refresh", d.Auth.Refresh)
	a.POST("/forgot", d.Auth.ForgotPassword)
	a.POST("/reset", d.Auth.ResetPassword)
	a.POST("/logout", d.Auth.Logout)
	a.GET("/me", d.Auth.Me)

	u := e.Group("/users")
	u.GET("", d.Users.List, auth.RequireRole(models.RoleAdmin))
	u.GET("/:id", d.Users.Get)
	u.GET("/email/:email", d.Users.GetByEmail)
	u.PUT("/:id", d.Users.Update)
	u.DELETE("/:id", d.Users.Disable, auth.RequireRole(models.RoleAdmin))
}
