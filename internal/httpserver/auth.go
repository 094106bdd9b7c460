package httpserver

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/vera/internal/access"
	"github.com/Skotchmaster/vera/internal/logging"
	"github.com/Skotchmaster/vera/internal/middleware/auth"
	"github.com/Skotchmaster/vera/internal/models"
	"github.com/Skotchmaster/vera/internal/service"
)

type AuthHTTP struct {
	Svc          *service.AuthService
	Users        *service.UserService
	CookieSecure bool
}

type loginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type registerRequest struct {
	Email     string `json:"email" validate:"required,email,max=320"`
	FirstName string `json:"firstName" validate:"max=100"`
	LastName  string `json:"lastName" validate:"max=100"`
	Password  string `json:"password" validate:"required,min=8,max=128"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type forgotRequest struct {
	Email string `json:"email" validate:"required"`
}

type resetRequest struct {
	Email       string `json:"email" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8,max=128"`
	ResetToken  string `json:"resetToken" validate:"required"`
}

type sessionResponse struct {
	AccessToken           string         `json:"accessToken"`
	RefreshToken          string         `json:"refreshToken"`
	TokenType             string         `json:"tokenType"`
	AccessTokenExpiresAt  time.Time      `json:"accessTokenExpiresAt"`
	RefreshTokenExpiresAt time.Time      `json:"refreshTokenExpiresAt"`
	User                  models.Profile `json:"user"`
}

func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	return c.Validate(req)
}

func (h *AuthHTTP) Login(c echo.Context) error {
	var req loginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	sess, err := h.Svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return h.deliver(c, http.StatusOK, sess)
}

func (h *AuthHTTP) Register(c echo.Context) error {
	var req registerRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	sess, err := h.Svc.Register(c.Request().Context(), service.RegisterInput{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		return err
	}
	return h.deliver(c, http.StatusCreated, sess)
}

// Refresh reads the refresh token from the body, or from the cookie for web clients.
func (h *AuthHTTP) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.RefreshToken == "" && auth.IsWebClient(c.Request()) {
		if ck, err := c.Cookie(auth.CookieRefresh); err == nil {
			req.RefreshToken = ck.Value
		}
	}
	if req.RefreshToken == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing refresh token")
	}

	sess, err := h.Svc.Refresh(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return h.deliver(c, http.StatusOK, sess)
}

func (h *AuthHTTP) Logout(c echo.Context) error {
	token, _ := auth.BearerToken(c.Request())
	h.Svc.Logout(c.Request().Context(), token)

	if auth.IsWebClient(c.Request()) {
		c.SetCookie(deleteCookie(auth.CookieAccess, h.CookieSecure))
		c.SetCookie(deleteCookie(auth.CookieRefresh, h.CookieSecure))
	}
	return respond(c, http.StatusOK, "logged out")
}

func (h *AuthHTTP) ForgotPassword(c echo.Context) error {
	var req forgotRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.Svc.ForgotPassword(c.Request().Context(), req.Email); err != nil {
		return err
	}
	return respond(c, http.StatusOK, "if the account exists, a reset link has been sent")
}

func (h *AuthHTTP) ResetPassword(c echo.Context) error {
	var req resetRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if err := h.Svc.ResetPassword(c.Request().Context(), req.Email, req.NewPassword, req.ResetToken); err != nil {
		return err
	}
	return respond(c, http.StatusOK, "password updated")
}

func (h *AuthHTTP) Me(c echo.Context) error {
	p, ok := access.FromContext(c.Request().Context())
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}
	u, err := h.Users.Get(c.Request().Context(), p, p.UserID)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, u.Profile())
}

func (h *AuthHTTP) deliver(c echo.Context, status int, sess *service.Session) error {
	if auth.IsWebClient(c.Request()) {
		now := time.Now()
		c.SetCookie(accessCookie(sess.AccessToken, sess.AccessExp.Sub(now), h.CookieSecure))
		c.SetCookie(refreshCookie(sess.RefreshToken, sess.RefreshExp.Sub(now), h.CookieSecure))
	}
	logging.FromContext(c.Request().Context()).Debug("session_delivered", "user_id", sess.User.ID, "status", status)

	return respond(c, status, sessionResponse{
		AccessToken:           sess.AccessToken,
		RefreshToken:          sess.RefreshToken,
		TokenType:             "Bearer",
		AccessTokenExpiresAt:  sess.AccessExp,
		RefreshTokenExpiresAt: sess.RefreshExp,
		User:                  sess.User,
	})
}
