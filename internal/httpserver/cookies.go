package httpserver

import (
	"net/http"
	"time"

	"github.com/Skotchmaster/vera/internal/middleware/auth"
)

func sessionCookie(name, value string, ttl time.Duration, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func deleteCookie(name string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func accessCookie(value string, ttl time.Duration, secure bool) *http.Cookie {
	return sessionCookie(auth.CookieAccess, value, ttl, secure)
}

func refreshCookie(value string, ttl time.Duration, secure bool) *http.Cookie {
	return sessionCookie(auth.CookieRefresh, value, ttl, secure)
}
