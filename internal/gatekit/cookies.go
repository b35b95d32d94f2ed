package gatekit

import (
	"net/http"
	"time"
)

// secureCookiePrefix is applied to the session cookie name when the cookie
// is marked Secure, per the __Secure- prefix convention.
const secureCookiePrefix = "__Secure-"

// CookieSettings describe the session transport cookie.
type CookieSettings struct {
	// Name is the base cookie name; the __Secure- prefix is added when Secure.
	Name   string
	Domain string
	Secure bool
	MaxAge time.Duration
}

// ResolvedName returns the cookie name as written to the wire.
func (settings CookieSettings) ResolvedName() string {
	if settings.Secure {
		return secureCookiePrefix + settings.Name
	}
	return settings.Name
}

// WriteSessionCookie sets the session cookie with the configured lifetime.
func WriteSessionCookie(writer http.ResponseWriter, settings CookieSettings, value string) {
	http.SetCookie(writer, &http.Cookie{
		Name:     settings.ResolvedName(),
		Value:    value,
		Path:     "/",
		Domain:   settings.Domain,
		MaxAge:   int(settings.MaxAge / time.Second),
		Secure:   settings.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie expires the session cookie immediately.
func ClearSessionCookie(writer http.ResponseWriter, settings CookieSettings) {
	http.SetCookie(writer, &http.Cookie{
		Name:     settings.ResolvedName(),
		Value:    "",
		Path:     "/",
		Domain:   settings.Domain,
		MaxAge:   -1,
		Secure:   settings.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}
