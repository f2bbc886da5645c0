package adminsession

import (
	"net/http"
	"strings"
)

// CookieName is the canonical admin session cookie name.
const CookieName = "admin_session"

// cookieMaxAge matches SessionTTL in seconds so the browser drops the cookie
// when the token inside it expires.
const cookieMaxAge = 86400

// ReadCookie returns the trimmed session token when present.
func ReadCookie(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie == nil {
		return "", false
	}
	value := strings.TrimSpace(cookie.Value)
	if value == "" {
		return "", false
	}
	return value, true
}

// WriteCookie sets the admin session cookie for the current response.
func WriteCookie(w http.ResponseWriter, token string) {
	if w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    strings.TrimSpace(token),
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   cookieMaxAge,
	})
}

// ClearCookie expires the admin session cookie. The token itself remains
// valid until its embedded expiry; only secret rotation revokes it earlier.
func ClearCookie(w http.ResponseWriter) {
	if w == nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}
