package race

import (
	"net/http"

	"github.com/google/uuid"
)

const (
	ClientHeader = "X-Race-Client"
	ClientCookie = "lapsim_client"
	cookieMaxAge = 24 * 60 * 60
)

// clientID identifies the caller by header, then by cookie. Unknown callers
// get a new id which is handed out as cookie.
func clientID(w http.ResponseWriter, r *http.Request) string {
	if id := r.Header.Get(ClientHeader); id != "" {
		return id
	}
	if c, err := r.Cookie(ClientCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     ClientCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   cookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
