package admin

import (
	"crypto/subtle"
	"net/http"

	zlog "github.com/rs/zerolog/log"
)

const (
	// AdminTokenHeader is the header name for admin authentication token.
	AdminTokenHeader = "X-Admin-Token"
)

// newAuthMiddleware creates a middleware that validates the admin token
// of every request.
func newAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(AdminTokenHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				zlog.Warn().Msgf("admin: unauthenticated request: method=%s path=%s remote=%s", r.Method, r.URL.Path, r.RemoteAddr)
				writeError(w, http.StatusUnauthorized, "unauthenticated")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
