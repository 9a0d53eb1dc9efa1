package identity

import "net/http"

// Headers set by the authenticating edge in front of this service. Their
// values are trusted as-is; token verification is the edge's job.
const (
	HeaderPlayerID      = "X-Player-Id"
	HeaderPlayerEmail   = "X-Player-Email"
	HeaderEmailVerified = "X-Player-Email-Verified"
)

// Middleware extracts the caller's identity from the request headers and
// attaches it to the request context. Requests without an id pass through
// unauthenticated; handlers that need identity reject them.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderPlayerID)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		user := User{
			ID:            id,
			Email:         r.Header.Get(HeaderPlayerEmail),
			EmailVerified: r.Header.Get(HeaderEmailVerified) == "true",
		}
		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), user)))
	})
}
