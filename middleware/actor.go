package middleware

import "net/http"

// RequireActor returns middleware that rejects validated requests whose
// access token was issued for a different actor type. It must run inside
// [Guard], which populates the request context.
func RequireActor(actorType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok || res.ActorType != actorType {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole returns middleware that rejects validated requests whose
// access token does not carry the given role. It must run inside [Guard].
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, ok := AuthResultFromContext(r.Context())
			if !ok || res.Role != role {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
