package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	eduauth "github.com/saleemjadallah/eduk6-backend-sub000"
)

type authResultContextKey struct{}

func AuthResultFromContext(ctx context.Context) (*eduauth.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*eduauth.AuthResult)
	return res, ok
}

func Guard(gateway *eduauth.Gateway) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if gateway == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			res, err := gateway.Validate(r.Context(), token)
			if err != nil {
				if errors.Is(err, eduauth.ErrStoreUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
