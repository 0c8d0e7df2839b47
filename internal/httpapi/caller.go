package httpapi

import (
	"net/http"
	"strings"

	"qms/dispatch-service/internal/dispatch"
)

// CallerMiddleware attaches the caller identity to the request context.
// The identity is opaque; verifying it is left to whatever sits in front
// of this service.
func CallerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := callerFromRequest(r)
		if caller == "" {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(dispatch.WithCaller(r.Context(), caller)))
	})
}

func callerFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Caller-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
