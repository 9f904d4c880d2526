package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"queuejoy/internal/store"
)

type sessionContextKey struct{}

// AuthMiddleware guards counter mutations behind an operator session. Read
// endpoints, customer flows, and the Telegram endpoints stay public.
func AuthMiddleware(st store.Store, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := sessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, err := st.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func isPublicEndpoint(r *http.Request) bool {
	switch {
	case r.URL.Path == "/healthz" || r.URL.Path == "/metrics":
		return true
	case r.URL.Path == "/api/auth/login":
		return true
	case r.URL.Path == "/api/telegram/send" || r.URL.Path == "/api/telegram/webhook":
		return true
	case r.URL.Path == "/api/counters":
		return r.Method == http.MethodGet
	case r.URL.Path == "/api/queue" || strings.HasPrefix(r.URL.Path, "/api/queue/"):
		return true
	case strings.HasPrefix(r.URL.Path, "/realtime"):
		return true
	default:
		return r.Method == http.MethodOptions
	}
}

func sessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Session-ID"))
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
