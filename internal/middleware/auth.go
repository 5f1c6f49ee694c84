package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gallery/server/internal/models"
	"github.com/gallery/server/internal/observability"
)

type contextKey string

const (
	PrincipalContextKey contextKey = "principal"
	SessionContextKey   contextKey = "session"
)

// Auth methods recorded on a Principal
const (
	MethodSession = "session"
	MethodAPIKey  = "api_key"
)

// Principal identifies who made an authenticated request
type Principal struct {
	Subject string
	Method  string
}

// Authenticator resolves session tokens and API keys
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Session, error)
	VerifyAPIKey(ctx context.Context, key string) bool
}

// GetPrincipalFromContext retrieves the authenticated caller from request context
func GetPrincipalFromContext(ctx context.Context) *Principal {
	if p, ok := ctx.Value(PrincipalContextKey).(*Principal); ok {
		return p
	}
	return nil
}

// GetSessionFromContext retrieves the browser session from request context
func GetSessionFromContext(ctx context.Context) *models.Session {
	if session, ok := ctx.Value(SessionContextKey).(*models.Session); ok {
		return session
	}
	return nil
}

// RequireAuth accepts either a valid API key in headerName or a session cookie.
// The API key is checked first so scripted clients never touch the session store.
func RequireAuth(auth Authenticator, headerName, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get(headerName); key != "" {
				if !auth.VerifyAPIKey(r.Context(), key) {
					unauthorized(w, "Invalid API key.")
					return
				}
				ctx := context.WithValue(r.Context(), PrincipalContextKey, &Principal{Subject: "api-key", Method: MethodAPIKey})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" {
				unauthorized(w, "Authentication required.")
				return
			}

			session, err := auth.Authenticate(r.Context(), cookie.Value)
			if err != nil {
				if errors.Is(err, models.ErrUnauthorized) {
					unauthorized(w, "Session expired or invalid.")
					return
				}
				observability.WithContext(r.Context()).Errorf("Session lookup failed: %v", err)
				writeJSONError(w, http.StatusServiceUnavailable, models.ErrorResponse{
					Error:     "store_unavailable",
					Message:   "Session store unavailable.",
					Retryable: true,
				})
				return
			}

			ctx := context.WithValue(r.Context(), SessionContextKey, session)
			ctx = context.WithValue(ctx, PrincipalContextKey, &Principal{Subject: session.Subject, Method: MethodSession})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// OptionalSession attaches the session when a valid cookie is present and
// never rejects the request
func OptionalSession(auth Authenticator, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}
			session, err := auth.Authenticate(r.Context(), cookie.Value)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), SessionContextKey, session)
			ctx = context.WithValue(ctx, PrincipalContextKey, &Principal{Subject: session.Subject, Method: MethodSession})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	writeJSONError(w, http.StatusUnauthorized, models.ErrorResponse{
		Error:   "unauthorized",
		Message: message,
	})
}

func writeJSONError(w http.ResponseWriter, status int, body models.ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
