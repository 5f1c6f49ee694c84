package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gallery/server/internal/config"
	"github.com/gallery/server/internal/middleware"
	"github.com/gallery/server/internal/models"
	"github.com/gallery/server/internal/services"
)

const stateCookieName = "gallery_oauth_state"

// AuthHandler handles the OAuth login flow and browser sessions
type AuthHandler struct {
	auth    *services.AuthService
	session config.Session
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(auth *services.AuthService, session config.Session) *AuthHandler {
	return &AuthHandler{auth: auth, session: session}
}

// MeResponse describes the caller of an authenticated request
type MeResponse struct {
	Subject   string     `json:"subject"`
	Method    string     `json:"method"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Login redirects the browser to the OAuth provider
// @Summary Start OAuth login
// @Tags auth
// @Success 302
// @Failure 404 {object} models.ErrorResponse "OAuth not configured"
// @Router /auth/login [get]
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state := uuid.New().String()
	target, err := h.auth.LoginURL(state)
	if err != nil {
		respondError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth",
		HttpOnly: true,
		Secure:   h.session.SecureCookie || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   10 * 60,
	})
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback completes the OAuth login and opens a session
// @Summary OAuth callback
// @Tags auth
// @Param code query string true "Authorization code"
// @Param state query string true "State issued by /auth/login"
// @Success 302
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/callback [get]
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(stateCookieName)
	state := r.URL.Query().Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(state)) != 1 {
		respondError(w, r, models.ErrInvalidState)
		return
	}
	clearCookie(w, stateCookieName, "/auth")

	code := r.URL.Query().Get("code")
	if code == "" {
		respondError(w, r, models.ErrUnauthorized)
		return
	}

	session, err := h.auth.CompleteLogin(r.Context(), code, getClientIP(r), r.UserAgent())
	if err != nil {
		respondError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.session.CookieName,
		Value:    session.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.session.SecureCookie || r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		Expires:  session.ExpiresAt,
	})
	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout ends the current session
// @Summary Log out
// @Tags auth
// @Success 204
// @Router /auth/logout [post]
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.session.CookieName); err == nil && cookie.Value != "" {
		if err := h.auth.Logout(r.Context(), cookie.Value); err != nil {
			respondError(w, r, err)
			return
		}
	}
	clearCookie(w, h.session.CookieName, "/")
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the authenticated caller
// @Summary Current caller
// @Tags auth
// @Produce json
// @Success 200 {object} handlers.MeResponse
// @Failure 401 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/me [get]
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetPrincipalFromContext(r.Context())
	if principal == nil {
		respondError(w, r, models.ErrUnauthorized)
		return
	}

	resp := MeResponse{Subject: principal.Subject, Method: principal.Method}
	if session := middleware.GetSessionFromContext(r.Context()); session != nil {
		resp.ExpiresAt = &session.ExpiresAt
	}
	respondJSON(w, http.StatusOK, resp)
}

func clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		HttpOnly: true,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if idx := strings.LastIndex(r.RemoteAddr, ":"); idx != -1 {
		return r.RemoteAddr[:idx]
	}
	return r.RemoteAddr
}
