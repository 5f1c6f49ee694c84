package services

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/gallery/server/internal/config"
	"github.com/gallery/server/internal/models"
	"github.com/gallery/server/internal/observability"
	"github.com/gallery/server/internal/repository"
)

// AuthService handles OAuth login, browser sessions and the admin API key
type AuthService struct {
	sessions    repository.SessionRepo
	oauth       *oauth2.Config
	userInfoURL string
	sessionTTL  time.Duration
	apiKeyHash  []byte
	metrics     *observability.GalleryMetrics

	// digests of API keys that already passed bcrypt
	verifiedKeys sync.Map
}

// NewAuthService creates a new AuthService. OAuth stays disabled when no client id is configured.
func NewAuthService(sessions repository.SessionRepo, oauthCfg config.OAuth, security config.Security, session config.Session, metrics *observability.GalleryMetrics) *AuthService {
	s := &AuthService{
		sessions:    sessions,
		userInfoURL: oauthCfg.UserInfoURL,
		sessionTTL:  session.TTL(),
		metrics:     metrics,
	}
	if security.APIKeyHash != "" {
		s.apiKeyHash = []byte(security.APIKeyHash)
	}
	if oauthCfg.Enabled() {
		s.oauth = &oauth2.Config{
			ClientID:     oauthCfg.ClientID,
			ClientSecret: oauthCfg.ClientSecret,
			RedirectURL:  oauthCfg.RedirectURL,
			Scopes:       oauthCfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  oauthCfg.AuthURL,
				TokenURL: oauthCfg.TokenURL,
			},
		}
	}
	return s
}

// OAuthEnabled reports whether the login flow is available
func (s *AuthService) OAuthEnabled() bool {
	return s.oauth != nil
}

// LoginURL returns the provider URL the browser is redirected to
func (s *AuthService) LoginURL(state string) (string, error) {
	if s.oauth == nil {
		return "", models.ErrOAuthDisabled
	}
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// CompleteLogin exchanges the authorization code and opens a session
func (s *AuthService) CompleteLogin(ctx context.Context, code, ipAddress, userAgent string) (*models.Session, error) {
	if s.oauth == nil {
		return nil, models.ErrOAuthDisabled
	}

	token, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		s.metrics.RecordAuthAttempt(ctx, "oauth", false)
		observability.WithContext(ctx).Warnf("OAuth code exchange failed: %v", err)
		return nil, models.ErrUnauthorized
	}

	subject, err := s.fetchSubject(ctx, token)
	if err != nil {
		s.metrics.RecordAuthAttempt(ctx, "oauth", false)
		return nil, err
	}

	session := models.NewSession(subject, ipAddress, userAgent, s.sessionTTL)
	if err := s.sessions.Add(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s.metrics.RecordAuthAttempt(ctx, "oauth", true)
	observability.WithContext(ctx).WithField("subject", subject).Info("OAuth login completed")
	return session, nil
}

// fetchSubject identifies the user from the userinfo endpoint, falling back
// to the email claim returned alongside the token
func (s *AuthService) fetchSubject(ctx context.Context, token *oauth2.Token) (string, error) {
	if s.userInfoURL == "" {
		if email, ok := token.Extra("email").(string); ok && email != "" {
			return email, nil
		}
		return "oauth", nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userInfoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		observability.WithContext(ctx).Warnf("User info endpoint returned %d", resp.StatusCode)
		return "", models.ErrUnauthorized
	}

	var info struct {
		Sub   string `json:"sub"`
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("failed to decode user info: %w", err)
	}
	switch {
	case info.Email != "":
		return info.Email, nil
	case info.Sub != "":
		return info.Sub, nil
	default:
		return "", models.ErrUnauthorized
	}
}

// Authenticate resolves a session token. Expired sessions are removed.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, models.ErrUnauthorized
	}

	session, err := s.sessions.GetByID(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if session == nil {
		return nil, models.ErrUnauthorized
	}
	if session.IsExpired() {
		if err := s.sessions.Delete(ctx, session.ID); err != nil {
			observability.WithContext(ctx).Warnf("Failed to delete expired session: %v", err)
		}
		return nil, models.ErrUnauthorized
	}

	session.Touch()
	if err := s.sessions.UpdateActivity(ctx, session.ID, session.LastActivityAt); err != nil {
		observability.WithContext(ctx).Warnf("Failed to update session activity: %v", err)
	}
	return session, nil
}

// Logout deletes a session
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// VerifyAPIKey checks key against the configured bcrypt hash. Keys that
// matched once are remembered by digest so bcrypt runs once per key.
func (s *AuthService) VerifyAPIKey(ctx context.Context, key string) bool {
	if len(s.apiKeyHash) == 0 || key == "" {
		return false
	}

	digest := sha256.Sum256([]byte(key))
	if _, ok := s.verifiedKeys.Load(digest); ok {
		return true
	}

	ok := bcrypt.CompareHashAndPassword(s.apiKeyHash, []byte(key)) == nil
	s.metrics.RecordAuthAttempt(ctx, "api_key", ok)
	if ok {
		s.verifiedKeys.Store(digest, struct{}{})
	}
	return ok
}
