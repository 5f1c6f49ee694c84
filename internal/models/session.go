package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is an authenticated browser session created after an OAuth login
type Session struct {
	ID             string    `json:"id"` // This is the session token
	Subject        string    `json:"subject"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	IPAddress      string    `json:"ipAddress,omitempty"`
	UserAgent      string    `json:"userAgent,omitempty"`
}

// NewSession creates a session that expires after ttl
func NewSession(subject, ipAddress, userAgent string, ttl time.Duration) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:             uuid.New().String(),
		Subject:        subject,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
		LastActivityAt: now,
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
	}
}

// IsExpired checks if the session has expired
func (s *Session) IsExpired() bool {
	return time.Now().UTC().After(s.ExpiresAt)
}

// Touch updates the last activity timestamp
func (s *Session) Touch() {
	s.LastActivityAt = time.Now().UTC()
}
