package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/gallery/server/internal/models"
)

// SessionRepository implements SessionRepo for PostgreSQL/SQLite
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	query := `SELECT id, subject, created_at, expires_at, last_activity_at, ip_address, user_agent
			  FROM sessions WHERE id = $1`

	var session models.Session
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&session.ID, &session.Subject, &session.CreatedAt, &session.ExpiresAt,
		&session.LastActivityAt, &session.IPAddress, &session.UserAgent,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", classify(err))
	}
	return &session, nil
}

func (r *SessionRepository) Add(ctx context.Context, session *models.Session) error {
	query := `INSERT INTO sessions (id, subject, created_at, expires_at, last_activity_at, ip_address, user_agent)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		session.ID, session.Subject, session.CreatedAt, session.ExpiresAt,
		session.LastActivityAt, session.IPAddress, session.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("add session: %w", classify(err))
	}
	return nil
}

func (r *SessionRepository) UpdateActivity(ctx context.Context, id string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_activity_at = $1 WHERE id = $2`, at, id); err != nil {
		return fmt.Errorf("touch session: %w", classify(err))
	}
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete session: %w", classify(err))
	}
	return nil
}

// CleanupExpired removes expired sessions and returns how many were removed
func (r *SessionRepository) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", classify(err))
	}
	return result.RowsAffected()
}
