package repository

import (
	"context"
	"database/sql"

	"github.com/gallery/server/internal/observability"
)

// Store is everything the services need from persistence: autocommit
// repositories, the session store and a transaction manager sharing one backend
type Store struct {
	Repositories
	Sessions SessionRepo
	Tx       TxManager
	Backend  string

	ping  func(ctx context.Context) error
	close func() error
}

// NewSQLStore wraps an open database. Use NewSQLiteDB or NewPostgresDB to open one.
// Autocommit access is traced; transactions are traced by the services.
func NewSQLStore(db *sql.DB, dialect Dialect) *Store {
	var conn DBTX = db
	system := "sqlite"
	if dialect == DialectPostgres {
		system = "postgresql"
	}
	if traced, err := observability.NewTraceDB(db, system); err == nil {
		conn = traced
	} else {
		observability.Warnf("Database tracing disabled: %v", err)
	}

	return &Store{
		Repositories: bindRepositories(conn, dialect),
		Sessions:     NewSessionRepository(conn),
		Tx:           NewSQLTxManager(db, dialect),
		Backend:      dialect.String(),
		ping:         db.PingContext,
		close:        db.Close,
	}
}

// OpenSQLite opens (creating if needed) a SQLite database file
func OpenSQLite(path string) (*Store, error) {
	db, err := NewSQLiteDB(path)
	if err != nil {
		return nil, err
	}
	return NewSQLStore(db, DialectSQLite), nil
}

// OpenPostgres connects to PostgreSQL and ensures the schema exists
func OpenPostgres(connStr string) (*Store, error) {
	db, err := NewPostgresDB(connStr)
	if err != nil {
		return nil, err
	}
	return NewSQLStore(db, DialectPostgres), nil
}

// Ping checks that the backend is reachable
func (s *Store) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	if err := s.ping(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Close releases the backend
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
