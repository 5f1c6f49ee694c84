package repository

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// NewPostgresDB creates and initializes a PostgreSQL database connection
func NewPostgresDB(connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	// Create tables
	if err := createPostgresTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// The display order constraint is deferrable so a single UPDATE that shifts
// a run of positions is checked at statement end instead of row by row.
func createPostgresTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS photos (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		filename TEXT NOT NULL,
		location_taken TEXT NOT NULL,
		date_taken TIMESTAMPTZ NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_photos_date ON photos(date_taken);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS photo_categories (
		category_id TEXT NOT NULL REFERENCES categories(id) ON DELETE RESTRICT,
		photo_id TEXT NOT NULL REFERENCES photos(id) ON DELETE RESTRICT,
		display_order INTEGER NOT NULL,
		added_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (category_id, photo_id),
		CONSTRAINT photo_categories_display_order_key UNIQUE (category_id, display_order)
			DEFERRABLE INITIALLY IMMEDIATE
	);

	CREATE INDEX IF NOT EXISTS idx_photo_categories_photo ON photo_categories(photo_id);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL,
		last_activity_at TIMESTAMPTZ NOT NULL,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	`

	_, err := db.Exec(schema)
	return err
}
