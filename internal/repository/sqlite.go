package repository

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// NewSQLiteDB creates and initializes a SQLite database.
// Writers take the database lock at BEGIN (_txlock=immediate) and the pool is
// limited to one connection, so ordering transactions never interleave.
func NewSQLiteDB(dbPath string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	// Create tables
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS photos (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		filename TEXT NOT NULL,
		location_taken TEXT NOT NULL,
		date_taken DATETIME NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		thumbnail_url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_photos_date ON photos(date_taken);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	-- Memberships. Foreign keys block deletes of referenced rows: memberships
	-- are removed through the ordering engine so positions stay packed.
	-- SQLite reports NO ACTION violations as SQLITE_CONSTRAINT_FOREIGNKEY.
	CREATE TABLE IF NOT EXISTS photo_categories (
		category_id TEXT NOT NULL REFERENCES categories(id),
		photo_id TEXT NOT NULL REFERENCES photos(id),
		display_order INTEGER NOT NULL,
		added_at DATETIME NOT NULL,
		PRIMARY KEY (category_id, photo_id)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS photo_categories_display_order_key ON photo_categories(category_id, display_order);
	CREATE INDEX IF NOT EXISTS idx_photo_categories_photo ON photo_categories(photo_id);

	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		expires_at DATETIME NOT NULL,
		last_activity_at DATETIME NOT NULL,
		ip_address TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
	`

	_, err := db.Exec(schema)
	return err
}
