package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// SQLTxManager runs functions inside a database/sql transaction with
// repositories bound to that transaction
type SQLTxManager struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLTxManager creates a new SQLTxManager
func NewSQLTxManager(db *sql.DB, dialect Dialect) *SQLTxManager {
	return &SQLTxManager{db: db, dialect: dialect}
}

// Do begins a transaction, takes the per-key lock, runs fn and commits.
// On PostgreSQL the lock is a transaction-scoped advisory lock in a READ
// COMMITTED transaction. On SQLite the transaction already holds the database
// write lock from BEGIN IMMEDIATE.
func (m *SQLTxManager) Do(ctx context.Context, lockKey string, fn func(repos Repositories) error) (err error) {
	var opts *sql.TxOptions
	if m.dialect == DialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}

	tx, err := m.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", classify(err))
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if lockKey != "" && m.dialect == DialectPostgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lockKey); err != nil {
			return fmt.Errorf("acquire lock: %w", classify(err))
		}
	}

	if err := fn(bindRepositories(tx, m.dialect)); err != nil {
		return err
	}

	// A cancelled context must not commit work done before the cancellation.
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", classify(err))
	}
	committed = true
	return nil
}

func bindRepositories(db DBTX, dialect Dialect) Repositories {
	return Repositories{
		Photos:      NewPhotoRepository(db),
		Categories:  NewCategoryRepository(db),
		Memberships: NewMembershipRepository(db, dialect),
	}
}
