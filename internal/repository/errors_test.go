package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"

	"github.com/gallery/server/internal/models"
)

func TestClassify(t *testing.T) {
	t.Run("postgres serialization failures are conflicts", func(t *testing.T) {
		for _, code := range []pq.ErrorCode{"40001", "40P01", "55P03"} {
			err := classify(&pq.Error{Code: code})
			assert.ErrorIs(t, err, models.ErrConflict, string(code))
		}
	})

	t.Run("postgres unique violation keeps the constraint", func(t *testing.T) {
		err := classify(&pq.Error{Code: "23505", Constraint: positionConstraint})
		assert.ErrorIs(t, err, errUniqueViolation)
		assert.True(t, isPositionViolation(err))

		err = classify(&pq.Error{Code: "23505", Constraint: "photo_categories_pkey"})
		assert.False(t, isPositionViolation(err))
	})

	t.Run("postgres connection errors are unavailable", func(t *testing.T) {
		err := classify(&pq.Error{Code: "08006"})
		assert.ErrorIs(t, err, models.ErrStoreUnavailable)
	})

	t.Run("sqlite busy is a conflict", func(t *testing.T) {
		err := classify(fmt.Errorf("exec: %w", sqlite3.Error{Code: sqlite3.ErrBusy}))
		assert.ErrorIs(t, err, models.ErrConflict)
	})

	t.Run("sqlite foreign key", func(t *testing.T) {
		err := classify(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey})
		assert.ErrorIs(t, err, errForeignKeyViolation)
	})

	t.Run("bad connection is unavailable", func(t *testing.T) {
		assert.ErrorIs(t, classify(driver.ErrBadConn), models.ErrStoreUnavailable)
	})

	t.Run("context errors pass through", func(t *testing.T) {
		assert.Equal(t, context.Canceled, classify(context.Canceled))
	})

	t.Run("unknown errors pass through", func(t *testing.T) {
		boom := errors.New("boom")
		assert.Equal(t, boom, classify(boom))
	})
}
