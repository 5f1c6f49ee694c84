package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/gallery/server/internal/models"
)

var (
	errUniqueViolation     = errors.New("unique constraint violation")
	errForeignKeyViolation = errors.New("foreign key violation")
)

// positionConstraint is the unique constraint on (category_id, display_order)
const positionConstraint = "photo_categories_display_order_key"

// classify translates driver errors into the gallery error taxonomy.
// Errors it does not recognize are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01", "55P03":
			return fmt.Errorf("%w: %s", models.ErrConflict, pqErr.Code.Name())
		case "23505":
			return fmt.Errorf("%w: %s", errUniqueViolation, pqErr.Constraint)
		case "23503":
			return fmt.Errorf("%w: %s", errForeignKeyViolation, pqErr.Constraint)
		}
		switch pqErr.Code.Class() {
		case "08", "53", "57":
			return fmt.Errorf("%w: %s", models.ErrStoreUnavailable, pqErr.Code.Name())
		}
		return err
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return fmt.Errorf("%w: %s", models.ErrConflict, sqliteErr.Code.Error())
		case sqlite3.ErrConstraint:
			switch sqliteErr.ExtendedCode {
			case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
				detail := sqliteErr.Error()
				if strings.Contains(detail, "display_order") {
					detail = positionConstraint
				}
				return fmt.Errorf("%w: %s", errUniqueViolation, detail)
			case sqlite3.ErrConstraintForeignKey:
				return fmt.Errorf("%w: %s", errForeignKeyViolation, sqliteErr.Error())
			case sqlite3.ErrConstraintTrigger:
				// ON DELETE RESTRICT, from databases created before the
				// schema dropped it, fails through the trigger code
				if strings.Contains(sqliteErr.Error(), "FOREIGN KEY") {
					return fmt.Errorf("%w: %s", errForeignKeyViolation, sqliteErr.Error())
				}
			}
		case sqlite3.ErrCantOpen, sqlite3.ErrIoErr, sqlite3.ErrFull:
			return fmt.Errorf("%w: %s", models.ErrStoreUnavailable, sqliteErr.Code.Error())
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
	}
	return err
}

// isPositionViolation reports whether a classified unique violation came from
// the display order constraint rather than the membership key
func isPositionViolation(err error) bool {
	return errors.Is(err, errUniqueViolation) && strings.Contains(err.Error(), positionConstraint)
}
