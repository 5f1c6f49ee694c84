package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gallery/server/internal/models"
)

// Dialect selects SQL that differs between the supported databases
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// MembershipRepository implements MembershipRepo for PostgreSQL/SQLite
type MembershipRepository struct {
	db      DBTX
	dialect Dialect
}

// NewMembershipRepository creates a new MembershipRepository
func NewMembershipRepository(db DBTX, dialect Dialect) *MembershipRepository {
	return &MembershipRepository{db: db, dialect: dialect}
}

func (r *MembershipRepository) MaxPosition(ctx context.Context, categoryID string) (int, bool, error) {
	var maxPos sql.NullInt64
	query := `SELECT MAX(display_order) FROM photo_categories WHERE category_id = $1`
	if err := r.db.QueryRowContext(ctx, query, categoryID).Scan(&maxPos); err != nil {
		return 0, false, fmt.Errorf("max position: %w", classify(err))
	}
	if !maxPos.Valid {
		return 0, false, nil
	}
	return int(maxPos.Int64), true, nil
}

func (r *MembershipRepository) PositionExists(ctx context.Context, categoryID string, position int) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM photo_categories WHERE category_id = $1 AND display_order = $2)`
	if err := r.db.QueryRowContext(ctx, query, categoryID, position).Scan(&exists); err != nil {
		return false, fmt.Errorf("position exists: %w", classify(err))
	}
	return exists, nil
}

func (r *MembershipRepository) PositionOf(ctx context.Context, categoryID, photoID string) (int, bool, error) {
	var position int
	query := `SELECT display_order FROM photo_categories WHERE category_id = $1 AND photo_id = $2`
	err := r.db.QueryRowContext(ctx, query, categoryID, photoID).Scan(&position)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("position of: %w", classify(err))
	}
	return position, true, nil
}

func (r *MembershipRepository) Count(ctx context.Context, categoryID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM photo_categories WHERE category_id = $1`
	if err := r.db.QueryRowContext(ctx, query, categoryID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count memberships: %w", classify(err))
	}
	return count, nil
}

func (r *MembershipRepository) ShiftUp(ctx context.Context, categoryID string, from int) error {
	return r.shift(ctx, categoryID, from, 1)
}

func (r *MembershipRepository) ShiftDown(ctx context.Context, categoryID string, from int) error {
	if from < 2 {
		return fmt.Errorf("shift down from %d would leave position 0", from)
	}
	return r.shift(ctx, categoryID, from, -1)
}

// shift moves every display order >= from by delta.
// PostgreSQL checks the deferrable position constraint once per statement.
// SQLite checks unique indexes row by row, so the run is first moved into
// negative space and then flipped back.
func (r *MembershipRepository) shift(ctx context.Context, categoryID string, from, delta int) error {
	if r.dialect == DialectPostgres {
		query := `UPDATE photo_categories SET display_order = display_order + $1
				  WHERE category_id = $2 AND display_order >= $3`
		if _, err := r.db.ExecContext(ctx, query, delta, categoryID, from); err != nil {
			return fmt.Errorf("shift positions: %w", classify(err))
		}
		return nil
	}

	negate := `UPDATE photo_categories SET display_order = -(display_order + $1)
			   WHERE category_id = $2 AND display_order >= $3`
	if _, err := r.db.ExecContext(ctx, negate, delta, categoryID, from); err != nil {
		return fmt.Errorf("shift positions: %w", classify(err))
	}

	restore := `UPDATE photo_categories SET display_order = -display_order
				WHERE category_id = $1 AND display_order < 0`
	if _, err := r.db.ExecContext(ctx, restore, categoryID); err != nil {
		return fmt.Errorf("shift positions: %w", classify(err))
	}
	return nil
}

// Insert adds a membership. An existing (category, photo) key yields ErrDuplicateMembership.
func (r *MembershipRepository) Insert(ctx context.Context, m *models.Membership) error {
	query := `INSERT INTO photo_categories (category_id, photo_id, display_order, added_at)
			  VALUES ($1, $2, $3, $4)`

	_, err := r.db.ExecContext(ctx, query, m.CategoryID, m.PhotoID, m.DisplayOrder, m.AddedAt)
	if err == nil {
		return nil
	}
	err = classify(err)
	switch {
	case isPositionViolation(err):
		return fmt.Errorf("%w: display order %d already taken", models.ErrConflict, m.DisplayOrder)
	case errors.Is(err, errUniqueViolation):
		return models.ErrDuplicateMembership
	case errors.Is(err, errForeignKeyViolation):
		return fmt.Errorf("%w: photo or category was deleted", models.ErrConflict)
	}
	return fmt.Errorf("insert membership: %w", err)
}

func (r *MembershipRepository) Delete(ctx context.Context, categoryID, photoID string) (int, error) {
	var position int
	query := `DELETE FROM photo_categories WHERE category_id = $1 AND photo_id = $2 RETURNING display_order`
	err := r.db.QueryRowContext(ctx, query, categoryID, photoID).Scan(&position)
	if err == sql.ErrNoRows {
		return 0, models.ErrMembershipNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("delete membership: %w", classify(err))
	}
	return position, nil
}

func (r *MembershipRepository) SetPosition(ctx context.Context, categoryID, photoID string, position int) error {
	query := `UPDATE photo_categories SET display_order = $1 WHERE category_id = $2 AND photo_id = $3`
	result, err := r.db.ExecContext(ctx, query, position, categoryID, photoID)
	if err != nil {
		err = classify(err)
		if errors.Is(err, errUniqueViolation) {
			return fmt.Errorf("%w: display order %d already taken", models.ErrConflict, position)
		}
		return fmt.Errorf("set position: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set position: %w", err)
	}
	if rows == 0 {
		return models.ErrMembershipNotFound
	}
	return nil
}

func (r *MembershipRepository) ListOrdered(ctx context.Context, categoryID string) ([]*models.Membership, error) {
	query := `SELECT category_id, photo_id, display_order, added_at
			  FROM photo_categories WHERE category_id = $1 ORDER BY display_order ASC`

	rows, err := r.db.QueryContext(ctx, query, categoryID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", classify(err))
	}
	defer rows.Close()

	memberships := []*models.Membership{}
	for rows.Next() {
		var m models.Membership
		if err := rows.Scan(&m.CategoryID, &m.PhotoID, &m.DisplayOrder, &m.AddedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		memberships = append(memberships, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list memberships: %w", classify(err))
	}
	return memberships, nil
}

// CategoriesForPhoto returns all category IDs that contain this photo
func (r *MembershipRepository) CategoriesForPhoto(ctx context.Context, photoID string) ([]string, error) {
	query := `SELECT category_id FROM photo_categories WHERE photo_id = $1 ORDER BY category_id`

	rows, err := r.db.QueryContext(ctx, query, photoID)
	if err != nil {
		return nil, fmt.Errorf("categories for photo: %w", classify(err))
	}
	defer rows.Close()

	categoryIDs := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		categoryIDs = append(categoryIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("categories for photo: %w", classify(err))
	}
	return categoryIDs, nil
}

func (r *MembershipRepository) DeleteAllInCategory(ctx context.Context, categoryID string) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM photo_categories WHERE category_id = $1`, categoryID)
	if err != nil {
		return 0, fmt.Errorf("clear category: %w", classify(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}
