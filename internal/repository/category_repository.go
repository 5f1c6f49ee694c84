package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gallery/server/internal/models"
)

// CategoryRepository implements CategoryRepo for PostgreSQL/SQLite
type CategoryRepository struct {
	db DBTX
}

// NewCategoryRepository creates a new CategoryRepository
func NewCategoryRepository(db DBTX) *CategoryRepository {
	return &CategoryRepository{db: db}
}

func scanCategory(row rowScanner) (*models.Category, error) {
	var c models.Category
	var description sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &description, &c.CreatedAt, &c.UpdatedAt, &c.PhotoCount); err != nil {
		return nil, err
	}
	if description.Valid {
		c.Description = &description.String
	}
	return &c, nil
}

func (r *CategoryRepository) GetByID(ctx context.Context, id string) (*models.Category, error) {
	query := `SELECT c.id, c.name, c.description, c.created_at, c.updated_at,
			  (SELECT COUNT(*) FROM photo_categories pc WHERE pc.category_id = c.id)
			  FROM categories c WHERE c.id = $1`

	c, err := scanCategory(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", classify(err))
	}
	return c, nil
}

func (r *CategoryRepository) GetAll(ctx context.Context) ([]*models.Category, error) {
	query := `SELECT c.id, c.name, c.description, c.created_at, c.updated_at,
			  (SELECT COUNT(*) FROM photo_categories pc WHERE pc.category_id = c.id)
			  FROM categories c ORDER BY c.name, c.id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", classify(err))
	}
	defer rows.Close()

	categories := []*models.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list categories: %w", classify(err))
	}
	return categories, nil
}

func (r *CategoryRepository) Add(ctx context.Context, c *models.Category) error {
	query := `INSERT INTO categories (id, name, description, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5)`

	if _, err := r.db.ExecContext(ctx, query, c.ID, c.Name, c.Description, c.CreatedAt, c.UpdatedAt); err != nil {
		return fmt.Errorf("add category: %w", classify(err))
	}
	return nil
}

func (r *CategoryRepository) Update(ctx context.Context, c *models.Category) error {
	query := `UPDATE categories SET name = $1, description = $2, updated_at = $3 WHERE id = $4`

	result, err := r.db.ExecContext(ctx, query, c.Name, c.Description, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update category: %w", classify(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update category: %w", err)
	}
	if rows == 0 {
		return models.ErrCategoryNotFound
	}
	return nil
}

// Delete removes the category row. Memberships must already be gone; a
// membership inserted concurrently makes the delete fail with ErrConflict.
func (r *CategoryRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		err = classify(err)
		if errors.Is(err, errForeignKeyViolation) {
			return false, fmt.Errorf("%w: category still has memberships", models.ErrConflict)
		}
		return false, fmt.Errorf("delete category: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
