package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gallery/server/internal/models"
)

// PhotoRepository handles photo persistence for PostgreSQL and SQLite
type PhotoRepository struct {
	db DBTX
}

// NewPhotoRepository creates a new PhotoRepository
func NewPhotoRepository(db DBTX) *PhotoRepository {
	return &PhotoRepository{db: db}
}

const photoColumns = `id, title, description, filename, location_taken, date_taken, url, thumbnail_url, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPhoto(row rowScanner) (*models.Photo, error) {
	var photo models.Photo
	var description sql.NullString
	err := row.Scan(
		&photo.ID,
		&photo.Title,
		&description,
		&photo.Filename,
		&photo.LocationTaken,
		&photo.DateTaken,
		&photo.URL,
		&photo.ThumbnailURL,
		&photo.CreatedAt,
		&photo.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if description.Valid {
		photo.Description = &description.String
	}
	return &photo, nil
}

// GetByID retrieves a photo by its ID
func (r *PhotoRepository) GetByID(ctx context.Context, id string) (*models.Photo, error) {
	query := `SELECT ` + photoColumns + ` FROM photos WHERE id = $1`

	photo, err := scanPhoto(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get photo: %w", classify(err))
	}
	return photo, nil
}

// GetByIDs retrieves the photos with the given IDs keyed by ID. Missing IDs are absent from the map.
func (r *PhotoRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*models.Photo, error) {
	result := make(map[string]*models.Photo, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}

	query := `SELECT ` + photoColumns + ` FROM photos WHERE id IN (` + strings.Join(placeholders, ",") + `)`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get photos: %w", classify(err))
	}
	defer rows.Close()

	for rows.Next() {
		photo, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		result[photo.ID] = photo
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get photos: %w", classify(err))
	}
	return result, nil
}

// GetAll retrieves photos with pagination, newest first
func (r *PhotoRepository) GetAll(ctx context.Context, skip, take int) ([]*models.Photo, error) {
	query := `SELECT ` + photoColumns + ` FROM photos ORDER BY date_taken DESC, id LIMIT $1 OFFSET $2`

	rows, err := r.db.QueryContext(ctx, query, take, skip)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", classify(err))
	}
	defer rows.Close()

	photos := []*models.Photo{}
	for rows.Next() {
		photo, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, photo)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list photos: %w", classify(err))
	}
	return photos, nil
}

// GetCount returns the total number of photos
func (r *PhotoRepository) GetCount(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM photos`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count photos: %w", classify(err))
	}
	return count, nil
}

// Add inserts a new photo
func (r *PhotoRepository) Add(ctx context.Context, photo *models.Photo) error {
	query := `INSERT INTO photos (` + photoColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.ExecContext(ctx, query,
		photo.ID, photo.Title, photo.Description, photo.Filename, photo.LocationTaken,
		photo.DateTaken, photo.URL, photo.ThumbnailURL, photo.CreatedAt, photo.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("add photo: %w", classify(err))
	}
	return nil
}

// Update overwrites the mutable fields of an existing photo
func (r *PhotoRepository) Update(ctx context.Context, photo *models.Photo) error {
	query := `UPDATE photos SET title = $1, description = $2, filename = $3, location_taken = $4,
			  date_taken = $5, url = $6, thumbnail_url = $7, updated_at = $8
			  WHERE id = $9`

	result, err := r.db.ExecContext(ctx, query,
		photo.Title, photo.Description, photo.Filename, photo.LocationTaken,
		photo.DateTaken, photo.URL, photo.ThumbnailURL, photo.UpdatedAt, photo.ID,
	)
	if err != nil {
		return fmt.Errorf("update photo: %w", classify(err))
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update photo: %w", err)
	}
	if rows == 0 {
		return models.ErrPhotoNotFound
	}
	return nil
}

// Delete removes a photo by ID. A photo that still has memberships is
// refused with ErrPhotoInUse.
func (r *PhotoRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM photos WHERE id = $1`, id)
	if err != nil {
		err = classify(err)
		if errors.Is(err, errForeignKeyViolation) {
			return false, models.ErrPhotoInUse
		}
		return false, fmt.Errorf("delete photo: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}
