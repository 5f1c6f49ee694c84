package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/gallery/server/internal/models"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx so the same repository code
// runs in autocommit mode and inside a transaction
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PhotoRepo defines the interface for photo persistence operations.
// GetByID returns nil, nil when the photo does not exist.
type PhotoRepo interface {
	GetByID(ctx context.Context, id string) (*models.Photo, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*models.Photo, error)
	GetAll(ctx context.Context, skip, take int) ([]*models.Photo, error)
	GetCount(ctx context.Context) (int, error)
	Add(ctx context.Context, photo *models.Photo) error
	Update(ctx context.Context, photo *models.Photo) error
	Delete(ctx context.Context, id string) (bool, error)
}

// CategoryRepo defines the interface for category persistence operations.
// GetByID returns nil, nil when the category does not exist.
type CategoryRepo interface {
	GetByID(ctx context.Context, id string) (*models.Category, error)
	GetAll(ctx context.Context) ([]*models.Category, error)
	Add(ctx context.Context, category *models.Category) error
	Update(ctx context.Context, category *models.Category) error
	Delete(ctx context.Context, id string) (bool, error)
}

// MembershipRepo exposes the primitives the ordering engine composes.
// None of these methods opens or commits a transaction; callers run them
// through a TxManager so a whole operation is one atomic unit.
type MembershipRepo interface {
	// MaxPosition returns the largest display order in the category and
	// false when the category has no memberships.
	MaxPosition(ctx context.Context, categoryID string) (int, bool, error)
	PositionExists(ctx context.Context, categoryID string, position int) (bool, error)
	PositionOf(ctx context.Context, categoryID, photoID string) (int, bool, error)
	Count(ctx context.Context, categoryID string) (int, error)

	// ShiftUp adds one to every display order >= from in the category.
	ShiftUp(ctx context.Context, categoryID string, from int) error
	// ShiftDown subtracts one from every display order >= from. from must be at least 2.
	ShiftDown(ctx context.Context, categoryID string, from int) error

	Insert(ctx context.Context, m *models.Membership) error
	// Delete removes the membership and returns the position it held.
	Delete(ctx context.Context, categoryID, photoID string) (int, error)
	SetPosition(ctx context.Context, categoryID, photoID string, position int) error
	ListOrdered(ctx context.Context, categoryID string) ([]*models.Membership, error)

	CategoriesForPhoto(ctx context.Context, photoID string) ([]string, error)
	DeleteAllInCategory(ctx context.Context, categoryID string) (int, error)
}

// SessionRepo is the keyed session store. Expiry is explicit via ExpiresAt.
type SessionRepo interface {
	GetByID(ctx context.Context, id string) (*models.Session, error)
	Add(ctx context.Context, session *models.Session) error
	UpdateActivity(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	CleanupExpired(ctx context.Context) (int64, error)
}

// Repositories bundles the repositories that share one connection or transaction
type Repositories struct {
	Photos      PhotoRepo
	Categories  CategoryRepo
	Memberships MembershipRepo
}

// TxManager runs fn inside one transaction. lockKey serializes callers that
// pass the same key (the category id for ordering operations); an empty key
// takes no lock. The transaction commits when fn returns nil and rolls back
// otherwise, including when ctx is cancelled.
type TxManager interface {
	Do(ctx context.Context, lockKey string, fn func(repos Repositories) error) error
}
