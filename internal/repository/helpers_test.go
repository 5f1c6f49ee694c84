package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gallery/server/internal/models"
)

// forEachStore runs fn against every backend available in this environment.
// PostgreSQL joins when GALLERY_TEST_DATABASE_URL is set.
func forEachStore(t *testing.T, fn func(t *testing.T, store *Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, NewInMemoryStore())
	})

	t.Run("sqlite", func(t *testing.T) {
		store, err := OpenSQLite(filepath.Join(t.TempDir(), "gallery.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		fn(t, store)
	})

	if url := os.Getenv("GALLERY_TEST_DATABASE_URL"); url != "" {
		t.Run("postgres", func(t *testing.T) {
			store, err := OpenPostgres(url)
			require.NoError(t, err)
			t.Cleanup(func() { store.Close() })
			fn(t, store)
		})
	}
}

func seedPhoto(t *testing.T, store *Store, title string) *models.Photo {
	t.Helper()
	photo, err := models.NewPhoto(title, title+".jpg", "Porto", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NoError(t, store.Photos.Add(context.Background(), photo))
	return photo
}

func seedCategory(t *testing.T, store *Store, name string) *models.Category {
	t.Helper()
	category, err := models.NewCategory(name, nil)
	require.NoError(t, err)
	require.NoError(t, store.Categories.Add(context.Background(), category))
	return category
}

// seedMembers appends the photos to the category in order starting at position 1
func seedMembers(t *testing.T, store *Store, categoryID string, photos ...*models.Photo) {
	t.Helper()
	for i, p := range photos {
		require.NoError(t, store.Memberships.Insert(context.Background(), models.NewMembership(categoryID, p.ID, i+1)))
	}
}

func orderOf(t *testing.T, store *Store, categoryID string) map[string]int {
	t.Helper()
	memberships, err := store.Memberships.ListOrdered(context.Background(), categoryID)
	require.NoError(t, err)
	require.NoError(t, models.CheckPacked(memberships))
	order := make(map[string]int, len(memberships))
	for _, m := range memberships {
		order[m.PhotoID] = m.DisplayOrder
	}
	return order
}
