package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gallery/server/internal/models"
	"github.com/gallery/server/internal/repository"
)

func newTestGallery(t *testing.T, store *repository.Store, objects ObjectStore, pub EventPublisher) (*GalleryService, *OrderingService) {
	ordering := NewOrderingService(store.Tx, pub, nil, testOrderingOptions())
	return NewGalleryService(store.Repositories, ordering, objects, pub), ordering
}

func TestGalleryService_CategoryDisplay(t *testing.T) {
	forEachStore(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		gallery, ordering := newTestGallery(t, store, nil, nil)

		cat, err := gallery.CreateCategory(ctx, &models.CreateCategoryRequest{Name: "Travel"})
		require.NoError(t, err)
		a, b, c := newPhoto(t, store, "a"), newPhoto(t, store, "b"), newPhoto(t, store, "c")
		_, err = ordering.AddMembership(ctx, cat.ID, a.ID, nil)
		require.NoError(t, err)
		_, err = ordering.AddMembership(ctx, cat.ID, b.ID, nil)
		require.NoError(t, err)
		_, err = ordering.AddMembership(ctx, cat.ID, c.ID, intPtr(1))
		require.NoError(t, err)

		display, err := gallery.GetCategoryDisplay(ctx, cat.ID)
		require.NoError(t, err)
		assert.Equal(t, "Travel", display.Category.Name)
		assert.Equal(t, 3, display.Category.PhotoCount)
		require.Len(t, display.Photos, 3)
		for i, want := range []*models.Photo{c, a, b} {
			assert.Equal(t, want.ID, display.Photos[i].Photo.ID)
			assert.Equal(t, i+1, display.Photos[i].DisplayOrder)
		}

		_, err = gallery.GetCategoryDisplay(ctx, "missing")
		assert.ErrorIs(t, err, models.ErrCategoryNotFound)
	})
}

func TestGalleryService_Categories(t *testing.T) {
	forEachStore(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		pub := &recordingPublisher{}
		gallery, ordering := newTestGallery(t, store, nil, pub)

		t.Run("create validates name", func(t *testing.T) {
			_, err := gallery.CreateCategory(ctx, &models.CreateCategoryRequest{Name: "  "})
			assert.ErrorIs(t, err, models.ErrCategoryNameRequired)
		})

		t.Run("partial update keeps description", func(t *testing.T) {
			desc := "old"
			cat, err := gallery.CreateCategory(ctx, &models.CreateCategoryRequest{Name: "First", Description: &desc})
			require.NoError(t, err)

			name := "Renamed"
			updated, err := gallery.UpdateCategory(ctx, cat.ID, &models.UpdateCategoryRequest{Name: &name})
			require.NoError(t, err)
			assert.Equal(t, "Renamed", updated.Name)
			require.NotNil(t, updated.Description)
			assert.Equal(t, "old", *updated.Description)

			_, err = gallery.UpdateCategory(ctx, "missing", &models.UpdateCategoryRequest{Name: &name})
			assert.ErrorIs(t, err, models.ErrCategoryNotFound)
		})

		t.Run("delete removes memberships", func(t *testing.T) {
			cat, err := gallery.CreateCategory(ctx, &models.CreateCategoryRequest{Name: "Doomed"})
			require.NoError(t, err)
			keep, err := gallery.CreateCategory(ctx, &models.CreateCategoryRequest{Name: "Keep"})
			require.NoError(t, err)
			a, b := newPhoto(t, store, "a"), newPhoto(t, store, "b")
			for _, p := range []*models.Photo{a, b} {
				_, err := ordering.AddMembership(ctx, cat.ID, p.ID, nil)
				require.NoError(t, err)
				_, err = ordering.AddMembership(ctx, keep.ID, p.ID, nil)
				require.NoError(t, err)
			}

			require.NoError(t, gallery.DeleteCategory(ctx, cat.ID))
			_, err = gallery.GetCategory(ctx, cat.ID)
			assert.ErrorIs(t, err, models.ErrCategoryNotFound)
			assert.Equal(t, ids(a, b), sequence(t, store, keep.ID))

			detail, err := gallery.GetPhoto(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, []string{keep.ID}, detail.CategoryIDs)

			assert.Contains(t, pub.types(), WSTypeCategoryDeleted)
			assert.ErrorIs(t, gallery.DeleteCategory(ctx, cat.ID), models.ErrCategoryNotFound)
		})

		t.Run("list includes photo counts", func(t *testing.T) {
			categories, err := gallery.ListCategories(ctx)
			require.NoError(t, err)
			counts := map[string]int{}
			for _, c := range categories {
				counts[c.Name] = c.PhotoCount
			}
			assert.Equal(t, 2, counts["Keep"])
			assert.Equal(t, 0, counts["Renamed"])
		})
	})
}

func TestGalleryService_Photos(t *testing.T) {
	forEachStore(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		objects := setupTestStorage(t)
		gallery, ordering := newTestGallery(t, store, objects, nil)

		t.Run("create validates input", func(t *testing.T) {
			_, err := gallery.CreatePhoto(ctx, &models.CreatePhotoRequest{
				Title: "x", Filename: "x.jpg", LocationTaken: "here", DateTaken: "yesterday",
			})
			assert.ErrorIs(t, err, models.ErrInvalidDateTaken)

			_, err = gallery.CreatePhoto(ctx, &models.CreatePhotoRequest{
				Filename: "x.jpg", LocationTaken: "here", DateTaken: "2020-01-01",
			})
			assert.ErrorIs(t, err, models.ErrTitleRequired)
		})

		t.Run("update keeps absent fields", func(t *testing.T) {
			photo, err := gallery.CreatePhoto(ctx, &models.CreatePhotoRequest{
				Title: "Sunset", Filename: "sunset.jpg", LocationTaken: "Porto", DateTaken: "2021-07-01",
			})
			require.NoError(t, err)

			title := "Sunrise"
			updated, err := gallery.UpdatePhoto(ctx, photo.ID, &models.UpdatePhotoRequest{Title: &title})
			require.NoError(t, err)
			assert.Equal(t, "Sunrise", updated.Title)
			assert.Equal(t, "Porto", updated.LocationTaken)
			assert.Equal(t, "sunset.jpg", updated.Filename)

			_, err = gallery.UpdatePhoto(ctx, "missing", &models.UpdatePhotoRequest{Title: &title})
			assert.ErrorIs(t, err, models.ErrPhotoNotFound)
		})

		t.Run("list pages and clamps", func(t *testing.T) {
			page, err := gallery.ListPhotos(ctx, -5, 0)
			require.NoError(t, err)
			assert.Equal(t, 0, page.Skip)
			assert.Equal(t, defaultPageSize, page.Take)
			assert.Equal(t, page.TotalCount, len(page.Photos))

			page, err = gallery.ListPhotos(ctx, 0, 10_000)
			require.NoError(t, err)
			assert.Equal(t, maxPageSize, page.Take)
		})

		t.Run("delete closes gaps in every category and removes objects", func(t *testing.T) {
			c1, c2 := newCategory(t, store, "d1"), newCategory(t, store, "d2")
			a, b, c := newPhoto(t, store, "a"), newPhoto(t, store, "b"), newPhoto(t, store, "c")

			url, err := objects.Put(ctx, "2022/03/"+b.ID+".jpg", strings.NewReader("img"), 3, "image/jpeg")
			require.NoError(t, err)
			b.URL = url
			require.NoError(t, store.Photos.Update(ctx, b))

			for _, p := range []*models.Photo{a, b, c} {
				_, err := ordering.AddMembership(ctx, c1.ID, p.ID, nil)
				require.NoError(t, err)
			}
			_, err = ordering.AddMembership(ctx, c2.ID, b.ID, nil)
			require.NoError(t, err)

			require.NoError(t, gallery.DeletePhoto(ctx, b.ID))

			assert.Equal(t, ids(a, c), sequence(t, store, c1.ID))
			assert.Empty(t, sequence(t, store, c2.ID))
			assert.False(t, objects.Exists("2022/03/"+b.ID+".jpg"))

			_, err = gallery.GetPhoto(ctx, b.ID)
			assert.ErrorIs(t, err, models.ErrPhotoNotFound)
			assert.ErrorIs(t, gallery.DeletePhoto(ctx, b.ID), models.ErrPhotoNotFound)
		})
	})
}

func TestGalleryService_DeletePhotoEvents(t *testing.T) {
	forEachStore(t, func(t *testing.T, store *repository.Store) {
		ctx := context.Background()
		pub := &recordingPublisher{}
		gallery, ordering := newTestGallery(t, store, nil, pub)

		t.Run("photo_deleted lists the categories it left", func(t *testing.T) {
			c1, c2 := newCategory(t, store, "e1"), newCategory(t, store, "e2")
			p := newPhoto(t, store, "p")
			for _, c := range []*models.Category{c1, c2} {
				_, err := ordering.AddMembership(ctx, c.ID, p.ID, nil)
				require.NoError(t, err)
			}

			require.NoError(t, gallery.DeletePhoto(ctx, p.ID))

			pub.mu.Lock()
			last := pub.messages[len(pub.messages)-1]
			pub.mu.Unlock()
			assert.Equal(t, TopicPhotos, last.Topic)
			assert.Equal(t, WSTypePhotoDeleted, last.Msg.Type)
			payload, ok := last.Msg.Payload.(PhotoDeletedPayload)
			require.True(t, ok)
			assert.Equal(t, p.ID, payload.PhotoID)
			assert.ElementsMatch(t, []string{c1.ID, c2.ID}, payload.CategoryIDs)
		})

		t.Run("photo in no category still announces the delete", func(t *testing.T) {
			p := newPhoto(t, store, "lonely")
			require.NoError(t, gallery.DeletePhoto(ctx, p.ID))

			types := pub.types()
			assert.Equal(t, WSTypePhotoDeleted, types[len(types)-1])
		})

		t.Run("a missing photo publishes nothing", func(t *testing.T) {
			before := len(pub.types())
			assert.ErrorIs(t, gallery.DeletePhoto(ctx, "missing"), models.ErrPhotoNotFound)
			assert.Len(t, pub.types(), before)
		})
	})
}
