package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/gallery/server/internal/models"
	"github.com/gallery/server/internal/observability"
	"github.com/gallery/server/internal/repository"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500

	// deletePhotoAttempts bounds how often DeletePhoto re-clears memberships
	// that were added while it ran
	deletePhotoAttempts = 3
)

// GalleryService composes the ordering engine with photo and category storage
type GalleryService struct {
	repos     repository.Repositories
	ordering  *OrderingService
	objects   ObjectStore
	publisher EventPublisher
}

// NewGalleryService creates a new GalleryService. objects and publisher may be nil.
func NewGalleryService(repos repository.Repositories, ordering *OrderingService, objects ObjectStore, publisher EventPublisher) *GalleryService {
	return &GalleryService{
		repos:     repos,
		ordering:  ordering,
		objects:   objects,
		publisher: publisher,
	}
}

// GetCategoryDisplay returns a category with its photos in display order
func (s *GalleryService) GetCategoryDisplay(ctx context.Context, categoryID string) (*models.CategoryDisplay, error) {
	category, err := s.repos.Categories.GetByID(ctx, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	if category == nil {
		return nil, models.ErrCategoryNotFound
	}

	memberships, err := s.ordering.ListOrdered(ctx, categoryID)
	if err != nil {
		return nil, err
	}

	photoIDs := make([]string, len(memberships))
	for i, m := range memberships {
		photoIDs[i] = m.PhotoID
	}
	photos, err := s.repos.Photos.GetByIDs(ctx, photoIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to get photos: %w", err)
	}

	display := &models.CategoryDisplay{
		Category: category,
		Photos:   make([]models.MembershipWithPhoto, 0, len(memberships)),
	}
	for _, m := range memberships {
		photo, ok := photos[m.PhotoID]
		if !ok {
			continue
		}
		display.Photos = append(display.Photos, models.MembershipWithPhoto{Membership: *m, Photo: photo})
	}
	category.PhotoCount = len(memberships)
	return display, nil
}

// ListCategories returns all categories with their photo counts
func (s *GalleryService) ListCategories(ctx context.Context) ([]*models.Category, error) {
	categories, err := s.repos.Categories.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	return categories, nil
}

// GetCategory returns one category
func (s *GalleryService) GetCategory(ctx context.Context, id string) (*models.Category, error) {
	category, err := s.repos.Categories.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	if category == nil {
		return nil, models.ErrCategoryNotFound
	}
	return category, nil
}

// CreateCategory creates a new category
func (s *GalleryService) CreateCategory(ctx context.Context, req *models.CreateCategoryRequest) (*models.Category, error) {
	category, err := models.NewCategory(req.Name, req.Description)
	if err != nil {
		return nil, err
	}
	if err := s.repos.Categories.Add(ctx, category); err != nil {
		return nil, fmt.Errorf("failed to create category: %w", err)
	}
	return category, nil
}

// UpdateCategory applies a partial update
func (s *GalleryService) UpdateCategory(ctx context.Context, id string, req *models.UpdateCategoryRequest) (*models.Category, error) {
	category, err := s.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := category.ApplyUpdate(req); err != nil {
		return nil, err
	}
	if err := s.repos.Categories.Update(ctx, category); err != nil {
		return nil, fmt.Errorf("failed to update category: %w", err)
	}
	return category, nil
}

// DeleteCategory removes a category and all of its memberships in one
// transaction under the category lock
func (s *GalleryService) DeleteCategory(ctx context.Context, id string) error {
	var removed int
	err := s.ordering.write(ctx, "DeleteCategory", id, func(ctx context.Context, repos repository.Repositories) error {
		var err error
		removed, err = repos.Memberships.DeleteAllInCategory(ctx, id)
		if err != nil {
			return err
		}
		found, err := repos.Categories.Delete(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return models.ErrCategoryNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	observability.WithContext(ctx).WithFields(map[string]interface{}{
		"category_id":         id,
		"memberships_removed": removed,
	}).Info("Category deleted")

	if s.publisher != nil {
		s.publisher.BroadcastToTopic(CategoryTopic(id), WSMessage{
			Type:    WSTypeCategoryDeleted,
			Payload: CategoryDeletedPayload{CategoryID: id, MembershipsRemoved: removed},
		})
	}
	return nil
}

// ListPhotos returns a page of photos. take is clamped to 1..500, default 50.
func (s *GalleryService) ListPhotos(ctx context.Context, skip, take int) (*models.PhotoListResponse, error) {
	if skip < 0 {
		skip = 0
	}
	if take <= 0 {
		take = defaultPageSize
	}
	if take > maxPageSize {
		take = maxPageSize
	}

	photos, err := s.repos.Photos.GetAll(ctx, skip, take)
	if err != nil {
		return nil, fmt.Errorf("failed to list photos: %w", err)
	}
	total, err := s.repos.Photos.GetCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count photos: %w", err)
	}

	return &models.PhotoListResponse{
		Photos:     photos,
		TotalCount: total,
		Skip:       skip,
		Take:       take,
	}, nil
}

// GetPhoto returns a photo and the categories it belongs to
func (s *GalleryService) GetPhoto(ctx context.Context, id string) (*models.PhotoDetailResponse, error) {
	photo, err := s.repos.Photos.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get photo: %w", err)
	}
	if photo == nil {
		return nil, models.ErrPhotoNotFound
	}

	categoryIDs, err := s.repos.Memberships.CategoriesForPhoto(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get photo categories: %w", err)
	}
	if categoryIDs == nil {
		categoryIDs = []string{}
	}

	return &models.PhotoDetailResponse{Photo: photo, CategoryIDs: categoryIDs}, nil
}

// CreatePhoto creates a photo record for a file that is already hosted
func (s *GalleryService) CreatePhoto(ctx context.Context, req *models.CreatePhotoRequest) (*models.Photo, error) {
	dateTaken, err := models.ParseDateTaken(req.DateTaken)
	if err != nil {
		return nil, err
	}
	photo, err := models.NewPhoto(req.Title, req.Filename, req.LocationTaken, dateTaken)
	if err != nil {
		return nil, err
	}
	photo.Description = req.Description
	photo.URL = req.URL

	if err := s.repos.Photos.Add(ctx, photo); err != nil {
		return nil, fmt.Errorf("failed to create photo: %w", err)
	}
	return photo, nil
}

// UpdatePhoto applies a partial update; absent fields keep their values
func (s *GalleryService) UpdatePhoto(ctx context.Context, id string, req *models.UpdatePhotoRequest) (*models.Photo, error) {
	photo, err := s.repos.Photos.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get photo: %w", err)
	}
	if photo == nil {
		return nil, models.ErrPhotoNotFound
	}
	if err := photo.ApplyUpdate(req); err != nil {
		return nil, err
	}
	if err := s.repos.Photos.Update(ctx, photo); err != nil {
		return nil, fmt.Errorf("failed to update photo: %w", err)
	}
	return photo, nil
}

// DeletePhoto removes the photo from every category, deletes the row and
// then its stored objects
func (s *GalleryService) DeletePhoto(ctx context.Context, id string) error {
	photo, err := s.repos.Photos.GetByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get photo: %w", err)
	}
	if photo == nil {
		return models.ErrPhotoNotFound
	}

	var categoryIDs []string
	seen := map[string]bool{}
	for attempt := 1; ; attempt++ {
		removed, err := s.ordering.RemovePhotoEverywhere(ctx, id)
		if err != nil {
			return err
		}
		for _, categoryID := range removed {
			if !seen[categoryID] {
				seen[categoryID] = true
				categoryIDs = append(categoryIDs, categoryID)
			}
		}

		found, err := s.repos.Photos.Delete(ctx, id)
		if errors.Is(err, models.ErrPhotoInUse) && attempt < deletePhotoAttempts {
			// a membership was added after the sweep
			continue
		}
		if err != nil {
			return err
		}
		if !found {
			return models.ErrPhotoNotFound
		}
		break
	}

	s.removeObjects(ctx, photo)

	if s.publisher != nil {
		if categoryIDs == nil {
			categoryIDs = []string{}
		}
		s.publisher.BroadcastToTopic(TopicPhotos, WSMessage{
			Type:    WSTypePhotoDeleted,
			Payload: PhotoDeletedPayload{PhotoID: id, CategoryIDs: categoryIDs},
		})
	}
	return nil
}

func (s *GalleryService) removeObjects(ctx context.Context, photo *models.Photo) {
	if s.objects == nil {
		return
	}
	for _, url := range []string{photo.URL, photo.ThumbnailURL} {
		key, ok := s.objects.KeyForURL(url)
		if !ok {
			continue
		}
		if err := s.objects.Delete(ctx, key); err != nil {
			observability.WithContext(ctx).WithFields(map[string]interface{}{
				"photo_id": photo.ID,
				"key":      key,
			}).Warnf("Failed to delete stored object: %v", err)
		}
	}
}
