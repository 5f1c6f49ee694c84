package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/gallery/server/internal/models"
	"github.com/gallery/server/internal/observability"
	"github.com/gallery/server/internal/repository"
)

// UploadRequest is one uploaded photo file plus optional form metadata
type UploadRequest struct {
	Filename      string
	Body          io.Reader
	Title         string
	Description   *string
	LocationTaken string
	DateTaken     string
	Checksum      string // optional SHA-256 of the file, verified before storing
}

// UploadService stores uploaded files and creates their photo records.
// Objects are written before the database row; no transaction is held while
// the object store is called.
type UploadService struct {
	photos     repository.PhotoRepo
	objects    ObjectStore
	exif       *EXIFService
	thumbnails *ThumbnailService
	hashes     *HashService
	publisher  EventPublisher
	metrics    *observability.GalleryMetrics

	allowedExtensions map[string]bool
	maxFileSize       int64
}

// NewUploadService creates a new UploadService. publisher and metrics may be nil.
func NewUploadService(photos repository.PhotoRepo, objects ObjectStore, exif *EXIFService, thumbnails *ThumbnailService, publisher EventPublisher, metrics *observability.GalleryMetrics, allowedExtensions []string, maxFileSize int64) *UploadService {
	extSet := make(map[string]bool, len(allowedExtensions))
	for _, ext := range allowedExtensions {
		extSet[strings.ToLower(ext)] = true
	}
	return &UploadService{
		photos:            photos,
		objects:           objects,
		exif:              exif,
		thumbnails:        thumbnails,
		hashes:            NewHashService(),
		publisher:         publisher,
		metrics:           metrics,
		allowedExtensions: extSet,
		maxFileSize:       maxFileSize,
	}
}

// Upload validates the file, resolves date and location from the form or EXIF,
// stores the original and a thumbnail, then inserts the photo row
func (s *UploadService) Upload(ctx context.Context, req UploadRequest) (result *models.UploadResult, err error) {
	ctx, span := observability.StartServiceSpan(ctx, "UploadService", "Upload")
	defer span.End()

	var size int64
	defer func() {
		s.metrics.RecordPhotoUpload(ctx, size, err == nil)
		if err != nil {
			observability.RecordError(span, err)
		} else {
			observability.SetSuccess(span)
		}
	}()

	filename := models.SanitizeFilename(req.Filename)
	ext := strings.ToLower(filepath.Ext(filename))
	if !s.allowedExtensions[ext] {
		return nil, models.ErrInvalidExtension
	}

	data, err := io.ReadAll(io.LimitReader(req.Body, s.maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	size = int64(len(data))
	if size == 0 {
		return nil, models.ErrEmptyUpload
	}
	if size > s.maxFileSize {
		return nil, models.ErrFileTooLarge
	}
	checksum, err := s.hashes.Verify(data, req.Checksum)
	if err != nil {
		return nil, err
	}

	meta := s.exif.ExtractFromBytes(data)

	dateTaken, hasEXIFDate, err := resolveDateTaken(req.DateTaken, meta)
	if err != nil {
		return nil, err
	}

	location := strings.TrimSpace(req.LocationTaken)
	if location == "" {
		location = meta.Location()
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}

	photo, err := models.NewPhoto(title, filename, location, dateTaken)
	if err != nil {
		return nil, err
	}
	photo.Description = req.Description
	span.SetAttributes(observability.PhotoID(photo.ID))

	key := ObjectKey(photo.ID, filename, photo.DateTaken)
	photo.URL, err = s.objects.Put(ctx, key, bytes.NewReader(data), size, mime.TypeByExtension(ext))
	if err != nil {
		return nil, fmt.Errorf("failed to store photo: %w", err)
	}
	stored := []string{key}

	if thumb, err := s.thumbnails.Render(data, meta.Orientation); err != nil {
		observability.WithContext(ctx).WithField("photo_id", photo.ID).Warnf("Thumbnail skipped: %v", err)
	} else {
		thumbKey := ThumbnailKey(photo.ID, photo.DateTaken)
		if url, err := s.objects.Put(ctx, thumbKey, bytes.NewReader(thumb), int64(len(thumb)), "image/jpeg"); err != nil {
			observability.WithContext(ctx).WithField("photo_id", photo.ID).Warnf("Thumbnail upload failed: %v", err)
		} else {
			photo.ThumbnailURL = url
			stored = append(stored, thumbKey)
		}
	}

	if err := s.photos.Add(ctx, photo); err != nil {
		s.discard(ctx, stored)
		return nil, fmt.Errorf("failed to save photo: %w", err)
	}

	observability.WithContext(ctx).WithFields(map[string]interface{}{
		"photo_id": photo.ID,
		"size":     size,
	}).Info("Photo uploaded")

	if s.publisher != nil {
		s.publisher.BroadcastToTopic(TopicPhotos, WSMessage{
			Type:    WSTypePhotoUploaded,
			Payload: PhotoUploadedPayload{PhotoID: photo.ID, Filename: photo.Filename},
		})
	}

	return &models.UploadResult{
		Photo:       photo,
		StoredKey:   key,
		FileSize:    size,
		Checksum:    checksum,
		HasEXIFDate: hasEXIFDate,
	}, nil
}

func (s *UploadService) discard(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.objects.Delete(ctx, key); err != nil {
			observability.WithContext(ctx).WithField("key", key).Warnf("Failed to remove orphaned object: %v", err)
		}
	}
}

// resolveDateTaken prefers an explicit form value over the EXIF capture date
func resolveDateTaken(explicit string, meta *EXIFData) (time.Time, bool, error) {
	if strings.TrimSpace(explicit) != "" {
		t, err := models.ParseDateTaken(explicit)
		return t, false, err
	}
	if meta.DateTaken != nil {
		return meta.DateTaken.UTC(), true, nil
	}
	return time.Time{}, false, models.ErrDateTakenRequired
}
