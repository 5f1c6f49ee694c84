package models

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Photo is a gallery photo. Category placement lives in Membership.
type Photo struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   *string   `json:"description,omitempty"`
	Filename      string    `json:"filename"`
	LocationTaken string    `json:"locationTaken"`
	DateTaken     time.Time `json:"dateTaken"`
	URL           string    `json:"url,omitempty"`
	ThumbnailURL  string    `json:"thumbnailUrl,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewPhoto creates a new Photo with validation and sanitization
func NewPhoto(title, filename, locationTaken string, dateTaken time.Time) (*Photo, error) {
	if strings.TrimSpace(title) == "" {
		return nil, ErrTitleRequired
	}
	if strings.TrimSpace(filename) == "" {
		return nil, ErrFilenameRequired
	}
	if strings.TrimSpace(locationTaken) == "" {
		return nil, ErrLocationRequired
	}
	if dateTaken.IsZero() {
		return nil, ErrDateTakenRequired
	}

	now := time.Now().UTC()
	return &Photo{
		ID:            uuid.New().String(),
		Title:         strings.TrimSpace(title),
		Filename:      SanitizeFilename(filename),
		LocationTaken: strings.TrimSpace(locationTaken),
		DateTaken:     dateTaken.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// ApplyUpdate overwrites the fields present in req and keeps the rest
func (p *Photo) ApplyUpdate(req *UpdatePhotoRequest) error {
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return ErrTitleRequired
		}
		p.Title = strings.TrimSpace(*req.Title)
	}
	if req.Filename != nil {
		if strings.TrimSpace(*req.Filename) == "" {
			return ErrFilenameRequired
		}
		p.Filename = SanitizeFilename(*req.Filename)
	}
	if req.LocationTaken != nil {
		if strings.TrimSpace(*req.LocationTaken) == "" {
			return ErrLocationRequired
		}
		p.LocationTaken = strings.TrimSpace(*req.LocationTaken)
	}
	if req.DateTaken != nil {
		d, err := ParseDateTaken(*req.DateTaken)
		if err != nil {
			return err
		}
		p.DateTaken = d
	}
	if req.Description != nil {
		p.Description = req.Description
	}
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// ParseDateTaken accepts either a plain date (2006-01-02) or RFC3339
func ParseDateTaken(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrDateTakenRequired
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, ErrInvalidDateTaken
}

// SanitizeFilename removes path components and invalid characters
func SanitizeFilename(filename string) string {
	name := filepath.Base(filename)

	replacer := strings.NewReplacer(
		"..", "",
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)

	return replacer.Replace(name)
}

// PhotoError is a validation error on photo input
type PhotoError struct {
	Message string
}

func (e PhotoError) Error() string {
	return e.Message
}

var (
	ErrTitleRequired     = PhotoError{"title is required"}
	ErrFilenameRequired  = PhotoError{"filename is required"}
	ErrLocationRequired  = PhotoError{"location taken is required"}
	ErrDateTakenRequired = PhotoError{"date taken is required"}
	ErrInvalidDateTaken  = PhotoError{"date taken must be YYYY-MM-DD or RFC3339"}
	ErrFileTooLarge      = PhotoError{"file size exceeds maximum allowed"}
	ErrInvalidExtension  = PhotoError{"file type not allowed"}
	ErrPathTraversal     = PhotoError{"invalid file path"}
	ErrEmptyUpload       = PhotoError{"no file provided or file is empty"}
	ErrInvalidChecksum   = PhotoError{"checksum must be a hex SHA-256 digest"}
	ErrChecksumMismatch  = PhotoError{"file content does not match checksum"}
)
