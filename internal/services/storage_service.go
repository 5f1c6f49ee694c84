package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gallery/server/internal/models"
)

// ObjectStore holds uploaded originals and thumbnails. Keys use forward
// slashes and the Year/Month layout produced by ObjectKey.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (url string, err error)
	Delete(ctx context.Context, key string) error
	// KeyForURL maps a URL returned by Put back to its key
	KeyForURL(url string) (string, bool)
}

// ObjectKey builds the storage key for a photo file: YYYY/MM/{photoID}{ext}
func ObjectKey(photoID, filename string, dateTaken time.Time) string {
	ext := strings.ToLower(filepath.Ext(models.SanitizeFilename(filename)))
	return path.Join(dateTaken.Format("2006"), dateTaken.Format("01"), photoID+ext)
}

// ThumbnailKey builds the key of the thumbnail stored next to an original
func ThumbnailKey(photoID string, dateTaken time.Time) string {
	return path.Join(dateTaken.Format("2006"), dateTaken.Format("01"), ".thumbs", photoID+"_thumb.jpg")
}

// LocalObjectStore stores objects below a base directory and serves them
// under urlPrefix
type LocalObjectStore struct {
	basePath  string
	urlPrefix string
}

// NewLocalObjectStore creates a new LocalObjectStore
func NewLocalObjectStore(basePath, urlPrefix string) (*LocalObjectStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, err
	}

	// Ensure directory exists
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, err
	}

	return &LocalObjectStore{
		basePath:  absPath,
		urlPrefix: strings.TrimSuffix(urlPrefix, "/"),
	}, nil
}

// Root is the directory served under the URL prefix
func (s *LocalObjectStore) Root() string {
	return s.basePath
}

// Put writes body to the key's path. Existing objects are never overwritten.
func (s *LocalObjectStore) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	fullPath, err := s.fullPath(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", err
	}

	file, err := os.OpenFile(fullPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if _, err := io.Copy(file, body); err != nil {
		os.Remove(fullPath) // Clean up on error
		return "", err
	}

	return s.urlPrefix + "/" + key, nil
}

// Delete removes an object. Missing objects are not an error.
func (s *LocalObjectStore) Delete(ctx context.Context, key string) error {
	fullPath, err := s.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// KeyForURL strips the URL prefix
func (s *LocalObjectStore) KeyForURL(url string) (string, bool) {
	key, ok := strings.CutPrefix(url, s.urlPrefix+"/")
	if !ok || key == "" {
		return "", false
	}
	return key, true
}

// Exists checks if an object exists at the given key
func (s *LocalObjectStore) Exists(key string) bool {
	fullPath, err := s.fullPath(key)
	if err != nil {
		return false
	}

	_, err = os.Stat(fullPath)
	return err == nil
}

func (s *LocalObjectStore) fullPath(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("object key cannot be empty")
	}

	fullPath := filepath.Join(s.basePath, filepath.FromSlash(key))

	// Security check
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(absPath, s.basePath+string(os.PathSeparator)) {
		return "", models.ErrPathTraversal
	}

	return absPath, nil
}
