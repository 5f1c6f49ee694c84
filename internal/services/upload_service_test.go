package services

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gallery/server/internal/models"
	"github.com/gallery/server/internal/repository"
)

func testJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), 128, 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func newTestUploadService(t *testing.T, maxSize int64) (*UploadService, *repository.Store, *LocalObjectStore, *recordingPublisher) {
	store := repository.NewInMemoryStore()
	objects := setupTestStorage(t)
	pub := &recordingPublisher{}
	svc := NewUploadService(store.Photos, objects, NewEXIFService(), NewThumbnailService(64, 80), pub, nil,
		[]string{".jpg", ".jpeg", ".png"}, maxSize)
	return svc, store, objects, pub
}

func TestUploadService_Upload(t *testing.T) {
	ctx := context.Background()

	t.Run("stores original and thumbnail then creates the photo", func(t *testing.T) {
		svc, store, objects, pub := newTestUploadService(t, 1<<20)

		result, err := svc.Upload(ctx, UploadRequest{
			Filename:      "beach.jpg",
			Body:          bytes.NewReader(testJPEG(t, 200, 100)),
			LocationTaken: "Algarve",
			DateTaken:     "2023-08-14",
		})
		require.NoError(t, err)

		photo := result.Photo
		assert.Equal(t, "beach", photo.Title)
		assert.Equal(t, "Algarve", photo.LocationTaken)
		assert.Equal(t, "/media/2023/08/"+photo.ID+".jpg", photo.URL)
		assert.Equal(t, "/media/2023/08/.thumbs/"+photo.ID+"_thumb.jpg", photo.ThumbnailURL)
		assert.False(t, result.HasEXIFDate)
		assert.True(t, objects.Exists(result.StoredKey))

		saved, err := store.Photos.GetByID(ctx, photo.ID)
		require.NoError(t, err)
		require.NotNil(t, saved)
		assert.Equal(t, photo.URL, saved.URL)

		assert.Equal(t, []string{WSTypePhotoUploaded}, pub.types())
	})

	t.Run("date is required without exif", func(t *testing.T) {
		svc, store, _, _ := newTestUploadService(t, 1<<20)

		_, err := svc.Upload(ctx, UploadRequest{
			Filename:      "nodate.jpg",
			Body:          bytes.NewReader(testJPEG(t, 10, 10)),
			LocationTaken: "Home",
		})
		assert.ErrorIs(t, err, models.ErrDateTakenRequired)

		count, err := store.Photos.GetCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)
	})

	t.Run("rejects disallowed extensions", func(t *testing.T) {
		svc, _, _, _ := newTestUploadService(t, 1<<20)
		for _, name := range []string{"file.exe", "file.sh", "noext"} {
			_, err := svc.Upload(ctx, UploadRequest{Filename: name, Body: strings.NewReader("x")})
			assert.ErrorIs(t, err, models.ErrInvalidExtension, name)
		}
	})

	t.Run("rejects empty and oversized files", func(t *testing.T) {
		svc, _, _, _ := newTestUploadService(t, 16)

		_, err := svc.Upload(ctx, UploadRequest{Filename: "a.jpg", Body: strings.NewReader("")})
		assert.ErrorIs(t, err, models.ErrEmptyUpload)

		_, err = svc.Upload(ctx, UploadRequest{Filename: "a.jpg", Body: strings.NewReader(strings.Repeat("x", 17))})
		assert.ErrorIs(t, err, models.ErrFileTooLarge)
	})

	t.Run("verifies a client checksum before storing", func(t *testing.T) {
		svc, store, objects, _ := newTestUploadService(t, 1<<20)
		data := testJPEG(t, 20, 20)
		sum := NewHashService().Sum(data)

		_, err := svc.Upload(ctx, UploadRequest{
			Filename: "a.jpg", Body: bytes.NewReader(data), LocationTaken: "x", DateTaken: "2020-01-01",
			Checksum: NewHashService().Sum([]byte("something else")),
		})
		assert.ErrorIs(t, err, models.ErrChecksumMismatch)
		count, err := store.Photos.GetCount(ctx)
		require.NoError(t, err)
		assert.Zero(t, count)

		result, err := svc.Upload(ctx, UploadRequest{
			Filename: "a.jpg", Body: bytes.NewReader(data), LocationTaken: "x", DateTaken: "2020-01-01",
			Checksum: "sha256:" + sum,
		})
		require.NoError(t, err)
		assert.Equal(t, sum, result.Checksum)
		assert.True(t, objects.Exists(result.StoredKey))
	})

	t.Run("undecodable image is stored without thumbnail", func(t *testing.T) {
		svc, _, _, _ := newTestUploadService(t, 1<<20)

		result, err := svc.Upload(ctx, UploadRequest{
			Filename:      "broken.jpg",
			Body:          strings.NewReader("not really a jpeg"),
			Title:         "Broken",
			LocationTaken: "Nowhere",
			DateTaken:     "2020-01-01",
		})
		require.NoError(t, err)
		assert.Equal(t, "Broken", result.Photo.Title)
		assert.Empty(t, result.Photo.ThumbnailURL)
	})
}

func TestThumbnailService_Render(t *testing.T) {
	svc := NewThumbnailService(50, 80)

	t.Run("bounds the longer side", func(t *testing.T) {
		out, err := svc.Render(testJPEG(t, 200, 100), 1)
		require.NoError(t, err)

		img, err := jpeg.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, 50, img.Bounds().Dx())
		assert.Equal(t, 25, img.Bounds().Dy())
	})

	t.Run("rotates by exif orientation", func(t *testing.T) {
		out, err := svc.Render(testJPEG(t, 40, 20), 6)
		require.NoError(t, err)

		img, err := jpeg.Decode(bytes.NewReader(out))
		require.NoError(t, err)
		assert.Equal(t, 20, img.Bounds().Dx())
		assert.Equal(t, 40, img.Bounds().Dy())
	})

	t.Run("rejects non images", func(t *testing.T) {
		_, err := svc.Render([]byte("nope"), 1)
		assert.Error(t, err)
	})
}

func TestEXIFService(t *testing.T) {
	t.Run("image without exif", func(t *testing.T) {
		meta := NewEXIFService().ExtractFromBytes(testJPEG(t, 4, 4))
		assert.Equal(t, 1, meta.Orientation)
		assert.Nil(t, meta.DateTaken)
		assert.Empty(t, meta.Location())
	})

	t.Run("implausible dates are ignored", func(t *testing.T) {
		now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		svc := &EXIFService{now: func() time.Time { return now }}

		assert.True(t, svc.plausibleDate(time.Date(2019, 3, 2, 10, 0, 0, 0, time.UTC)))
		assert.True(t, svc.plausibleDate(now.Add(time.Hour)))
		assert.False(t, svc.plausibleDate(time.Time{}))
		assert.False(t, svc.plausibleDate(now.Add(48*time.Hour)))
	})

	t.Run("coordinates", func(t *testing.T) {
		assert.True(t, plausibleCoordinates(38.7223, -9.1393))
		assert.False(t, plausibleCoordinates(0, 0))
		assert.False(t, plausibleCoordinates(91, 10))
		assert.Equal(t, "38.722300°N, 9.139300°W", FormatCoordinates(38.7223, -9.1393))
		assert.Equal(t, "33.868800°S, 151.209300°E", FormatCoordinates(-33.8688, 151.2093))
	})
}
