package services

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/jdeng/goheif"
)

// ThumbnailService renders JPEG thumbnails in memory
type ThumbnailService struct {
	maxDim  int
	quality int
}

// NewThumbnailService creates a new ThumbnailService. maxDim bounds the longer side.
func NewThumbnailService(maxDim, quality int) *ThumbnailService {
	return &ThumbnailService{maxDim: maxDim, quality: quality}
}

// Render decodes imageData, corrects EXIF orientation and returns JPEG bytes
// no larger than maxDim on either side
func (s *ThumbnailService) Render(imageData []byte, orientation int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		// Try HEIC
		img, err = goheif.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
	}

	img = applyOrientation(img, orientation)

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > s.maxDim || height > s.maxDim {
		// Resize using high-quality Lanczos filter; 0 keeps the aspect ratio
		if width >= height {
			img = imaging.Resize(img, s.maxDim, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, s.maxDim, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// applyOrientation corrects image orientation based on EXIF data
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case 2:
		return imaging.FlipH(img)
	case 3:
		return imaging.Rotate180(img)
	case 4:
		return imaging.FlipV(img)
	case 5:
		// Transpose
		return imaging.Rotate270(imaging.FlipH(img))
	case 6:
		// Rotate 90 CW
		return imaging.Rotate270(img)
	case 7:
		// Transverse
		return imaging.Rotate90(imaging.FlipH(img))
	case 8:
		// Rotate 90 CCW
		return imaging.Rotate90(img)
	default:
		return img
	}
}
