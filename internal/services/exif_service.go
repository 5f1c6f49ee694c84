package services

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// earliestPhotoDate rejects unset camera clocks that report years like 0001
var earliestPhotoDate = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// EXIFData is the metadata an upload takes from the image when the form
// leaves it out
type EXIFData struct {
	Orientation int
	DateTaken   *time.Time
	Latitude    *float64
	Longitude   *float64
}

// EXIFService reads upload metadata from EXIF
type EXIFService struct {
	now func() time.Time
}

// NewEXIFService creates a new EXIFService
func NewEXIFService() *EXIFService {
	return &EXIFService{now: time.Now}
}

// ExtractFromBytes never fails: images without usable EXIF yield empty data
// with orientation 1
func (s *EXIFService) ExtractFromBytes(data []byte) *EXIFData {
	result := &EXIFData{Orientation: 1}

	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return result
	}

	if tag, err := x.Get(exif.Orientation); err == nil {
		if val, err := tag.Int(0); err == nil && val >= 1 && val <= 8 {
			result.Orientation = val
		}
	}

	// DateTimeOriginal, falling back to DateTime
	if tm, err := x.DateTime(); err == nil && s.plausibleDate(tm) {
		result.DateTaken = &tm
	}

	if lat, lng, err := x.LatLong(); err == nil && plausibleCoordinates(lat, lng) {
		result.Latitude = &lat
		result.Longitude = &lng
	}

	return result
}

// plausibleDate allows a day of clock skew into the future
func (s *EXIFService) plausibleDate(tm time.Time) bool {
	return !tm.Before(earliestPhotoDate) && tm.Before(s.now().Add(24*time.Hour))
}

// plausibleCoordinates drops 0,0, which cameras write when they have no fix
func plausibleCoordinates(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) {
		return false
	}
	if lat == 0 && lng == 0 {
		return false
	}
	return math.Abs(lat) <= 90 && math.Abs(lng) <= 180
}

// Location formats the GPS position, or returns "" when the image has none
func (d *EXIFData) Location() string {
	if d.Latitude == nil || d.Longitude == nil {
		return ""
	}
	return FormatCoordinates(*d.Latitude, *d.Longitude)
}

// FormatCoordinates renders lat/lng with hemisphere letters, e.g. "38.722300°N, 9.139300°W"
func FormatCoordinates(lat, lng float64) string {
	latDir := "N"
	if lat < 0 {
		latDir = "S"
	}
	lngDir := "E"
	if lng < 0 {
		lngDir = "W"
	}
	return fmt.Sprintf("%.6f°%s, %.6f°%s", math.Abs(lat), latDir, math.Abs(lng), lngDir)
}
