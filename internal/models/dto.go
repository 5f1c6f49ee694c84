package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// CreatePhotoRequest is the JSON body for creating a photo record
type CreatePhotoRequest struct {
	Title         string  `json:"title"`
	Description   *string `json:"description,omitempty"`
	Filename      string  `json:"filename"`
	LocationTaken string  `json:"locationTaken"`
	DateTaken     string  `json:"dateTaken"`
	URL           string  `json:"url,omitempty"`
}

// UpdatePhotoRequest is a partial update; nil fields keep their current value
type UpdatePhotoRequest struct {
	Title         *string `json:"title,omitempty"`
	Description   *string `json:"description,omitempty"`
	Filename      *string `json:"filename,omitempty"`
	LocationTaken *string `json:"locationTaken,omitempty"`
	DateTaken     *string `json:"dateTaken,omitempty"`
}

// PhotoListResponse is returned when listing photos
type PhotoListResponse struct {
	Photos     []*Photo `json:"photos"`
	TotalCount int      `json:"totalCount"`
	Skip       int      `json:"skip"`
	Take       int      `json:"take"`
}

// PhotoDetailResponse is a photo plus the categories it belongs to
type PhotoDetailResponse struct {
	*Photo
	CategoryIDs []string `json:"categoryIds"`
}

// CreateCategoryRequest is the JSON body for creating a category
type CreateCategoryRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

// UpdateCategoryRequest is a partial update; nil fields keep their current value
type UpdateCategoryRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// CategoryDisplay is a category with its photos in display order
type CategoryDisplay struct {
	Category *Category             `json:"category"`
	Photos   []MembershipWithPhoto `json:"photos"`
}

// AddMembershipRequest places a photo into a category. Without display_order
// the photo is appended. The camelCase spellings used by responses are
// accepted too.
type AddMembershipRequest struct {
	PhotoID      string `json:"photo_id"`
	DisplayOrder *int   `json:"display_order,omitempty"`
}

// UnmarshalJSON accepts photo_id/photoId and display_order/displayOrder.
// The snake_case key wins when both are present.
func (r *AddMembershipRequest) UnmarshalJSON(data []byte) error {
	var body struct {
		PhotoID           string `json:"photo_id"`
		PhotoIDCamel      string `json:"photoId"`
		DisplayOrder      *int   `json:"display_order"`
		DisplayOrderCamel *int   `json:"displayOrder"`
	}
	if err := decodeStrict(data, &body); err != nil {
		return err
	}
	r.PhotoID = firstNonEmpty(body.PhotoID, body.PhotoIDCamel)
	r.DisplayOrder = body.DisplayOrder
	if r.DisplayOrder == nil {
		r.DisplayOrder = body.DisplayOrderCamel
	}
	return nil
}

// MoveMembershipRequest repositions a photo within a category
type MoveMembershipRequest struct {
	DisplayOrder int `json:"display_order"`
}

// UnmarshalJSON accepts display_order or displayOrder
func (r *MoveMembershipRequest) UnmarshalJSON(data []byte) error {
	var body struct {
		DisplayOrder      *int `json:"display_order"`
		DisplayOrderCamel *int `json:"displayOrder"`
	}
	if err := decodeStrict(data, &body); err != nil {
		return err
	}
	switch {
	case body.DisplayOrder != nil:
		r.DisplayOrder = *body.DisplayOrder
	case body.DisplayOrderCamel != nil:
		r.DisplayOrder = *body.DisplayOrderCamel
	}
	return nil
}

// decodeStrict keeps unknown keys an error inside custom unmarshalers
func decodeStrict(data []byte, dst interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// MembershipListResponse is the ordered membership list of a category
type MembershipListResponse struct {
	CategoryID  string        `json:"categoryId"`
	Memberships []*Membership `json:"memberships"`
}

// UploadResult is returned after uploading a photo file
type UploadResult struct {
	Photo       *Photo `json:"photo"`
	StoredKey   string `json:"storedKey"`
	FileSize    int64  `json:"fileSize"`
	Checksum    string `json:"checksum"`
	HasEXIFDate bool   `json:"hasExifDate"`
}

// HealthResponse is returned by health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}
