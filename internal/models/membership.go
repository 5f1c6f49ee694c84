package models

import (
	"fmt"
	"time"
)

// Membership links a photo into a category at a 1-based display position.
// Positions within one category always form exactly 1..N.
type Membership struct {
	CategoryID   string    `json:"categoryId"`
	PhotoID      string    `json:"photoId"`
	DisplayOrder int       `json:"displayOrder"`
	AddedAt      time.Time `json:"addedAt"`
}

// NewMembership creates a membership at the given position
func NewMembership(categoryID, photoID string, position int) *Membership {
	return &Membership{
		CategoryID:   categoryID,
		PhotoID:      photoID,
		DisplayOrder: position,
		AddedAt:      time.Now().UTC(),
	}
}

// MembershipWithPhoto includes photo metadata for API responses
type MembershipWithPhoto struct {
	Membership
	Photo *Photo `json:"photo,omitempty"`
}

// CheckPacked verifies that memberships, sorted by display order, cover exactly 1..N
func CheckPacked(memberships []*Membership) error {
	seen := make(map[string]bool, len(memberships))
	for i, m := range memberships {
		if m.DisplayOrder != i+1 {
			return fmt.Errorf("%w: position %d holds display_order %d", ErrOrderingCorrupt, i+1, m.DisplayOrder)
		}
		if seen[m.PhotoID] {
			return fmt.Errorf("%w: photo %s listed twice", ErrOrderingCorrupt, m.PhotoID)
		}
		seen[m.PhotoID] = true
	}
	return nil
}
