package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category is a named, ordered group of photos
type Category struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`

	// Computed, not stored
	PhotoCount int `json:"photoCount"`
}

// NewCategory creates a new category with a generated ID
func NewCategory(name string, description *string) (*Category, error) {
	if strings.TrimSpace(name) == "" {
		return nil, ErrCategoryNameRequired
	}

	now := time.Now().UTC()
	return &Category{
		ID:          uuid.New().String(),
		Name:        strings.TrimSpace(name),
		Description: description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// ApplyUpdate overwrites the fields present in req
func (c *Category) ApplyUpdate(req *UpdateCategoryRequest) error {
	if req.Name != nil {
		if strings.TrimSpace(*req.Name) == "" {
			return ErrCategoryNameRequired
		}
		c.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		c.Description = req.Description
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// CategoryError is a validation error on category input
type CategoryError struct {
	Message string
}

func (e CategoryError) Error() string {
	return e.Message
}

var (
	ErrCategoryNameRequired = CategoryError{"category name is required"}
)
