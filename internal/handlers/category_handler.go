package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gallery/server/internal/models"
	"github.com/gallery/server/internal/services"
)

// CategoryHandler handles category and membership endpoints
type CategoryHandler struct {
	gallery  *services.GalleryService
	ordering *services.OrderingService
}

// NewCategoryHandler creates a new CategoryHandler
func NewCategoryHandler(gallery *services.GalleryService, ordering *services.OrderingService) *CategoryHandler {
	return &CategoryHandler{gallery: gallery, ordering: ordering}
}

// List returns all categories
// @Summary List categories
// @Tags categories
// @Produce json
// @Success 200 {array} models.Category
// @Failure 503 {object} models.ErrorResponse
// @Router /api/categories [get]
func (h *CategoryHandler) List(w http.ResponseWriter, r *http.Request) {
	categories, err := h.gallery.ListCategories(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, categories)
}

// Create adds a category
// @Summary Create a category
// @Tags categories
// @Accept json
// @Produce json
// @Param body body models.CreateCategoryRequest true "Category"
// @Success 201 {object} models.Category
// @Failure 400 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/categories [post]
func (h *CategoryHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateCategoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	category, err := h.gallery.CreateCategory(r.Context(), &req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, category)
}

// Get returns a category with its photos in display order
// @Summary Get a category with ordered photos
// @Tags categories
// @Produce json
// @Param id path string true "Category ID"
// @Success 200 {object} models.CategoryDisplay
// @Failure 404 {object} models.ErrorResponse
// @Router /api/categories/{id} [get]
func (h *CategoryHandler) Get(w http.ResponseWriter, r *http.Request) {
	display, err := h.gallery.GetCategoryDisplay(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, display)
}

// Update applies a partial update to a category
// @Summary Update a category
// @Tags categories
// @Accept json
// @Produce json
// @Param id path string true "Category ID"
// @Param body body models.UpdateCategoryRequest true "Fields to change"
// @Success 200 {object} models.Category
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/categories/{id} [put]
func (h *CategoryHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdateCategoryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	category, err := h.gallery.UpdateCategory(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, category)
}

// Delete removes a category and its memberships
// @Summary Delete a category
// @Tags categories
// @Param id path string true "Category ID"
// @Success 204
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/categories/{id} [delete]
func (h *CategoryHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.gallery.DeleteCategory(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMemberships returns the ordered memberships of a category
// @Summary List memberships in display order
// @Tags memberships
// @Produce json
// @Param id path string true "Category ID"
// @Success 200 {object} models.MembershipListResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/categories/{id}/photos [get]
func (h *CategoryHandler) ListMemberships(w http.ResponseWriter, r *http.Request) {
	categoryID := chi.URLParam(r, "id")
	memberships, err := h.ordering.ListOrdered(r.Context(), categoryID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if memberships == nil {
		memberships = []*models.Membership{}
	}
	respondJSON(w, http.StatusOK, models.MembershipListResponse{
		CategoryID:  categoryID,
		Memberships: memberships,
	})
}

// AddMembership places a photo into a category
// @Summary Add a photo to a category
// @Description Without display_order the photo is appended. display_order must be in 1..N+1.
// @Description Request keys are snake_case (photoId and displayOrder are also accepted); responses are camelCase.
// @Tags memberships
// @Accept json
// @Produce json
// @Param id path string true "Category ID"
// @Param body body models.AddMembershipRequest true "Photo and optional position"
// @Success 201 {object} models.Membership
// @Failure 400 {object} models.ErrorResponse "display_order out of range"
// @Failure 404 {object} models.ErrorResponse "category or photo not found"
// @Failure 409 {object} models.ErrorResponse "duplicate membership or retryable conflict"
// @Security ApiKeyAuth
// @Router /api/categories/{id}/photos [post]
func (h *CategoryHandler) AddMembership(w http.ResponseWriter, r *http.Request) {
	var req models.AddMembershipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.PhotoID == "" {
		respondError(w, r, models.GalleryError{Kind: models.KindInvalidArgument, Code: "photo_id_required", Message: "photo_id is required"})
		return
	}

	membership, err := h.ordering.AddMembership(r.Context(), chi.URLParam(r, "id"), req.PhotoID, req.DisplayOrder)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, membership)
}

// MoveMembership repositions a photo within a category
// @Summary Move a photo within a category
// @Description display_order must be in 1..N. displayOrder is also accepted.
// @Tags memberships
// @Accept json
// @Produce json
// @Param id path string true "Category ID"
// @Param photoId path string true "Photo ID"
// @Param body body models.MoveMembershipRequest true "New position in 1..N"
// @Success 200 {object} models.Membership
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/categories/{id}/photos/{photoId} [put]
func (h *CategoryHandler) MoveMembership(w http.ResponseWriter, r *http.Request) {
	var req models.MoveMembershipRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	membership, err := h.ordering.MoveMembership(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "photoId"), req.DisplayOrder)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, membership)
}

// RemoveMembership takes a photo out of a category
// @Summary Remove a photo from a category
// @Tags memberships
// @Param id path string true "Category ID"
// @Param photoId path string true "Photo ID"
// @Success 204
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/categories/{id}/photos/{photoId} [delete]
func (h *CategoryHandler) RemoveMembership(w http.ResponseWriter, r *http.Request) {
	if err := h.ordering.RemoveMembership(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "photoId")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
