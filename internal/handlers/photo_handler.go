package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/gallery/server/internal/models"
	"github.com/gallery/server/internal/services"
)

// multipart memory before spilling to temp files
const uploadMemory = 32 << 20

// PhotoHandler handles photo-related HTTP requests
type PhotoHandler struct {
	gallery     *services.GalleryService
	uploads     *services.UploadService
	maxFileSize int64
}

// NewPhotoHandler creates a new PhotoHandler
func NewPhotoHandler(gallery *services.GalleryService, uploads *services.UploadService, maxFileSize int64) *PhotoHandler {
	return &PhotoHandler{
		gallery:     gallery,
		uploads:     uploads,
		maxFileSize: maxFileSize,
	}
}

// Upload handles photo upload
// @Summary Upload a photo
// @Description Upload a photo file. dateTaken and locationTaken fall back to EXIF data when omitted.
// @Tags photos
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Photo file"
// @Param title formData string false "Title, defaults to the file name"
// @Param description formData string false "Description"
// @Param locationTaken formData string false "Where the photo was taken"
// @Param dateTaken formData string false "YYYY-MM-DD or RFC3339"
// @Param checksum formData string false "SHA-256 of the file, rejected on mismatch"
// @Success 201 {object} models.UploadResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/photos/upload [post]
func (h *PhotoHandler) Upload(w http.ResponseWriter, r *http.Request) {
	// Leave room for the other form fields
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+uploadMemory)
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		respondError(w, r, models.ErrFileTooLarge)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, models.ErrEmptyUpload)
		return
	}
	defer file.Close()

	req := services.UploadRequest{
		Filename:      header.Filename,
		Body:          file,
		Title:         r.FormValue("title"),
		LocationTaken: r.FormValue("locationTaken"),
		DateTaken:     r.FormValue("dateTaken"),
		Checksum:      r.FormValue("checksum"),
	}
	if desc := r.FormValue("description"); desc != "" {
		req.Description = &desc
	}

	result, err := h.uploads.Upload(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, result)
}

// List returns paginated photos
// @Summary List photos
// @Tags photos
// @Produce json
// @Param skip query int false "Number of photos to skip"
// @Param take query int false "Page size, at most 500"
// @Success 200 {object} models.PhotoListResponse
// @Router /api/photos [get]
func (h *PhotoHandler) List(w http.ResponseWriter, r *http.Request) {
	skip, take := 0, 0
	if s := r.URL.Query().Get("skip"); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			skip = v
		}
	}
	if t := r.URL.Query().Get("take"); t != "" {
		if v, err := strconv.Atoi(t); err == nil {
			take = v
		}
	}

	page, err := h.gallery.ListPhotos(r.Context(), skip, take)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// Get returns a single photo with the categories it is in
// @Summary Get a photo
// @Tags photos
// @Produce json
// @Param id path string true "Photo ID"
// @Success 200 {object} models.PhotoDetailResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/photos/{id} [get]
func (h *PhotoHandler) Get(w http.ResponseWriter, r *http.Request) {
	photo, err := h.gallery.GetPhoto(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, photo)
}

// Create adds a photo record for a file that is already hosted
// @Summary Create a photo record
// @Tags photos
// @Accept json
// @Produce json
// @Param body body models.CreatePhotoRequest true "Photo"
// @Success 201 {object} models.Photo
// @Failure 400 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/photos [post]
func (h *PhotoHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePhotoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.URL != "" && !isPhotoURL(req.URL) {
		respondError(w, r, models.GalleryError{Kind: models.KindInvalidArgument, Code: "invalid_url", Message: "url must be http(s) or a server path"})
		return
	}

	photo, err := h.gallery.CreatePhoto(r.Context(), &req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, photo)
}

// Update applies a partial update to a photo
// @Summary Update a photo
// @Tags photos
// @Accept json
// @Produce json
// @Param id path string true "Photo ID"
// @Param body body models.UpdatePhotoRequest true "Fields to change"
// @Success 200 {object} models.Photo
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/photos/{id} [put]
func (h *PhotoHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req models.UpdatePhotoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}

	photo, err := h.gallery.UpdatePhoto(r.Context(), chi.URLParam(r, "id"), &req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, photo)
}

// Delete removes a photo from every category, then deletes it and its files
// @Summary Delete a photo
// @Tags photos
// @Param id path string true "Photo ID"
// @Success 204
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /api/photos/{id} [delete]
func (h *PhotoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.gallery.DeletePhoto(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// isPhotoURL accepts absolute http(s) URLs and server-relative paths
func isPhotoURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "/")
}
