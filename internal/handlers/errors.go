package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gallery/server/internal/models"
	"github.com/gallery/server/internal/observability"
)

// maxJSONBody bounds JSON request bodies
const maxJSONBody = 1 << 20

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusFor maps an error kind to its HTTP status
func statusFor(kind models.ErrorKind) int {
	switch kind {
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindInvalidArgument:
		return http.StatusBadRequest
	case models.KindConflict:
		return http.StatusConflict
	case models.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case models.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the stable error body for err. Internal and store
// errors are logged and replaced by a generic message.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := models.KindOf(err)
	status := statusFor(kind)

	body := models.ErrorResponse{Error: string(kind), Message: err.Error()}

	var ge models.GalleryError
	var pe models.PhotoError
	var ce models.CategoryError
	switch {
	case errors.As(err, &ge):
		body.Error = ge.Code
		body.Message = ge.Message
	case errors.As(err, &pe):
		body.Error = "invalid_photo"
		body.Message = pe.Message
	case errors.As(err, &ce):
		body.Error = "invalid_category"
		body.Message = ce.Message
	}

	if kind == models.KindInternal {
		body.Error = "internal"
		body.Message = "internal server error"
	}
	body.Retryable = models.IsRetryable(err) || kind == models.KindStoreUnavailable

	if status >= http.StatusInternalServerError {
		observability.WithContext(r.Context()).WithFields(map[string]interface{}{
			"request_id": chimw.GetReqID(r.Context()),
			"path":       r.URL.Path,
		}).Errorf("Request failed: %v", err)
	}

	respondJSON(w, status, body)
}

// decodeJSON reads a bounded JSON body into dst
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return models.GalleryError{
			Kind:    models.KindInvalidArgument,
			Code:    "invalid_body",
			Message: "request body must be valid JSON",
		}
	}
	return nil
}
