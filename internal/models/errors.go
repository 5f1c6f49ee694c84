package models

import "errors"

// ErrorKind groups errors into the classes the HTTP layer maps to status codes
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindConflict         ErrorKind = "conflict"
	KindInvalidArgument  ErrorKind = "invalid_argument"
	KindStoreUnavailable ErrorKind = "store_unavailable"
	KindUnauthorized     ErrorKind = "unauthorized"
	KindInternal         ErrorKind = "internal"
)

// GalleryError is a comparable error value so sentinels work with errors.Is
type GalleryError struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e GalleryError) Error() string {
	return e.Message
}

var (
	ErrCategoryNotFound   = GalleryError{KindNotFound, "category_not_found", "category not found"}
	ErrPhotoNotFound      = GalleryError{KindNotFound, "photo_not_found", "photo not found"}
	ErrMembershipNotFound = GalleryError{KindNotFound, "membership_not_found", "photo is not in this category"}

	ErrDuplicateMembership = GalleryError{KindConflict, "duplicate_membership", "photo is already in this category"}
	ErrConflict            = GalleryError{KindConflict, "conflict", "concurrent update conflict, retry the request"}
	ErrPhotoInUse          = GalleryError{KindConflict, "photo_in_use", "photo was added to a category while being deleted"}

	ErrInvalidPosition = GalleryError{KindInvalidArgument, "invalid_position", "display order is out of range"}

	ErrStoreUnavailable = GalleryError{KindStoreUnavailable, "store_unavailable", "storage backend unavailable"}

	ErrOrderingCorrupt = GalleryError{KindInternal, "ordering_corrupt", "category display order is not packed"}

	ErrUnauthorized    = GalleryError{KindUnauthorized, "unauthorized", "authentication required"}
	ErrOAuthDisabled   = GalleryError{KindNotFound, "oauth_disabled", "oauth login is not configured"}
	ErrInvalidState    = GalleryError{KindInvalidArgument, "invalid_state", "login state does not match"}
	ErrInvalidArgument = GalleryError{KindInvalidArgument, "invalid_argument", "invalid request"}
)

// KindOf resolves the kind of a (possibly wrapped) error. Unknown errors are internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ge GalleryError
	if errors.As(err, &ge) {
		return ge.Kind
	}
	var pe PhotoError
	if errors.As(err, &pe) {
		return KindInvalidArgument
	}
	var ce CategoryError
	if errors.As(err, &ce) {
		return KindInvalidArgument
	}
	return KindInternal
}

// IsRetryable reports whether a failed operation may be safely attempted again
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}
