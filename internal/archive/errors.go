package archive

import (
	"errors"
	"fmt"

	"github.com/sujalbistaa/skyarchive/internal/store"
)

// ErrValidation is the parent of every input error; callers must correct the
// request rather than retry it.
var ErrValidation = errors.New("invalid request")

var (
	ErrEmptyUpload      = fmt.Errorf("%w: no image uploaded", ErrValidation)
	ErrInvalidMediaType = fmt.Errorf("%w: only image uploads are allowed", ErrValidation)
	ErrPayloadTooLarge  = fmt.Errorf("%w: image must be 10MB or smaller", ErrValidation)
	ErrInvalidFilter    = fmt.Errorf("%w: malformed filter", ErrValidation)
)

var (
	// ErrDuplicateContent accompanies the already archived photo.
	ErrDuplicateContent = errors.New("this image already exists in the archive")
	// ErrNotFound covers both missing and hidden photos.
	ErrNotFound      = errors.New("image not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidAction = errors.New("invalid action")
	// ErrUploadFailed and ErrStorage are transient; nothing was persisted.
	ErrUploadFailed = errors.New("image upload failed")
	ErrStorage      = errors.New("storage unavailable")
)

func storageErr(op string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
