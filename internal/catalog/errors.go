package catalog

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/bartek5186/catalogsync/internal/credentials"
	"github.com/bartek5186/catalogsync/internal/integrations/square"
)

var (
	// ErrAuth is a 401 from Square. Terminal, never retried.
	ErrAuth = errors.New("square authentication failed")

	// ErrVersionConflict is returned after the single refresh-and-retry also
	// hit a stale version.
	ErrVersionConflict = errors.New("catalog version conflict")

	// ErrNotLinked means the entity has no remote ID to act on.
	ErrNotLinked = errors.New("not linked to square")

	ErrImageUpload = errors.New("image upload failed")

	errNoImage = errors.New("product has no local image")
)

// DependencyError aborts a product sync whose category could not be synced.
// No item-level remote call was made.
type DependencyError struct {
	CategoryID uint
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("category %d sync failed: %v", e.CategoryID, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

// ImageUploadError leaves the item linked without an image.
type ImageUploadError struct {
	ProductID uint
	Err       error
}

func (e *ImageUploadError) Error() string {
	return fmt.Sprintf("image upload for product %d failed: %v", e.ProductID, e.Err)
}

func (e *ImageUploadError) Unwrap() error { return e.Err }

func (e *ImageUploadError) Is(target error) bool { return target == ErrImageUpload }

type CategoryError struct {
	CategoryID uint
	StatusCode int
	Body       string
	Err        error
}

func (e *CategoryError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("category %d: square error (HTTP %d): %s", e.CategoryID, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("category %d: %v", e.CategoryID, e.Err)
}

func (e *CategoryError) Unwrap() error { return e.Err }

// SyncError is a terminal item sync failure. Body carries the remote error
// response verbatim.
type SyncError struct {
	ProductID  uint
	State      State
	StatusCode int
	Body       string
	Err        error
}

func (e *SyncError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("product %d (%s): square error (HTTP %d): %s", e.ProductID, e.State, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("product %d (%s): %v", e.ProductID, e.State, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// ConflictError refuses a category delete while products are still linked.
type ConflictError struct {
	CategoryID uint
	ProductIDs []uint
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("category %d is still used by linked products: %s", e.CategoryID, joinIDs(e.ProductIDs))
}

// authOr maps a 401 to ErrAuth and leaves other errors untouched.
func authOr(err error) error {
	if apiErr, ok := square.AsAPIError(err); ok && apiErr.IsUnauthorized() {
		return fmt.Errorf("%w: %w", ErrAuth, apiErr)
	}
	return err
}

// Retryable reports failures that may succeed on a later attempt: exhausted
// version conflicts, transport errors and 429/5xx responses.
func Retryable(err error) bool {
	switch {
	case err == nil, errors.Is(err, credentials.ErrNotConfigured), errors.Is(err, ErrAuth):
		return false
	case errors.Is(err, ErrVersionConflict):
		return true
	}
	if apiErr, ok := square.AsAPIError(err); ok {
		return apiErr.IsTransient()
	}
	var ue *url.Error
	return errors.As(err, &ue) || square.IsTimeout(err)
}
