package registry

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrItemNotFound indicates an item was not found
	ErrItemNotFound = errors.New("item not found")

	// ErrVersionNotFound indicates a version was not found
	ErrVersionNotFound = errors.New("version not found")

	// ErrCommentNotFound indicates a comment was not found
	ErrCommentNotFound = errors.New("comment not found")

	// ErrVersionExists indicates the (item, version) pair already exists;
	// publishing is not an upsert
	ErrVersionExists = errors.New("version already exists")

	// ErrSlugTaken indicates another owner created the (kind, slug)
	// pair concurrently
	ErrSlugTaken = errors.New("slug already taken")

	// ErrAlreadyStarred indicates the user already starred the item
	ErrAlreadyStarred = errors.New("item already starred")

	// ErrAlreadyReported indicates the user already reported the item
	ErrAlreadyReported = errors.New("item already reported")

	// ErrForbidden indicates an ownership or role check failed
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidSlug indicates the slug is not lowercase url-safe
	ErrInvalidSlug = errors.New("slug must match ^[a-z0-9][a-z0-9-]*$")

	// ErrInvalidVersion indicates an empty or oversized version string
	ErrInvalidVersion = errors.New("invalid version string")

	// ErrNoFiles indicates an empty file manifest
	ErrNoFiles = errors.New("file manifest is empty")

	// ErrInvalidCursor indicates a malformed page cursor or a cursor
	// combined with a sort it cannot page
	ErrInvalidCursor = errors.New("invalid page cursor")

	// ErrEmptyComment indicates a blank comment body
	ErrEmptyComment = errors.New("comment body is required")

	// ErrItemRemoved indicates the item is in the terminal removed state
	ErrItemRemoved = errors.New("item has been removed")

	// ErrEmbeddingUnavailable indicates the embedding provider is down;
	// callers on the write path treat this as non-fatal
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrInconsistent indicates cursor/counter drift detected by a
	// consistency check; surfaced to operators, resolved by backfill
	ErrInconsistent = errors.New("counter drift detected")
)

// IsValidation reports whether err is caller-fixable input validation.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidSlug) ||
		errors.Is(err, ErrInvalidVersion) ||
		errors.Is(err, ErrNoFiles) ||
		errors.Is(err, ErrInvalidCursor) ||
		errors.Is(err, ErrEmptyComment)
}

// IsConflict reports whether err means the state already exists; callers
// should treat it as already-satisfied, not retry.
func IsConflict(err error) bool {
	return errors.Is(err, ErrVersionExists) ||
		errors.Is(err, ErrSlugTaken) ||
		errors.Is(err, ErrAlreadyStarred) ||
		errors.Is(err, ErrAlreadyReported)
}

// IsNotFound reports whether err is an unknown slug/item/version.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrVersionNotFound) ||
		errors.Is(err, ErrCommentNotFound)
}

// ItemError represents an error related to item operations
type ItemError struct {
	ItemID uuid.UUID
	Op     string
	Err    error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item operation %s failed for item %s: %v", e.Op, e.ItemID, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// VersionError represents an error related to version operations
type VersionError struct {
	VersionID uuid.UUID
	Op        string
	Err       error
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("version operation %s failed for version %s: %v", e.Op, e.VersionID, e.Err)
}

func (e *VersionError) Unwrap() error {
	return e.Err
}

// StorageError represents an error related to blob storage operations
type StorageError struct {
	Key string
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
