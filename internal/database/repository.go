package database

import (
	"context"
)

// ImageReader provides read-only access to the image library
type ImageReader interface {
	// Get retrieves a record by id, returns ErrNotFound if it does not exist
	Get(ctx context.Context, id int64) (*ImageRecord, error)
	// FindByFingerprint returns the record holding a fingerprint, or nil if none does
	FindByFingerprint(ctx context.Context, fingerprint string) (*ImageRecord, error)
	// List returns all records ordered by sort_order
	List(ctx context.Context) ([]ImageRecord, error)
	// Snapshot returns all records together with the library version they were read at
	Snapshot(ctx context.Context) (*Snapshot, error)
	// Version returns the current library version; it changes on every mutation
	Version(ctx context.Context) (int64, error)
	// ListMissingFingerprint returns legacy records that were stored without a fingerprint
	ListMissingFingerprint(ctx context.Context) ([]ImageRecord, error)
}

// ImageWriter provides write access to the image library.
// Every method runs in its own transaction and bumps the library version.
type ImageWriter interface {
	ImageReader

	// Create inserts a record at the end of the ordering and assigns its id and stored filename.
	// Returns ErrDuplicateFingerprint if the fingerprint is already held.
	Create(ctx context.Context, img NewImage) (*ImageRecord, error)

	// SaveAlignment stores the outcome of an alignment attempt
	SaveAlignment(ctx context.Context, id int64, update AlignmentUpdate) (*ImageRecord, error)

	// SetPhotoTimes stores resolved capture times
	SetPhotoTimes(ctx context.Context, times []PhotoTime) error

	// SetFingerprint fills the fingerprint of a legacy record
	SetFingerprint(ctx context.Context, id int64, fingerprint string) error

	// UpdateOrder applies a new total order computed from the current one.
	// The callback runs inside the transaction; an error from it aborts without changes.
	UpdateOrder(ctx context.Context, fn OrderFunc) error

	// ToggleIncluded flips included_in_video; returns ErrNotAligned for records without a raster
	ToggleIncluded(ctx context.Context, id int64) (*ImageRecord, error)

	// Delete removes a record and renormalizes sort_order
	Delete(ctx context.Context, id int64) (*ImageRecord, error)

	// DeleteNoFace removes every record whose last attempt found no face and renormalizes sort_order
	DeleteNoFace(ctx context.Context) ([]ImageRecord, error)
}

// VideoStore persists the singleton video artifact
type VideoStore interface {
	// SaveVideo replaces the artifact
	SaveVideo(ctx context.Context, video *VideoArtifact) error
	// LatestVideo returns the artifact, or nil if none was rendered yet
	LatestVideo(ctx context.Context) (*VideoArtifact, error)
}
