package database

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("image not found")
	// ErrDuplicateFingerprint is returned by Create when another record already holds the fingerprint.
	ErrDuplicateFingerprint = errors.New("duplicate content fingerprint")
	// ErrNotAligned is returned when toggling inclusion of an image without an aligned raster.
	ErrNotAligned = errors.New("image has no aligned raster")
	// ErrOrderMismatch is returned when a computed ordering is not a permutation of the library.
	ErrOrderMismatch = errors.New("ordering does not cover the library")
	// ErrInvalidAlignment is returned when an update would set has_aligned without a detected face.
	ErrInvalidAlignment = errors.New("aligned raster requires a detected face")
)

// Sources of a resolved photo_taken_at value.
const (
	TakenSourceNone         = ""
	TakenSourceExif         = "exif"
	TakenSourceFilename     = "filename"
	TakenSourceInterpolated = "interpolated"
)

// Point is a pixel coordinate in the oriented original image.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ImageRecord represents one logically distinct photo in the library.
type ImageRecord struct {
	ID               int64      `json:"id"`
	Fingerprint      string     `json:"fingerprint,omitempty"`
	OriginalFilename string     `json:"original_filename"`
	SourceFilename   string     `json:"source_filename"`
	FaceDetected     *bool      `json:"face_detected"` // nil until the first alignment attempt
	HasAligned       bool       `json:"has_aligned"`
	IncludedInVideo  bool       `json:"included_in_video"`
	LeftEye          *Point     `json:"left_eye,omitempty"`
	RightEye         *Point     `json:"right_eye,omitempty"`
	PhotoTakenAt     *time.Time `json:"photo_taken_at"`
	PhotoTakenSource string     `json:"photo_taken_source,omitempty"`
	SortOrder        int        `json:"sort_order"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// FaceFound reports whether the last alignment attempt found a face.
func (r *ImageRecord) FaceFound() bool {
	return r.FaceDetected != nil && *r.FaceDetected
}

// FaceMissing reports whether the last alignment attempt explicitly found no face.
// Records never attempted are neither found nor missing.
func (r *ImageRecord) FaceMissing() bool {
	return r.FaceDetected != nil && !*r.FaceDetected
}

// Attempted reports whether alignment has run at least once for the record.
func (r *ImageRecord) Attempted() bool {
	return r.FaceDetected != nil
}

// Eligible reports whether the record is a frame of the video.
func (r *ImageRecord) Eligible() bool {
	return r.HasAligned && r.IncludedInVideo
}

// NewImage holds the fields needed to ingest an upload.
type NewImage struct {
	Fingerprint    string
	SourceFilename string
	Extension      string // lower-case with leading dot; the stored name becomes <id><ext>
}

// AlignmentUpdate is the result of one alignment attempt.
type AlignmentUpdate struct {
	FaceDetected    bool
	HasAligned      bool
	IncludedInVideo bool
	LeftEye         *Point
	RightEye        *Point
}

// PhotoTime assigns a resolved capture time to a record.
type PhotoTime struct {
	ID     int64
	At     time.Time
	Source string
}

// Snapshot is a consistent view of the library at a version.
type Snapshot struct {
	Version int64
	Images  []ImageRecord
}

// VideoArtifact describes the most recently rendered timelapse.
type VideoArtifact struct {
	FrameCount    int       `json:"frame_count"`
	FrameDuration float64   `json:"frame_duration"`
	TotalDuration float64   `json:"total_duration"`
	BlobKey       string    `json:"-"`
	Filename      string    `json:"video_filename"`
	ShowDates     bool      `json:"show_dates"`
	Birthday      string    `json:"birthday,omitempty"` // YYYY-MM-DD
	CreatedAt     time.Time `json:"created_at"`
}

// OrderFunc receives every record in current sort_order and returns the full
// id sequence in the desired new order.
type OrderFunc func(current []ImageRecord) ([]int64, error)
